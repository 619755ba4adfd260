package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
)

const rescueChannelType = "food_rescue"

// httpCredentialProvider reads broker credentials from the home feed's
// subscription channels.
type httpCredentialProvider struct {
	api        *APIClient
	tokens     repo.TokenSource
	brokerHost string
	log        *zap.Logger
}

// NewHTTPCredentialProvider creates a provider backed by the rescue API.
func NewHTTPCredentialProvider(api *APIClient, tokens repo.TokenSource, brokerHost string, log *zap.Logger) repo.CredentialProvider {
	return &httpCredentialProvider{api: api, tokens: tokens, brokerHost: brokerHost, log: log.Named("credentials")}
}

type tabbedHomeResponse struct {
	Location struct {
		City struct {
			ID int `json:"id"`
		} `json:"city"`
	} `json:"location"`
	Channels []struct {
		Type   string   `json:"type"`
		Name   []string `json:"name"`
		QoS    int      `json:"qos"`
		Time   int64    `json:"time"`
		Client struct {
			Username  string `json:"username"`
			Password  string `json:"password"`
			KeepAlive int    `json:"keepalive"`
		} `json:"client"`
	} `json:"subscription_channels"`
}

// GetCurrentCredentials returns nil when the feed has no rescue channel.
func (p *httpCredentialProvider) GetCurrentCredentials(ctx context.Context, session *domain.RescueSession) (*domain.RescueCredentials, error) {
	if session == nil {
		return nil, nil
	}
	token, err := p.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("cell_id", session.Location.CellID)
	q.Set("address_id", strconv.Itoa(session.Location.AddressID))
	resp, err := p.api.do(ctx, http.MethodGet, "/gw/tabbed-home", q, nil, token, nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("tabbed-home: HTTP %d", resp.status)
	}
	return parseCredentials(resp.body, p.brokerHost)
}

func parseCredentials(body []byte, brokerHost string) (*domain.RescueCredentials, error) {
	var home tabbedHomeResponse
	if err := json.Unmarshal(body, &home); err != nil {
		return nil, fmt.Errorf("decode tabbed-home: %w", err)
	}
	for _, ch := range home.Channels {
		if ch.Type != rescueChannelType {
			continue
		}
		if len(ch.Name) == 0 || ch.Name[0] == "" {
			return nil, errors.New("rescue channel has no topic")
		}
		if ch.QoS < 0 || ch.QoS > 2 {
			return nil, fmt.Errorf("rescue channel qos %d out of range", ch.QoS)
		}
		return &domain.RescueCredentials{
			BrokerHost:       brokerHost,
			Username:         ch.Client.Username,
			Password:         ch.Client.Password,
			KeepAliveSeconds: ch.Client.KeepAlive,
			Topic:            ch.Name[0],
			QoS:              byte(ch.QoS),
			ValidUntil:       unixTime(ch.Time),
			CityID:           home.Location.City.ID,
		}, nil
	}
	return nil, nil
}

// staticCredentialProvider hands out fixed credentials from configuration.
type staticCredentialProvider struct {
	creds domain.RescueCredentials
}

// NewStaticCredentialProvider creates a provider that always returns creds.
func NewStaticCredentialProvider(creds domain.RescueCredentials) repo.CredentialProvider {
	return &staticCredentialProvider{creds: creds}
}

func (p *staticCredentialProvider) GetCurrentCredentials(ctx context.Context, session *domain.RescueSession) (*domain.RescueCredentials, error) {
	if session == nil {
		return nil, nil
	}
	c := p.creds
	return &c, nil
}

// staticToken is a fixed access token.
type staticToken struct {
	token string
}

// NewStaticTokenSource creates a token source for a configured token.
func NewStaticTokenSource(token string) repo.TokenSource {
	return &staticToken{token: token}
}

func (s *staticToken) AccessToken(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", errors.New("no access token configured")
	}
	return s.token, nil
}
