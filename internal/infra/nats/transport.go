// Package nats is a broker transport for deployments that relay rescue
// events over NATS instead of MQTT.
package nats

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
)

// Transport dials a NATS server and subscribes to the topic mapped onto a
// subject. The client library reconnects and restores subscriptions itself.
type Transport struct {
	name        string
	node        *snowflake.Node
	insecureTLS bool
	log         *zap.Logger
}

var _ repo.BrokerTransport = (*Transport)(nil)

// NewTransport creates a new NATS transport. nodeID seeds the snowflake
// generator behind connection names and must be in 0-1023.
func NewTransport(name string, nodeID int64, insecureTLS bool, log *zap.Logger) (*Transport, error) {
	if name == "" {
		name = "rescue-monitor"
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	return &Transport{name: name, node: node, insecureTLS: insecureTLS, log: log.Named("nats")}, nil
}

// ClientName returns a unique connection name.
func (t *Transport) ClientName() string {
	return t.name + "_" + t.node.Generate().String()
}

// Dial connects, subscribes and flushes so the server has registered the
// subscription before returning.
func (t *Transport) Dial(ctx context.Context, creds domain.RescueCredentials, h repo.BrokerHandlers) (repo.BrokerConn, error) {
	c := &conn{log: t.log}
	name := t.ClientName()

	opts := []nats.Option{
		nats.Name(name),
		nats.PingInterval(creds.KeepAlive()),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if c.closed.Load() {
				return
			}
			t.log.Warn("disconnected", zap.Error(err))
			h.OnLost(err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			t.log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
			h.OnReconnecting()
			h.OnResubscribed()
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			t.log.Info("connection closed")
		}),
	}
	if creds.Username != "" {
		opts = append(opts, nats.UserInfo(creds.Username, creds.Password))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	url := ServerURL(creds.BrokerHost)
	if strings.HasPrefix(url, "tls://") {
		opts = append(opts, nats.Secure(&tls.Config{InsecureSkipVerify: t.insecureTLS, MinVersion: tls.VersionTLS12}))
	}

	t.log.Info("connecting", zap.String("server", url), zap.String("name", name))
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", creds.BrokerHost, err)
	}
	c.nc = nc

	subject := Subject(creds.Topic)
	_, err = nc.Subscribe(subject, func(m *nats.Msg) {
		h.OnMessage(domain.InboundMessage{
			Topic:      creds.Topic,
			Payload:    m.Data,
			ReceivedAt: time.Now(),
		})
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("flush subscription %s: %w", subject, err)
	}

	t.log.Info("subscribed", zap.String("subject", subject))
	return c, nil
}

type conn struct {
	nc     *nats.Conn
	log    *zap.Logger
	closed atomic.Bool
}

func (c *conn) IsConnected() bool {
	return !c.closed.Load() && c.nc.IsConnected()
}

func (c *conn) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.nc.Close()
}

// Subject maps an MQTT style topic onto a NATS subject.
func Subject(topic string) string {
	s := strings.Trim(topic, "/")
	s = strings.ReplaceAll(s, "/", ".")
	s = strings.ReplaceAll(s, "+", "*")
	if strings.HasSuffix(s, "#") {
		s = strings.TrimSuffix(s, "#") + ">"
	}
	return s
}

// ServerURL normalizes a host into a NATS URL. ssl:// becomes tls://.
func ServerURL(host string) string {
	switch {
	case strings.HasPrefix(host, "ssl://"):
		return "tls://" + strings.TrimPrefix(host, "ssl://")
	case strings.Contains(host, "://"):
		return host
	default:
		return "nats://" + host
	}
}
