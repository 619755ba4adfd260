package data

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
	"github.com/rescuewatch/rescue-monitor/internal/infra/feishu"
)

// Options configures NewRepositories
type Options struct {
	DBPath      string
	API         APIConfig
	AccessToken string
	BrokerHost  string

	// StaticCredentials, when set, replaces the HTTP credential lookup.
	StaticCredentials *domain.RescueCredentials

	FeishuAppID     string
	FeishuAppSecret string
	FeishuChatID    string
	FeishuBaseURL   string
}

// Repositories contains all repositories
type Repositories struct {
	Session     repo.SessionRepo
	Claims      repo.ClaimRepo
	Offers      repo.OfferRepo
	Metadata    repo.MetadataRepo
	Credentials repo.CredentialProvider
	Tokens      repo.TokenSource
	Notifier    repo.NotifierRepo

	db *sql.DB
}

// NewRepositories creates all repositories
func NewRepositories(opts Options, log *zap.Logger) (*Repositories, error) {
	db, err := OpenDB(opts.DBPath)
	if err != nil {
		return nil, err
	}
	sessionRepo, err := NewSessionRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	claimRepo, err := NewClaimRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	api := NewAPIClient(opts.API, log)
	tokens := NewStaticTokenSource(opts.AccessToken)

	var credentials repo.CredentialProvider
	if opts.StaticCredentials != nil {
		log.Info("using static broker credentials", zap.String("topic", opts.StaticCredentials.Topic))
		credentials = NewStaticCredentialProvider(*opts.StaticCredentials)
	} else {
		credentials = NewHTTPCredentialProvider(api, tokens, opts.BrokerHost, log)
	}

	notifier := NewLogNotifier(log)
	if opts.FeishuAppID != "" && opts.FeishuChatID != "" {
		client := feishu.NewClient(opts.FeishuAppID, opts.FeishuAppSecret, opts.FeishuBaseURL, log)
		notifier = NewFanoutNotifier(notifier, NewFeishuNotifier(client, opts.FeishuChatID))
		log.Info("feishu alerts enabled", zap.String("chat_id", opts.FeishuChatID))
	}

	return &Repositories{
		Session:     sessionRepo,
		Claims:      claimRepo,
		Offers:      NewOfferRepo(api),
		Metadata:    NewMetadataRepo(api),
		Credentials: credentials,
		Tokens:      tokens,
		Notifier:    notifier,
		db:          db,
	}, nil
}

// Close closes the database
func (r *Repositories) Close() error {
	return r.db.Close()
}
