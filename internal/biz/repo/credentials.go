package repo

import (
	"context"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
)

// CredentialProvider issues broker credentials for a session.
type CredentialProvider interface {
	// GetCurrentCredentials returns nil credentials when monitoring has been
	// disabled or the provider could not obtain them.
	GetCurrentCredentials(ctx context.Context, session *domain.RescueSession) (*domain.RescueCredentials, error)
}

// TokenSource supplies the access token for HTTP calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}
