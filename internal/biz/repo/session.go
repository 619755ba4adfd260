package repo

import (
	"context"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
)

// SessionRepo persists the single active rescue session.
type SessionRepo interface {
	// Load returns nil when no session is active.
	Load(ctx context.Context) (*domain.RescueSession, error)

	// Save creates or replaces the session.
	Save(ctx context.Context, session *domain.RescueSession) error

	// UpdateSubscription rewrites the subscription of the stored session
	// and leaves its counters untouched.
	UpdateSubscription(ctx context.Context, sub domain.SubscriptionConfig) error

	// Clear removes the session.
	Clear(ctx context.Context) error

	// Increment atomically adds one to a persisted counter.
	Increment(ctx context.Context, counter domain.Counter) error
}

// ClaimRepo keeps the history of claim attempts.
type ClaimRepo interface {
	RecordAttempt(ctx context.Context, attempt *domain.ClaimAttempt) error
	ListRecent(ctx context.Context, limit int) ([]*domain.ClaimAttempt, error)
}
