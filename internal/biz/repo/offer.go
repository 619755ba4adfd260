package repo

import (
	"context"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
)

// OfferRepo is the two-phase claim API.
type OfferRepo interface {
	// FetchOffer returns nil when no offer exists for the cancellation.
	FetchOffer(ctx context.Context, loc domain.Location, sub domain.SubscriptionConfig, token string) (*domain.ClaimOffer, error)

	// CommitOffer races to claim the offer. The result is authoritative and
	// is never retried.
	CommitOffer(ctx context.Context, offer *domain.ClaimOffer, loc domain.Location, sub domain.SubscriptionConfig, token string) (domain.CommitResult, error)
}

// MetadataRepo resolves human-readable labels, best effort.
type MetadataRepo interface {
	ResolveLabel(ctx context.Context, targetID, token string) (string, error)
}

// NotifierRepo delivers claim alerts to the user.
type NotifierRepo interface {
	NotifyClaim(ctx context.Context, alert domain.ClaimAlert) error
}
