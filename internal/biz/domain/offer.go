package domain

import (
	"fmt"
	"strconv"
	"time"
)

// ClaimOffer is the ephemeral cart offer returned for a cancelled order.
// It is single-use and only valid until ExpiresAt.
type ClaimOffer struct {
	TargetID         string // store / restaurant id
	FinalCost        float64
	ViewerCount      int
	CartID           string
	ParentOrderID    string
	ParentCartID     string
	ModificationType string
	ExpiresAt        time.Time
	CatalogCost      *float64

	// Analytics holds the cart analytics strings exactly as received.
	// Commit sends them back unchanged.
	Analytics OfferAnalytics
}

// OfferAnalytics are the raw viewer count and expiry of an offer.
type OfferAnalytics struct {
	Watching string
	Expiry   string
}

// Expired reports whether the offer can no longer be committed.
// An offer without an expiry never expires on its own.
func (o *ClaimOffer) Expired(now time.Time) bool {
	if o.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(o.ExpiresAt)
}

// CommitResult is the authoritative outcome of a commit call.
type CommitResult int

const (
	CommitFailure CommitResult = iota
	CommitSuccess
	CommitConflict
)

func (r CommitResult) String() string {
	switch r {
	case CommitSuccess:
		return "success"
	case CommitConflict:
		return "conflict"
	default:
		return "failure"
	}
}

// ClaimAlert is what the notification sink receives for a won claim.
type ClaimAlert struct {
	Label       string
	Cost        float64
	ViewerCount int
	Won         bool
}

// Title is the alert headline.
func (a ClaimAlert) Title() string {
	if a.Won {
		return "Rescue: " + a.Label
	}
	return "Missed: " + a.Label
}

// Body is the alert text.
func (a ClaimAlert) Body() string {
	price := strconv.FormatFloat(a.Cost, 'f', -1, 64)
	if a.Won {
		return fmt.Sprintf("CLAIMED! Pay ₹%s fast. %d watching.", price, a.ViewerCount)
	}
	return fmt.Sprintf("Another watcher claimed it first (₹%s, %d watching).", price, a.ViewerCount)
}
