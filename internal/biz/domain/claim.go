package domain

import (
	"fmt"
	"time"
)

// ClaimState is the lifecycle of one claim attempt.
type ClaimState string

const (
	ClaimPending    ClaimState = "pending"
	ClaimFetching   ClaimState = "fetching"
	ClaimCommitting ClaimState = "committing"
	ClaimWon        ClaimState = "won"
	ClaimLost       ClaimState = "lost"    // commit conflict, another watcher won
	ClaimMissed     ClaimState = "missed"  // no offer / fetch failed
	ClaimExpired    ClaimState = "expired" // offer window closed before commit finished
	ClaimFailed     ClaimState = "failed"  // commit failed for any other reason
)

var claimTransitions = map[ClaimState][]ClaimState{
	ClaimPending:    {ClaimFetching},
	ClaimFetching:   {ClaimCommitting, ClaimMissed, ClaimExpired},
	ClaimCommitting: {ClaimWon, ClaimLost, ClaimFailed, ClaimExpired},
}

// Terminal reports whether no further transition is allowed.
func (s ClaimState) Terminal() bool {
	_, ok := claimTransitions[s]
	return !ok
}

// CanTransition reports whether from -> to is allowed.
func (s ClaimState) CanTransition(to ClaimState) bool {
	for _, next := range claimTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ClaimAttempt records one fetch+commit race for a cancellation event.
type ClaimAttempt struct {
	ID          string     `json:"id"`
	MessageID   string     `json:"msg_id,omitempty"`
	State       ClaimState `json:"state"`
	TargetID    string     `json:"target_id,omitempty"`
	Cost        float64    `json:"cost"`
	ViewerCount int        `json:"viewer_count"`
	Label       string     `json:"label,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
}

// NewClaimAttempt creates a pending attempt.
func NewClaimAttempt(id, messageID string, now time.Time) *ClaimAttempt {
	return &ClaimAttempt{
		ID:        id,
		MessageID: messageID,
		State:     ClaimPending,
		StartedAt: now,
	}
}

// Transition moves the attempt to the next state.
func (a *ClaimAttempt) Transition(to ClaimState, now time.Time) error {
	if !a.State.CanTransition(to) {
		return fmt.Errorf("%w: claim %s -> %s", ErrInvalidTransition, a.State, to)
	}
	a.State = to
	if to.Terminal() {
		a.FinishedAt = now
	}
	return nil
}

// ApplyOffer copies the display fields of an offer into the attempt.
func (a *ClaimAttempt) ApplyOffer(o *ClaimOffer) {
	a.TargetID = o.TargetID
	a.Cost = o.FinalCost
	a.ViewerCount = o.ViewerCount
}
