package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
)

var (
	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("no active rescue session")
	// ErrSessionActive is returned when a session is already running.
	ErrSessionActive = errors.New("rescue session already active")
)

// SessionUsecase owns the active RescueSession. Counters are updated with
// atomic adds in memory and with atomic increments in the store.
type SessionUsecase struct {
	sessionRepo repo.SessionRepo
	log         *zap.Logger
	now         func() time.Time

	current atomic.Pointer[SessionHandle]
}

// NewSessionUsecase creates a new session usecase
func NewSessionUsecase(sessionRepo repo.SessionRepo, log *zap.Logger) *SessionUsecase {
	return &SessionUsecase{
		sessionRepo: sessionRepo,
		log:         log.Named("session"),
		now:         time.Now,
	}
}

// SessionHandle is a reference to one session's live counters. Handles stay
// usable after the session ends; their updates then only touch memory.
type SessionHandle struct {
	uc           *SessionUsecase
	location     domain.Location
	startedAt    time.Time
	subscription atomic.Pointer[domain.SubscriptionConfig]

	cancellations atomic.Int64
	wins          atomic.Int64
	reconnects    atomic.Int64
}

// Begin starts a session, persisting it first. Zero StartedAt is set to now.
func (uc *SessionUsecase) Begin(ctx context.Context, s *domain.RescueSession) (*SessionHandle, error) {
	if uc.current.Load() != nil {
		return nil, ErrSessionActive
	}

	session := *s
	if session.StartedAt.IsZero() {
		session.StartedAt = uc.now()
	}
	if err := uc.sessionRepo.Save(ctx, &session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	h := &SessionHandle{uc: uc, location: session.Location, startedAt: session.StartedAt}
	sub := session.Subscription
	h.subscription.Store(&sub)
	h.cancellations.Store(session.TotalCancellationMessages)
	h.wins.Store(session.TotalClaimedWins)
	h.reconnects.Store(session.TotalReconnects)

	if !uc.current.CompareAndSwap(nil, h) {
		return nil, ErrSessionActive
	}
	uc.log.Info("session started",
		zap.String("location", session.Location.Name),
		zap.Time("started_at", session.StartedAt))
	return h, nil
}

// End clears the active session. It is a no-op when none is active.
func (uc *SessionUsecase) End(ctx context.Context) error {
	h := uc.current.Swap(nil)
	if err := uc.sessionRepo.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if h != nil {
		uc.log.Info("session ended", zap.String("location", h.location.Name))
	}
	return nil
}

// Detach forgets the active session without clearing the store, so the
// next process can resume it.
func (uc *SessionUsecase) Detach() {
	if h := uc.current.Swap(nil); h != nil {
		uc.log.Info("session detached", zap.String("location", h.location.Name))
	}
}

// Current returns the active session handle or nil.
func (uc *SessionUsecase) Current() *SessionHandle {
	return uc.current.Load()
}

// LoadPersisted reads the stored session, nil when monitoring is off.
func (uc *SessionUsecase) LoadPersisted(ctx context.Context) (*domain.RescueSession, error) {
	return uc.sessionRepo.Load(ctx)
}

// Snapshot returns the active session, or ErrNoSession.
func (uc *SessionUsecase) Snapshot() (*domain.RescueSession, error) {
	h := uc.current.Load()
	if h == nil {
		return nil, ErrNoSession
	}
	return h.Snapshot(), nil
}

// Increment adds one to a counter and returns the new in-memory value.
func (h *SessionHandle) Increment(ctx context.Context, c domain.Counter) int64 {
	var v int64
	switch c {
	case domain.CounterCancellations:
		v = h.cancellations.Add(1)
	case domain.CounterClaimedWins:
		v = h.wins.Add(1)
	case domain.CounterReconnects:
		v = h.reconnects.Add(1)
	default:
		return 0
	}

	if !h.Active() {
		return v
	}
	if err := h.uc.sessionRepo.Increment(ctx, c); err != nil {
		h.uc.log.Warn("persist counter failed", zap.String("counter", string(c)), zap.Error(err))
	}
	return v
}

// Active reports whether this handle is still the current session.
func (h *SessionHandle) Active() bool {
	return h.uc.current.Load() == h
}

// Location returns the monitored location.
func (h *SessionHandle) Location() domain.Location {
	return h.location
}

// Subscription returns the current subscription context.
func (h *SessionHandle) Subscription() domain.SubscriptionConfig {
	return *h.subscription.Load()
}

// UpdateSubscription records refreshed subscription parameters.
func (h *SessionHandle) UpdateSubscription(ctx context.Context, sub domain.SubscriptionConfig) error {
	h.subscription.Store(&sub)
	if !h.Active() {
		return nil
	}
	return h.uc.sessionRepo.UpdateSubscription(ctx, sub)
}

// Snapshot returns a copy of the session with current counter values.
func (h *SessionHandle) Snapshot() *domain.RescueSession {
	return &domain.RescueSession{
		Location:                  h.location,
		Subscription:              h.Subscription(),
		StartedAt:                 h.startedAt,
		TotalCancellationMessages: h.cancellations.Load(),
		TotalClaimedWins:          h.wins.Load(),
		TotalReconnects:           h.reconnects.Load(),
	}
}
