package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
)

// Mock implementations

type mockSessionRepo struct {
	mu       sync.Mutex
	session  *domain.RescueSession
	saveErr  error
	saves    int
	incCalls map[domain.Counter]int

	subUpdates int
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{incCalls: make(map[domain.Counter]int)}
}

func (m *mockSessionRepo) Load(ctx context.Context) (*domain.RescueSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *mockSessionRepo) Save(ctx context.Context, session *domain.RescueSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	s := *session
	m.session = &s
	return nil
}

func (m *mockSessionRepo) UpdateSubscription(ctx context.Context, sub domain.SubscriptionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subUpdates++
	if m.session != nil {
		m.session.Subscription = sub
	}
	return nil
}

func (m *mockSessionRepo) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

func (m *mockSessionRepo) Increment(ctx context.Context, c domain.Counter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incCalls[c]++
	if m.session == nil {
		return nil
	}
	switch c {
	case domain.CounterCancellations:
		m.session.TotalCancellationMessages++
	case domain.CounterClaimedWins:
		m.session.TotalClaimedWins++
	case domain.CounterReconnects:
		m.session.TotalReconnects++
	}
	return nil
}

func (m *mockSessionRepo) persisted(c domain.Counter) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0
	}
	return m.session.Value(c)
}

// mockOfferRepo hands out one offer per fetch. When single is set, only
// the first commit for a cart succeeds and the rest conflict.
type mockOfferRepo struct {
	mu        sync.Mutex
	offer     *domain.ClaimOffer
	fetchErr  error
	result    domain.CommitResult
	commitErr error
	single    bool
	claimed   map[string]bool
	block     chan struct{}

	fetches atomic.Int32
	commits atomic.Int32
}

func (m *mockOfferRepo) FetchOffer(ctx context.Context, loc domain.Location, sub domain.SubscriptionConfig, token string) (*domain.ClaimOffer, error) {
	m.fetches.Add(1)
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if m.offer == nil {
		return nil, nil
	}
	o := *m.offer
	return &o, nil
}

func (m *mockOfferRepo) CommitOffer(ctx context.Context, offer *domain.ClaimOffer, loc domain.Location, sub domain.SubscriptionConfig, token string) (domain.CommitResult, error) {
	m.commits.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return domain.CommitFailure, ctx.Err()
		}
	}
	if m.single {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.claimed == nil {
			m.claimed = make(map[string]bool)
		}
		if m.claimed[offer.CartID] {
			return domain.CommitConflict, errors.New("already claimed")
		}
		m.claimed[offer.CartID] = true
		return domain.CommitSuccess, nil
	}
	return m.result, m.commitErr
}

type mockMetadataRepo struct {
	label string
	err   error
}

func (m *mockMetadataRepo) ResolveLabel(ctx context.Context, targetID, token string) (string, error) {
	return m.label, m.err
}

type mockNotifier struct {
	mu     sync.Mutex
	alerts []domain.ClaimAlert
	panics bool
}

func (m *mockNotifier) NotifyClaim(ctx context.Context, alert domain.ClaimAlert) error {
	if m.panics {
		panic("notifier exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *mockNotifier) sent() []domain.ClaimAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ClaimAlert(nil), m.alerts...)
}

type staticToken string

func (t staticToken) AccessToken(ctx context.Context) (string, error) {
	return string(t), nil
}

type mockClaimRepo struct {
	mu       sync.Mutex
	attempts []*domain.ClaimAttempt
}

func (m *mockClaimRepo) RecordAttempt(ctx context.Context, a *domain.ClaimAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.attempts = append(m.attempts, &c)
	return nil
}

func (m *mockClaimRepo) ListRecent(ctx context.Context, limit int) ([]*domain.ClaimAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts, nil
}

func (m *mockClaimRepo) states() []domain.ClaimState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ClaimState
	for _, a := range m.attempts {
		out = append(out, a.State)
	}
	return out
}
