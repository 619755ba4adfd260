package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
	"github.com/rescuewatch/rescue-monitor/internal/biz/usecase"
)

type memSessionRepo struct {
	mu        sync.Mutex
	session   *domain.RescueSession
	loads     atomic.Int32
	loadPanic atomic.Bool
	clearGate chan struct{}
}

func (m *memSessionRepo) Load(ctx context.Context) (*domain.RescueSession, error) {
	m.loads.Add(1)
	if m.loadPanic.Load() {
		panic("corrupt session row")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *memSessionRepo) Save(ctx context.Context, s *domain.RescueSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.session = &c
	return nil
}

func (m *memSessionRepo) UpdateSubscription(ctx context.Context, sub domain.SubscriptionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Subscription = sub
	}
	return nil
}

// Clear blocks on clearGate when one is set.
func (m *memSessionRepo) Clear(ctx context.Context) error {
	m.mu.Lock()
	gate := m.clearGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

func (m *memSessionRepo) wipe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
}

func (m *memSessionRepo) blockClears() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearGate = make(chan struct{})
	return m.clearGate
}

func (m *memSessionRepo) Increment(ctx context.Context, c domain.Counter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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

type fakeConn struct {
	connected atomic.Bool
	closed    atomic.Bool
}

func (c *fakeConn) IsConnected() bool { return c.connected.Load() && !c.closed.Load() }
func (c *fakeConn) Close()            { c.closed.Store(true) }

// fakeTransport records dials and exposes the handlers of the latest one.
type fakeTransport struct {
	mu       sync.Mutex
	failNext int
	dialed   []domain.RescueCredentials
	handlers repo.BrokerHandlers
	conns    []*fakeConn
}

func (t *fakeTransport) Dial(ctx context.Context, creds domain.RescueCredentials, h repo.BrokerHandlers) (repo.BrokerConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialed = append(t.dialed, creds)
	if t.failNext > 0 {
		t.failNext--
		return nil, errors.New("connection refused")
	}
	t.handlers = h
	c := &fakeConn{}
	c.connected.Store(true)
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dialed)
}

func (t *fakeTransport) lastCreds() domain.RescueCredentials {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dialed[len(t.dialed)-1]
}

func (t *fakeTransport) current() (repo.BrokerHandlers, *fakeConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers, t.conns[len(t.conns)-1]
}

type fakeProvider struct {
	calls atomic.Int32
	creds *domain.RescueCredentials
	err   error
	once  bool // only the first call returns creds

	refreshErr error // returned after the first call when once is set
}

func (p *fakeProvider) GetCurrentCredentials(ctx context.Context, s *domain.RescueSession) (*domain.RescueCredentials, error) {
	n := p.calls.Add(1)
	if p.once && n > 1 {
		return nil, p.refreshErr
	}
	if p.creds == nil {
		return nil, p.err
	}
	c := *p.creds
	return &c, p.err
}

type fakeResource struct {
	acquireErr error
	acquired   atomic.Int32
	released   atomic.Int32
}

func (r *fakeResource) Acquire(ctx context.Context) error {
	if r.acquireErr != nil {
		return r.acquireErr
	}
	r.acquired.Add(1)
	return nil
}

func (r *fakeResource) Release() error {
	r.released.Add(1)
	return nil
}

func testCreds() domain.RescueCredentials {
	return domain.RescueCredentials{
		BrokerHost:       "ssl://broker.test:443",
		Username:         "user",
		Password:         "pass",
		KeepAliveSeconds: 30,
		Topic:            "rescue/1",
		QoS:              1,
	}
}

func testRescueSession() *domain.RescueSession {
	return &domain.RescueSession{
		Location:     domain.Location{Name: "Home", AddressID: 42, CellID: "cell-1"},
		Subscription: domain.SubscriptionConfig{CityID: 1, Topic: "rescue/1", QoS: 1},
	}
}

func newTestHandle(t *testing.T) (*usecase.SessionUsecase, *usecase.SessionHandle) {
	t.Helper()
	uc := usecase.NewSessionUsecase(&memSessionRepo{}, zap.NewNop())
	h, err := uc.Begin(context.Background(), testRescueSession())
	require.NoError(t, err)
	return uc, h
}
