package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
	"github.com/rescuewatch/rescue-monitor/internal/biz/usecase"
	"github.com/rescuewatch/rescue-monitor/internal/metrics"
)

// ErrCredentialsUnavailable means the provider returned no credentials,
// which ends the session.
var ErrCredentialsUnavailable = errors.New("broker credentials unavailable")

// ErrAlreadyStarted is returned by Start on a running manager.
var ErrAlreadyStarted = errors.New("connection manager already started")

const (
	messageInboxSize = 256
	controlInboxSize = 16
)

type connEventKind int

const (
	evDialed connEventKind = iota
	evLost
	evReconnecting
	evResubscribed
	evReconnectRequest
)

type connEvent struct {
	kind  connEventKind
	gen   uint64
	conn  repo.BrokerConn
	creds *domain.RescueCredentials
	err   error
	fatal bool
}

// ConnectionOptions tune a ConnectionManager.
type ConnectionOptions struct {
	DialTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// ConnectionManager keeps one broker subscription alive. All state changes
// happen on a single dispatcher goroutine; transport callbacks only enqueue.
type ConnectionManager struct {
	transport repo.BrokerTransport
	provider  repo.CredentialProvider
	onMessage func(domain.InboundMessage)
	metrics   metrics.Collector
	log       *zap.Logger
	now       func() time.Time

	dialTimeout time.Duration
	backoff     backoff

	state atomic.Int32
	fatal chan error

	mu     sync.Mutex
	conn   repo.BrokerConn
	cancel context.CancelFunc
	inbox  *inbox
	dials  sync.WaitGroup

	// owned by the dispatcher
	handle   *usecase.SessionHandle
	creds    domain.RescueCredentials
	gen      uint64
	dialing  bool
	attempts int
}

// NewConnectionManager creates a connection manager. onMessage is called on
// the dispatcher goroutine and must not block.
func NewConnectionManager(
	transport repo.BrokerTransport,
	provider repo.CredentialProvider,
	onMessage func(domain.InboundMessage),
	collector metrics.Collector,
	log *zap.Logger,
	opts ConnectionOptions,
) *ConnectionManager {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = time.Minute
	}
	m := &ConnectionManager{
		transport:   transport,
		provider:    provider,
		onMessage:   onMessage,
		metrics:     collector,
		log:         log.Named("connection"),
		now:         time.Now,
		dialTimeout: opts.DialTimeout,
		backoff:     backoff{min: opts.MinBackoff, max: opts.MaxBackoff},
		fatal:       make(chan error, 1),
	}
	m.state.Store(int32(domain.ConnDisconnected))
	return m
}

// Start begins connecting with creds on behalf of the session h. It returns
// once the first dial has been scheduled.
func (m *ConnectionManager) Start(ctx context.Context, h *usecase.SessionHandle, creds domain.RescueCredentials) error {
	if !creds.Valid() {
		return fmt.Errorf("invalid broker credentials for topic %q", creds.Topic)
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	in := newInbox()
	m.cancel = cancel
	m.inbox = in
	m.mu.Unlock()

	select {
	case <-m.fatal:
	default:
	}
	m.handle = h
	m.creds = creds
	m.gen = 0
	m.attempts = 0
	m.dialing = false
	m.state.Store(int32(domain.ConnDisconnected))
	m.metrics.SetConnState(domain.ConnDisconnected.String())

	m.redial(runCtx)
	go m.run(runCtx, in)
	return nil
}

// Stop closes the connection and waits for the dispatcher. Safe to call
// more than once.
func (m *ConnectionManager) Stop() {
	m.mu.Lock()
	cancel, in := m.cancel, m.inbox
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-in.done
	m.dials.Wait()
	m.closeConn()
}

// Reconnect asks the dispatcher to re-establish a dead connection. It is a
// no-op when the connection is live or a dial is in flight.
func (m *ConnectionManager) Reconnect() {
	m.mu.Lock()
	in := m.inbox
	m.mu.Unlock()
	if in != nil {
		in.postControl(m.log, connEvent{kind: evReconnectRequest})
	}
}

// IsConnected reports whether the subscription is live.
func (m *ConnectionManager) IsConnected() bool {
	if m.State() != domain.ConnSubscribed {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.conn.IsConnected()
}

// State returns the current connection state.
func (m *ConnectionManager) State() domain.ConnState {
	return domain.ConnState(m.state.Load())
}

// Fatal delivers the error that ended the connection for good.
func (m *ConnectionManager) Fatal() <-chan error {
	return m.fatal
}

func (m *ConnectionManager) run(ctx context.Context, in *inbox) {
	defer close(in.done)

	var retry *time.Timer
	var retryC <-chan time.Time
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.closeConn()
			m.setState(domain.ConnStopped)
			return

		case msg := <-in.messages:
			m.dispatch(msg)

		case ev := <-in.control:
			if stop := m.apply(ctx, ev); stop {
				return
			}
			if m.State() == domain.ConnLost && !m.dialing && ev.kind == evDialed {
				d := m.backoff.delay(m.attempts)
				m.log.Info("retrying connect", zap.Duration("in", d), zap.Int("attempt", m.attempts))
				if retry != nil {
					retry.Stop()
				}
				retry = time.NewTimer(d)
				retryC = retry.C
			}

		case <-retryC:
			retryC = nil
			if m.State() == domain.ConnLost && !m.dialing {
				m.redial(ctx)
			}
		}
	}
}

// apply handles one control event. It reports whether the dispatcher
// must exit.
func (m *ConnectionManager) apply(ctx context.Context, ev connEvent) bool {
	switch ev.kind {
	case evDialed:
		if ev.gen != m.gen {
			if ev.conn != nil {
				ev.conn.Close()
			}
			return false
		}
		m.dialing = false
		if ev.fatal {
			m.fail(ev.err)
			return true
		}
		if ev.err != nil {
			m.attempts++
			m.log.Warn("connect failed", zap.Error(ev.err))
			m.markLost()
			return false
		}
		m.creds = *ev.creds
		m.setConn(ev.conn)
		m.attempts = 0
		m.setState(domain.ConnSubscribed)
		m.log.Info("subscribed",
			zap.String("topic", m.creds.Topic),
			zap.Uint8("qos", m.creds.QoS))

	case evLost:
		if ev.gen != m.gen || m.State() != domain.ConnSubscribed {
			return false
		}
		m.log.Warn("connection lost", zap.Error(ev.err))
		m.markLost()

	case evReconnecting:
		if ev.gen != m.gen || m.State() != domain.ConnLost {
			return false
		}
		if m.creds.IsStale(m.now()) {
			m.log.Info("credentials stale, dialing fresh connection")
			m.redial(ctx)
			return false
		}
		m.setState(domain.ConnConnecting)

	case evResubscribed:
		if ev.gen != m.gen {
			return false
		}
		switch m.State() {
		case domain.ConnLost:
			m.setState(domain.ConnConnecting)
		case domain.ConnConnecting:
		default:
			return false
		}
		m.attempts = 0
		m.setState(domain.ConnSubscribed)
		m.log.Info("resubscribed", zap.String("topic", m.creds.Topic))

	case evReconnectRequest:
		if m.dialing {
			return false
		}
		switch m.State() {
		case domain.ConnSubscribed:
			if m.connAlive() {
				return false
			}
			m.markLost()
		case domain.ConnStopped:
			return false
		}
		m.redial(ctx)
	}
	return false
}

// redial drops the current connection and dials a fresh one.
func (m *ConnectionManager) redial(ctx context.Context) {
	m.closeConn()
	m.gen++
	if m.State() != domain.ConnConnecting {
		m.setState(domain.ConnConnecting)
	}
	m.dialing = true
	m.dials.Add(1)

	m.mu.Lock()
	in := m.inbox
	m.mu.Unlock()
	go m.dial(ctx, in, m.gen, m.creds)
}

func (m *ConnectionManager) dial(ctx context.Context, in *inbox, gen uint64, creds domain.RescueCredentials) {
	defer m.dials.Done()

	ev := connEvent{kind: evDialed, gen: gen}
	if creds.IsStale(m.now()) {
		fresh, err := m.refresh(ctx, creds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ev.err, ev.fatal = err, true
			in.postControl(m.log, ev)
			return
		}
		creds = *fresh
	}
	ev.creds = &creds

	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	conn, err := m.transport.Dial(dialCtx, creds, m.handlers(in, gen))
	cancel()

	if ctx.Err() != nil {
		if conn != nil {
			conn.Close()
		}
		return
	}
	ev.conn, ev.err = conn, err
	if !in.postControl(m.log, ev) && conn != nil {
		conn.Close()
	}
}

// refresh asks the provider for new credentials. A nil result means
// monitoring was turned off and is fatal.
func (m *ConnectionManager) refresh(ctx context.Context, old domain.RescueCredentials) (*domain.RescueCredentials, error) {
	m.log.Info("refreshing broker credentials", zap.Time("valid_until", old.ValidUntil))

	fresh, err := m.provider.GetCurrentCredentials(ctx, m.handle.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("refresh credentials: %w", err)
	}
	if fresh == nil || !fresh.Valid() {
		return nil, ErrCredentialsUnavailable
	}

	if err := m.handle.UpdateSubscription(ctx, fresh.Apply(m.handle.Subscription())); err != nil {
		m.log.Warn("persist refreshed subscription failed", zap.Error(err))
	}
	return fresh, nil
}

func (m *ConnectionManager) handlers(in *inbox, gen uint64) repo.BrokerHandlers {
	return repo.BrokerHandlers{
		OnMessage: func(msg domain.InboundMessage) {
			if msg.ReceivedAt.IsZero() {
				msg.ReceivedAt = m.now()
			}
			in.postMessage(m.log, msg)
		},
		OnLost: func(err error) {
			in.postControl(m.log, connEvent{kind: evLost, gen: gen, err: err})
		},
		OnReconnecting: func() {
			in.postControl(m.log, connEvent{kind: evReconnecting, gen: gen})
		},
		OnResubscribed: func() {
			in.postControl(m.log, connEvent{kind: evResubscribed, gen: gen})
		},
	}
}

// inbox is the dispatcher's queue for one Start..Stop cycle. Posts never
// block; once done is closed they are discarded.
type inbox struct {
	messages chan domain.InboundMessage
	control  chan connEvent
	done     chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		messages: make(chan domain.InboundMessage, messageInboxSize),
		control:  make(chan connEvent, controlInboxSize),
		done:     make(chan struct{}),
	}
}

func (in *inbox) postMessage(log *zap.Logger, msg domain.InboundMessage) {
	select {
	case <-in.done:
		return
	default:
	}
	select {
	case in.messages <- msg:
	default:
		log.Warn("message inbox full, dropping message", zap.String("topic", msg.Topic))
	}
}

func (in *inbox) postControl(log *zap.Logger, ev connEvent) bool {
	select {
	case <-in.done:
		return false
	default:
	}
	select {
	case in.control <- ev:
		return true
	default:
		log.Warn("control inbox full, dropping event", zap.Int("kind", int(ev.kind)))
		return false
	}
}

func (m *ConnectionManager) dispatch(msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("message handler panicked", zap.Any("panic", r))
		}
	}()
	m.onMessage(msg)
}

// markLost records one loss for the current generation.
func (m *ConnectionManager) markLost() {
	m.setState(domain.ConnLost)
	n := m.handle.Increment(context.Background(), domain.CounterReconnects)
	m.metrics.RecordReconnect()
	m.log.Info("reconnect counted", zap.Int64("reconnects", n))
}

func (m *ConnectionManager) fail(err error) {
	m.closeConn()
	m.setState(domain.ConnStopped)
	m.log.Error("connection stopped", zap.Error(err))
	select {
	case m.fatal <- err:
	default:
	}
}

func (m *ConnectionManager) setState(to domain.ConnState) {
	from := m.State()
	if from == to {
		return
	}
	if !from.CanTransition(to) {
		m.log.Debug("ignoring connection transition", zap.Stringer("from", from), zap.Stringer("to", to))
		return
	}
	m.state.Store(int32(to))
	m.metrics.SetConnState(to.String())
}

func (m *ConnectionManager) setConn(conn repo.BrokerConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
}

func (m *ConnectionManager) connAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.conn.IsConnected()
}

func (m *ConnectionManager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
