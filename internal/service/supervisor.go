package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
	"github.com/rescuewatch/rescue-monitor/internal/biz/usecase"
	"github.com/rescuewatch/rescue-monitor/internal/metrics"
)

// DefaultHeartbeatInterval is the period of the liveness loop.
const DefaultHeartbeatInterval = 30 * time.Second

// ErrResourceUnavailable is returned by Enable when the wake resource
// cannot be acquired.
var ErrResourceUnavailable = errors.New("wake resource unavailable")

// Status is a point-in-time view of the monitor.
type Status struct {
	Active    bool                  `json:"active"`
	Session   *domain.RescueSession `json:"session,omitempty"`
	ConnState string                `json:"conn_state"`
	Connected bool                  `json:"connected"`
	InFlight  int                   `json:"inflight_claims"`
	DedupSize int                   `json:"dedup_entries"`
	Uptime    string                `json:"uptime,omitempty"`
}

// Supervisor owns the session lifecycle: it holds the wake resource, runs
// the connection manager and drives the heartbeat.
type Supervisor struct {
	sessions *usecase.SessionUsecase
	claims   *usecase.ClaimUsecase
	dedup    *usecase.DedupCache
	manager  *ConnectionManager
	provider repo.CredentialProvider
	resource repo.ResourceSupervisor
	metrics  metrics.Collector
	log      *zap.Logger

	heartbeat time.Duration
	sweep     time.Duration
	now       func() time.Time

	mu  sync.Mutex
	run *supervisorRun
	// stopping counts teardowns still releasing the resource or clearing
	// the store. Enable waits for it to reach zero.
	stopping int
	stopped  *sync.Cond
}

type supervisorRun struct {
	handle   *usecase.SessionHandle
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	released sync.Once
}

// SupervisorDeps are the collaborators of a Supervisor.
type SupervisorDeps struct {
	Sessions *usecase.SessionUsecase
	Claims   *usecase.ClaimUsecase
	Dedup    *usecase.DedupCache
	Manager  *ConnectionManager
	Provider repo.CredentialProvider
	Resource repo.ResourceSupervisor
	Metrics  metrics.Collector
}

// NewSupervisor creates a new supervisor
func NewSupervisor(deps SupervisorDeps, heartbeat time.Duration, log *zap.Logger) *Supervisor {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	s := &Supervisor{
		sessions:  deps.Sessions,
		claims:    deps.Claims,
		dedup:     deps.Dedup,
		manager:   deps.Manager,
		provider:  deps.Provider,
		resource:  deps.Resource,
		metrics:   deps.Metrics,
		log:       log.Named("supervisor"),
		heartbeat: heartbeat,
		sweep:     time.Minute,
		now:       time.Now,
	}
	s.stopped = sync.NewCond(&s.mu)
	return s
}

// Enable starts monitoring for session. Failing to acquire the wake
// resource or credentials aborts the start. A teardown still in progress
// is waited for first.
func (s *Supervisor) Enable(ctx context.Context, session *domain.RescueSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.stopping > 0 {
		s.stopped.Wait()
	}
	if s.run != nil {
		return usecase.ErrSessionActive
	}

	if err := s.resource.Acquire(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}

	h, err := s.sessions.Begin(ctx, session)
	if err != nil {
		s.releaseResource()
		return err
	}

	creds, err := s.provider.GetCurrentCredentials(ctx, h.Snapshot())
	if err == nil && creds == nil {
		err = ErrCredentialsUnavailable
	}
	if err != nil {
		s.abort(ctx)
		return fmt.Errorf("get credentials: %w", err)
	}

	if err := h.UpdateSubscription(ctx, creds.Apply(h.Subscription())); err != nil {
		s.log.Warn("persist subscription failed", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &supervisorRun{handle: h, cancel: cancel}

	s.dedup.Reset()
	if err := s.manager.Start(runCtx, h, *creds); err != nil {
		cancel()
		s.abort(ctx)
		return fmt.Errorf("start connection: %w", err)
	}

	r.wg.Add(3)
	go s.heartbeatLoop(runCtx, r)
	go s.watchFatal(runCtx, r)
	go func() {
		defer r.wg.Done()
		s.dedup.Run(runCtx, s.sweep, func(_, remaining int) {
			s.metrics.SetDedupSize(remaining)
		})
	}()

	s.run = r
	s.log.Info("monitoring enabled",
		zap.String("location", session.Location.Name),
		zap.String("topic", creds.Topic))
	return nil
}

// Disable stops monitoring and clears the stored session. In-flight claims
// are left to finish.
func (s *Supervisor) Disable(ctx context.Context) error {
	r := s.takeRun(nil)
	defer s.stopDone()

	if r != nil {
		s.teardown(r)
	}
	if err := s.sessions.End(ctx); err != nil {
		return err
	}
	s.log.Info("monitoring disabled")
	return nil
}

// Shutdown stops monitoring but keeps the stored session so a restarted
// process resumes it, then waits for in-flight claims.
func (s *Supervisor) Shutdown(ctx context.Context) {
	if r := s.takeRun(nil); r != nil {
		s.teardown(r)
		s.sessions.Detach()
	}
	s.stopDone()
	if s.claims == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		s.claims.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("shutdown before in-flight claims finished", zap.Int("inflight", s.claims.InFlight()))
	}
}

// Resume re-enables a session persisted by a previous process. It reports
// whether there was one.
func (s *Supervisor) Resume(ctx context.Context) (bool, error) {
	stored, err := s.sessions.LoadPersisted(ctx)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if stored == nil {
		return false, nil
	}
	s.log.Info("resuming persisted session", zap.String("location", stored.Location.Name))
	return true, s.Enable(ctx, stored)
}

// Status reports the current monitor state.
func (s *Supervisor) Status() Status {
	st := Status{
		ConnState: s.manager.State().String(),
		Connected: s.manager.IsConnected(),
		DedupSize: s.dedup.Len(),
	}
	if s.claims != nil {
		st.InFlight = s.claims.InFlight()
	}
	if snap, err := s.sessions.Snapshot(); err == nil {
		st.Active = true
		st.Session = snap
		st.Uptime = snap.Uptime(s.now()).Truncate(time.Second).String()
	}
	return st
}

// Active reports whether a session is running.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

func (s *Supervisor) teardown(r *supervisorRun) {
	r.stopOnce.Do(func() {
		r.cancel()
		s.manager.Stop()
		r.wg.Wait()
		r.released.Do(s.releaseResource)
	})
}

// takeRun detaches the current run and counts a teardown in progress.
// When want is non-nil only that run is taken; nil is returned, and
// nothing is counted, if another run is current. Every non-nil return
// and every call with want == nil must be paired with stopDone.
func (s *Supervisor) takeRun(want *supervisorRun) *supervisorRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.run
	if want != nil && r != want {
		return nil
	}
	s.run = nil
	s.stopping++
	return r
}

func (s *Supervisor) stopDone() {
	s.mu.Lock()
	s.stopping--
	s.mu.Unlock()
	s.stopped.Broadcast()
}

// stopAsync tears r down from one of its own goroutines and clears the
// stored session, so the user has to enable monitoring again.
func (s *Supervisor) stopAsync(r *supervisorRun) {
	if s.takeRun(r) == nil {
		return
	}

	go func() {
		defer s.stopDone()
		s.teardown(r)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.sessions.End(ctx); err != nil {
			s.log.Warn("clear session failed", zap.Error(err))
		}
	}()
}

// abort undoes a partially started Enable. Called with s.mu held.
func (s *Supervisor) abort(ctx context.Context) {
	if err := s.sessions.End(ctx); err != nil {
		s.log.Warn("clear session failed", zap.Error(err))
	}
	s.releaseResource()
}

func (s *Supervisor) releaseResource() {
	if err := s.resource.Release(); err != nil {
		s.log.Warn("release wake lock failed", zap.Error(err))
	}
}

func (s *Supervisor) watchFatal(ctx context.Context, r *supervisorRun) {
	defer r.wg.Done()
	select {
	case <-ctx.Done():
	case err := <-s.manager.Fatal():
		// Only a failed credential refresh is fatal.
		s.log.Error("credential refresh failed, ending session", zap.Error(err))
		s.stopAsync(r)
	}
}

func (s *Supervisor) heartbeatLoop(ctx context.Context, r *supervisorRun) {
	defer r.wg.Done()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	s.log.Info("heartbeat started", zap.Duration("interval", s.heartbeat))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.beat(ctx, r)
		}
	}
}

// beat runs one heartbeat iteration. A panic ends the iteration, not the
// loop.
func (s *Supervisor) beat(ctx context.Context, r *supervisorRun) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("heartbeat panicked", zap.Any("panic", rec))
		}
	}()

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	stored, err := s.sessions.LoadPersisted(loadCtx)
	cancel()
	if err != nil {
		s.log.Warn("heartbeat could not load session", zap.Error(err))
		return
	}
	if stored == nil {
		s.log.Info("session cleared externally, shutting down")
		s.stopAsync(r)
		return
	}

	if !s.manager.IsConnected() {
		s.log.Info("not connected, requesting reconnect", zap.Stringer("state", s.manager.State()))
		s.manager.Reconnect()
	}

	if removed, remaining := s.dedup.Sweep(); removed > 0 {
		s.log.Info(fmt.Sprintf("cleaned %d old message IDs (%d remaining)", removed, remaining))
		s.metrics.SetDedupSize(remaining)
	}

	snap := r.handle.Snapshot()
	s.log.Info("heartbeat",
		zap.Stringer("state", s.manager.State()),
		zap.String("location", snap.Location.Name),
		zap.Int64("cancellations", snap.TotalCancellationMessages),
		zap.Int64("wins", snap.TotalClaimedWins),
		zap.Int64("reconnects", snap.TotalReconnects),
		zap.Duration("uptime", snap.Uptime(s.now()).Truncate(time.Second)))
}
