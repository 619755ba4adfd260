package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
	"github.com/rescuewatch/rescue-monitor/internal/metrics"
)

const defaultLabel = "Restaurant"

// ClaimConfig bounds a claim attempt.
type ClaimConfig struct {
	FetchTimeout  time.Duration
	CommitTimeout time.Duration
	LabelTimeout  time.Duration
	NotifyTimeout time.Duration
	MaxInFlight   int
	NotifyOnLoss  bool // informational alert when a race is lost
}

// DefaultClaimConfig returns the default claim configuration.
func DefaultClaimConfig() ClaimConfig {
	return ClaimConfig{
		FetchTimeout:  10 * time.Second,
		CommitTimeout: 10 * time.Second,
		LabelTimeout:  5 * time.Second,
		NotifyTimeout: 10 * time.Second,
		MaxInFlight:   8,
	}
}

func (c ClaimConfig) withDefaults() ClaimConfig {
	d := DefaultClaimConfig()
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = d.CommitTimeout
	}
	if c.LabelTimeout <= 0 {
		c.LabelTimeout = d.LabelTimeout
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	return c
}

// ClaimDeps are the collaborators of the claim orchestrator. Claims and
// Metrics are optional.
type ClaimDeps struct {
	Offers   repo.OfferRepo
	Metadata repo.MetadataRepo
	Notifier repo.NotifierRepo
	Tokens   repo.TokenSource
	Claims   repo.ClaimRepo
	Sessions *SessionUsecase
	Dedup    *DedupCache
	Metrics  metrics.Collector
}

// ClaimUsecase classifies broker messages and races to claim the offer
// behind every unique cancellation.
type ClaimUsecase struct {
	deps   ClaimDeps
	cfg    ClaimConfig
	log    *zap.Logger
	tracer trace.Tracer
	sem    *semaphore.Weighted
	now    func() time.Time
	newID  func() string

	inFlight atomic.Int64
	wg       sync.WaitGroup
}

// NewClaimUsecase creates a new claim usecase
func NewClaimUsecase(deps ClaimDeps, cfg ClaimConfig, log *zap.Logger) *ClaimUsecase {
	cfg = cfg.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	return &ClaimUsecase{
		deps:   deps,
		cfg:    cfg,
		log:    log.Named("claim"),
		tracer: otel.Tracer("github.com/rescuewatch/rescue-monitor/claim"),
		sem:    semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// OnMessage classifies msg and, for a unique cancellation, starts a claim in
// the background. It never blocks on network I/O.
func (uc *ClaimUsecase) OnMessage(msg domain.InboundMessage) {
	uc.deps.Metrics.RecordMessage()

	ev, ok := uc.classify(msg)
	if !ok {
		return
	}

	h := uc.deps.Sessions.Current()
	if h == nil {
		uc.log.Warn("cancellation dropped, no active session", zap.String("msg_id", ev.MessageID))
		return
	}

	uc.wg.Add(1)
	go func() {
		defer uc.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				uc.log.Error("claim panicked", zap.Any("panic", r), zap.String("msg_id", ev.MessageID))
			}
		}()

		ctx := context.Background()
		count := h.Increment(ctx, domain.CounterCancellations)
		uc.deps.Metrics.RecordCancellation()
		uc.log.Info(">>> ORDER CANCELLED EVENT DETECTED <<<",
			zap.String("msg_id", ev.MessageID),
			zap.Int64("cancellations", count))

		uc.Claim(ctx, h, ev)
	}()
}

// classify runs parse, filter and dedup. It reports whether the event
// qualifies for a claim.
func (uc *ClaimUsecase) classify(msg domain.InboundMessage) (domain.CancellationEvent, bool) {
	ev, err := domain.ParseEvent(msg.Payload)
	if err != nil {
		uc.log.Warn("discarding malformed payload",
			zap.String("topic", msg.Topic),
			zap.String("payload", truncate(string(msg.Payload), 100)),
			zap.Error(err))
		return ev, false
	}

	if !ev.IsCancellation() {
		uc.log.Debug("ignoring non-cancel event", zap.String("event_type", ev.EventType))
		return ev, false
	}

	if !ev.HasID() {
		// No key to dedup on: processed unconditionally.
		uc.log.Warn("cancellation without id, processing without dedup")
		return ev, true
	}

	if uc.deps.Dedup.SeenOrMark(ev.MessageID) {
		uc.deps.Metrics.RecordDuplicate()
		uc.log.Info("duplicate message ignored", zap.String("msg_id", ev.MessageID))
		return ev, false
	}
	uc.deps.Metrics.SetDedupSize(uc.deps.Dedup.Len())
	return ev, true
}

// Claim runs one fetch+commit race synchronously and returns the finished
// attempt.
func (uc *ClaimUsecase) Claim(ctx context.Context, h *SessionHandle, ev domain.CancellationEvent) *domain.ClaimAttempt {
	attempt := domain.NewClaimAttempt(uc.newID(), ev.MessageID, uc.now())

	ctx, span := uc.tracer.Start(ctx, "rescue.claim", trace.WithAttributes(
		attribute.String("rescue.attempt_id", attempt.ID),
		attribute.String("rescue.msg_id", ev.MessageID),
	))
	defer span.End()

	n := uc.inFlight.Add(1)
	uc.deps.Metrics.SetInFlightClaims(int(n))
	defer func() {
		n := uc.inFlight.Add(-1)
		uc.deps.Metrics.SetInFlightClaims(int(n))
		uc.finish(attempt, span)
	}()

	uc.transition(attempt, domain.ClaimFetching)

	acquireCtx, cancel := context.WithTimeout(ctx, uc.cfg.FetchTimeout)
	err := uc.sem.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		uc.fail(attempt, domain.ClaimMissed, fmt.Errorf("too many claims in flight: %w", err))
		return attempt
	}
	defer uc.sem.Release(1)

	token, err := uc.deps.Tokens.AccessToken(ctx)
	if err != nil || token == "" {
		if err == nil {
			err = errors.New("empty access token")
		}
		uc.fail(attempt, domain.ClaimMissed, fmt.Errorf("access token: %w", err))
		return attempt
	}

	loc, sub := h.Location(), h.Subscription()
	uc.log.Info("1. fetching cart offer", zap.String("location", loc.Name))

	fetchCtx, cancel := context.WithTimeout(ctx, uc.cfg.FetchTimeout)
	offer, err := uc.deps.Offers.FetchOffer(fetchCtx, loc, sub, token)
	cancel()
	if err != nil {
		uc.fail(attempt, domain.ClaimMissed, fmt.Errorf("fetch offer: %w", err))
		return attempt
	}
	if offer == nil {
		uc.fail(attempt, domain.ClaimMissed, errors.New("no cart available for this cancelled order"))
		return attempt
	}
	attempt.ApplyOffer(offer)
	uc.log.Info("cart offer retrieved",
		zap.String("target_id", offer.TargetID),
		zap.Float64("cost", offer.FinalCost),
		zap.Int("viewers", offer.ViewerCount))

	if offer.Expired(uc.now()) {
		uc.fail(attempt, domain.ClaimExpired, errors.New("offer expired before commit"))
		return attempt
	}

	uc.transition(attempt, domain.ClaimCommitting)
	uc.log.Info("2. committing cart to claim it", zap.String("cart_id", offer.CartID))

	commitCtx, cancel := uc.commitContext(ctx, offer)
	result, err := uc.deps.Offers.CommitOffer(commitCtx, offer, loc, sub, token)
	expired := errors.Is(commitCtx.Err(), context.DeadlineExceeded)
	cancel()

	switch {
	case result == domain.CommitSuccess:
		uc.transition(attempt, domain.ClaimWon)
	case expired:
		uc.fail(attempt, domain.ClaimExpired, fmt.Errorf("commit abandoned at offer deadline: %w", errOrDeadline(err)))
		return attempt
	case result == domain.CommitConflict:
		uc.transition(attempt, domain.ClaimLost)
		if err != nil {
			attempt.Error = err.Error()
		}
		uc.log.Info("race lost, offer claimed elsewhere", zap.String("cart_id", offer.CartID))
		if uc.cfg.NotifyOnLoss {
			uc.notify(attempt, false)
		}
		return attempt
	default:
		if err == nil {
			err = errors.New("commit rejected")
		}
		uc.fail(attempt, domain.ClaimFailed, err)
		return attempt
	}

	wins := h.Increment(ctx, domain.CounterClaimedWins)
	uc.log.Info(">>> CART CREATED/CLAIMED SUCCESSFULLY <<<",
		zap.String("cart_id", offer.CartID),
		zap.Int64("wins", wins))

	attempt.Label = uc.resolveLabel(ctx, offer.TargetID, token)
	uc.notify(attempt, true)
	return attempt
}

// Wait blocks until every in-flight claim has finished.
func (uc *ClaimUsecase) Wait() {
	uc.wg.Wait()
}

// InFlight returns the number of running claims.
func (uc *ClaimUsecase) InFlight() int {
	return int(uc.inFlight.Load())
}

// commitContext bounds the commit by the commit timeout and the offer's own
// expiry, whichever comes first.
func (uc *ClaimUsecase) commitContext(ctx context.Context, offer *domain.ClaimOffer) (context.Context, context.CancelFunc) {
	deadline := uc.now().Add(uc.cfg.CommitTimeout)
	if !offer.ExpiresAt.IsZero() && offer.ExpiresAt.Before(deadline) {
		deadline = offer.ExpiresAt
	}
	return context.WithDeadline(ctx, deadline)
}

func (uc *ClaimUsecase) resolveLabel(ctx context.Context, targetID, token string) string {
	if uc.deps.Metadata == nil || targetID == "" {
		return defaultLabel
	}
	ctx, cancel := context.WithTimeout(ctx, uc.cfg.LabelTimeout)
	defer cancel()

	label, err := uc.deps.Metadata.ResolveLabel(ctx, targetID, token)
	if err != nil || label == "" {
		uc.log.Warn("label lookup failed", zap.String("target_id", targetID), zap.Error(err))
		return defaultLabel
	}
	return label
}

func (uc *ClaimUsecase) notify(attempt *domain.ClaimAttempt, won bool) {
	if uc.deps.Notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			uc.log.Error("notifier panicked", zap.Any("panic", r))
		}
	}()

	label := attempt.Label
	if label == "" {
		label = defaultLabel
	}
	ctx, cancel := context.WithTimeout(context.Background(), uc.cfg.NotifyTimeout)
	defer cancel()

	alert := domain.ClaimAlert{Label: label, Cost: attempt.Cost, ViewerCount: attempt.ViewerCount, Won: won}
	if err := uc.deps.Notifier.NotifyClaim(ctx, alert); err != nil {
		uc.log.Warn("notification failed", zap.Error(err))
	}
}

func (uc *ClaimUsecase) transition(attempt *domain.ClaimAttempt, to domain.ClaimState) {
	if err := attempt.Transition(to, uc.now()); err != nil {
		uc.log.Error("claim state", zap.Error(err))
	}
}

func (uc *ClaimUsecase) fail(attempt *domain.ClaimAttempt, to domain.ClaimState, err error) {
	uc.transition(attempt, to)
	attempt.Error = err.Error()
	uc.log.Info("claim not completed",
		zap.String("msg_id", attempt.MessageID),
		zap.String("state", string(to)),
		zap.Error(err))
}

func (uc *ClaimUsecase) finish(attempt *domain.ClaimAttempt, span trace.Span) {
	finishedAt := attempt.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = uc.now()
	}
	elapsed := finishedAt.Sub(attempt.StartedAt)
	uc.deps.Metrics.RecordClaim(string(attempt.State), elapsed)

	span.SetAttributes(attribute.String("rescue.state", string(attempt.State)))
	if attempt.State == domain.ClaimFailed {
		span.SetStatus(codes.Error, attempt.Error)
	}

	if uc.deps.Claims == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := uc.deps.Claims.RecordAttempt(ctx, attempt); err != nil {
		uc.log.Warn("record claim attempt failed", zap.Error(err))
	}
}

func errOrDeadline(err error) error {
	if err == nil {
		return context.DeadlineExceeded
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
