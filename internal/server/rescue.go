package server

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/api"
	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/usecase"
)

// Monitor is the session lifecycle the server drives.
type Monitor interface {
	Resume(ctx context.Context) (bool, error)
	Enable(ctx context.Context, session *domain.RescueSession) error
	Shutdown(ctx context.Context)
}

// RescueServer runs the monitor and its control API for the life of the
// process.
type RescueServer struct {
	monitor  Monitor
	apiSrv   *api.Server
	location *domain.Location
	cityID   int
	log      *zap.Logger
}

// NewRescueServer creates a new rescue server. location, when set, is
// monitored at startup if no persisted session is resumed.
func NewRescueServer(monitor Monitor, apiSrv *api.Server, location *domain.Location, cityID int, log *zap.Logger) *RescueServer {
	return &RescueServer{
		monitor:  monitor,
		apiSrv:   apiSrv,
		location: location,
		cityID:   cityID,
		log:      log.Named("server"),
	}
}

// Start serves the API and brings up monitoring. A session that fails to
// start is logged, not fatal: the API can enable it later.
func (s *RescueServer) Start(ctx context.Context) error {
	if s.apiSrv != nil {
		if err := s.apiSrv.Start(); err != nil {
			return err
		}
	}

	resumed, err := s.monitor.Resume(ctx)
	switch {
	case err != nil:
		s.log.Error("failed to resume session", zap.Error(err))
		return nil
	case resumed:
		return nil
	case s.location == nil:
		s.log.Info("no session to resume, waiting for enable")
		return nil
	}

	session := &domain.RescueSession{
		Location:     *s.location,
		Subscription: domain.SubscriptionConfig{CityID: s.cityID},
	}
	if err := s.monitor.Enable(ctx, session); err != nil && !errors.Is(err, usecase.ErrSessionActive) {
		s.log.Error("failed to enable configured location",
			zap.String("location", s.location.Name), zap.Error(err))
	}
	return nil
}

// Stop shuts monitoring down, keeping the persisted session, then stops the
// API.
func (s *RescueServer) Stop(ctx context.Context) {
	s.monitor.Shutdown(ctx)
	if s.apiSrv != nil {
		if err := s.apiSrv.Stop(ctx); err != nil {
			s.log.Warn("API server shutdown", zap.Error(err))
		}
	}
}

// Run starts the server and blocks until ctx is cancelled, then stops it
// within the shutdown context built by stopCtx.
func (s *RescueServer) Run(ctx context.Context, stopCtx func() (context.Context, context.CancelFunc)) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	sctx, cancel := stopCtx()
	defer cancel()
	s.Stop(sctx)
	return nil
}
