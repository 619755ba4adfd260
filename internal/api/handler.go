package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
	"github.com/rescuewatch/rescue-monitor/internal/biz/usecase"
	"github.com/rescuewatch/rescue-monitor/internal/service"
)

const (
	defaultClaimLimit = 20
	maxClaimLimit     = 500
)

// Monitor is the session control surface the API exposes.
type Monitor interface {
	Enable(ctx context.Context, session *domain.RescueSession) error
	Disable(ctx context.Context) error
	Status() service.Status
}

// Server provides the HTTP status and control API for rescuectl and
// rescue-mcp.
type Server struct {
	monitor         Monitor
	claimRepo       repo.ClaimRepo
	gatherer        prometheus.Gatherer
	defaultLocation *domain.Location
	log             *zap.Logger

	server *http.Server
	port   int
}

// EnableRequest is the body of POST /api/session/enable. An omitted
// location falls back to the configured one.
type EnableRequest struct {
	Location *domain.Location `json:"location,omitempty"`
	CityID   int              `json:"city_id,omitempty"`
}

// ClaimsResponse is the body of GET /api/claims.
type ClaimsResponse struct {
	Claims []*domain.ClaimAttempt `json:"claims"`
}

// NewServer creates a new API server. gatherer may be nil, in which case
// /metrics serves the default registry.
func NewServer(monitor Monitor, claimRepo repo.ClaimRepo, gatherer prometheus.Gatherer, defaultLocation *domain.Location, port int, log *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		monitor:         monitor,
		claimRepo:       claimRepo,
		gatherer:        gatherer,
		defaultLocation: defaultLocation,
		log:             log.Named("api"),
		port:            port,
	}
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/session/enable", s.handleEnable)
	mux.HandleFunc("/api/session/disable", s.handleDisable)
	mux.HandleFunc("/api/claims", s.handleClaims)

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Start starts the HTTP server on loopback. It returns once the listener
// is bound; serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.port, err)
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("starting HTTP server", zap.Int("port", s.port))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetPort returns the server port
func (s *Server) GetPort() int {
	return s.port
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.monitor.Status())
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req EnableRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	loc := req.Location
	if loc == nil {
		loc = s.defaultLocation
	}
	if loc == nil {
		http.Error(w, "location is required", http.StatusBadRequest)
		return
	}

	session := &domain.RescueSession{
		Location:     *loc,
		Subscription: domain.SubscriptionConfig{CityID: req.CityID},
	}
	if err := s.monitor.Enable(r.Context(), session); err != nil {
		if errors.Is(err, usecase.ErrSessionActive) {
			s.writeErrorStatus(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, s.monitor.Status())
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.monitor.Disable(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"success": true})
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultClaimLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, maxClaimLimit)
		}
	}

	claims, err := s.claimRepo.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if claims == nil {
		claims = []*domain.ClaimAttempt{}
	}
	s.writeJSON(w, ClaimsResponse{Claims: claims})
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorStatus(w, http.StatusInternalServerError, err)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
