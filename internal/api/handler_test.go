package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/usecase"
	"github.com/rescuewatch/rescue-monitor/internal/metrics"
	"github.com/rescuewatch/rescue-monitor/internal/service"
)

// MockMonitor implements Monitor for testing
type MockMonitor struct {
	enabled    *domain.RescueSession
	enableErr  error
	disabled   int
	disableErr error
}

func (m *MockMonitor) Enable(ctx context.Context, s *domain.RescueSession) error {
	if m.enableErr != nil {
		return m.enableErr
	}
	m.enabled = s
	return nil
}

func (m *MockMonitor) Disable(ctx context.Context) error {
	m.disabled++
	return m.disableErr
}

func (m *MockMonitor) Status() service.Status {
	st := service.Status{ConnState: domain.ConnDisconnected.String()}
	if m.enabled != nil {
		st.Active = true
		st.Session = m.enabled
	}
	return st
}

// MockClaimRepo implements repo.ClaimRepo for testing
type MockClaimRepo struct {
	attempts  []*domain.ClaimAttempt
	lastLimit int
}

func (m *MockClaimRepo) RecordAttempt(ctx context.Context, a *domain.ClaimAttempt) error {
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *MockClaimRepo) ListRecent(ctx context.Context, limit int) ([]*domain.ClaimAttempt, error) {
	m.lastLimit = limit
	if len(m.attempts) > limit {
		return m.attempts[:limit], nil
	}
	return m.attempts, nil
}

func newTestServer(t *testing.T, loc *domain.Location) (*Server, *MockMonitor, *MockClaimRepo) {
	t.Helper()
	mon := &MockMonitor{}
	claims := &MockClaimRepo{}
	return NewServer(mon, claims, prometheus.NewRegistry(), loc, 0, zap.NewNop()), mon, claims
}

func do(t *testing.T, s *Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestEnableWithBody(t *testing.T) {
	s, mon, _ := newTestServer(t, nil)

	body := `{"location":{"name":"Office","address_id":7,"cell_id":"c"},"city_id":4}`
	w := do(t, s, http.MethodPost, "/api/session/enable", bytes.NewBufferString(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NotNil(t, mon.enabled)
	assert.Equal(t, "Office", mon.enabled.Location.Name)
	assert.Equal(t, 4, mon.enabled.Subscription.CityID)

	var st service.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Active)
}

func TestEnableDefaultLocation(t *testing.T) {
	s, mon, _ := newTestServer(t, &domain.Location{Name: "Home"})

	w := do(t, s, http.MethodPost, "/api/session/enable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Home", mon.enabled.Location.Name)
}

func TestEnableErrors(t *testing.T) {
	s, mon, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/api/session/enable", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/session/enable", bytes.NewBufferString("{"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	mon.enableErr = usecase.ErrSessionActive
	w = do(t, s, http.MethodPost, "/api/session/enable", bytes.NewBufferString(`{"location":{"name":"x"}}`))
	assert.Equal(t, http.StatusConflict, w.Code)

	mon.enableErr = errors.New("wake lock held")
	w = do(t, s, http.MethodPost, "/api/session/enable", bytes.NewBufferString(`{"location":{"name":"x"}}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "wake lock held")

	w = do(t, s, http.MethodGet, "/api/session/enable", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDisable(t *testing.T) {
	s, mon, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/api/session/disable", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, mon.disabled)

	mon.disableErr = errors.New("db locked")
	w = do(t, s, http.MethodPost, "/api/session/disable", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSessionStatus(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var st service.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.False(t, st.Active)
	assert.Equal(t, domain.ConnDisconnected.String(), st.ConnState)
}

func TestClaims(t *testing.T) {
	s, _, claims := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/claims", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"claims":[]}`, w.Body.String())
	assert.Equal(t, defaultClaimLimit, claims.lastLimit)

	for _, id := range []string{"a", "b", "c"} {
		claims.attempts = append(claims.attempts, &domain.ClaimAttempt{ID: id, State: domain.ClaimWon})
	}
	w = do(t, s, http.MethodGet, "/api/claims?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ClaimsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Claims, 2)
	assert.Equal(t, "a", resp.Claims[0].ID)

	do(t, s, http.MethodGet, "/api/claims?limit=100000", nil)
	assert.Equal(t, maxClaimLimit, claims.lastLimit)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheus(reg, "")
	collector.RecordCancellation()

	s := NewServer(&MockMonitor{}, &MockClaimRepo{}, reg, nil, 0, zap.NewNop())
	w := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rescue_cancellations_total 1")
}
