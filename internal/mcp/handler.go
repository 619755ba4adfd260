package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
)

const defaultClaimLimit = 20

// Handler implements the MCP tools on top of the daemon API client
type Handler struct {
	client *Client
}

// NewHandler creates a new MCP handler
func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// StatusResult is what rescue_status returns
type StatusResult struct {
	Summary string      `json:"summary"`
	Status  interface{} `json:"status"`
}

// Status reports the monitor state with a one-line summary
func (h *Handler) Status(ctx context.Context) (*StatusResult, error) {
	st, err := h.client.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Active || st.Session == nil {
		return &StatusResult{Summary: "Rescue monitoring is off.", Status: st}, nil
	}
	s := st.Session
	summary := fmt.Sprintf("Monitoring: %s (%s, up %s). %d cancellations, %d claimed, %d reconnects.",
		s.Location.Name, st.ConnState, st.Uptime,
		s.TotalCancellationMessages, s.TotalClaimedWins, s.TotalReconnects)
	return &StatusResult{Summary: summary, Status: st}, nil
}

// ClaimsResult is what rescue_claims returns
type ClaimsResult struct {
	Summary string                 `json:"summary"`
	Claims  []*domain.ClaimAttempt `json:"claims"`
}

// Claims lists recent claim attempts, summarising the outcomes
func (h *Handler) Claims(ctx context.Context, limit int) (*ClaimsResult, error) {
	if limit <= 0 {
		limit = defaultClaimLimit
	}
	claims, err := h.client.ListClaims(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return &ClaimsResult{Summary: "No claim attempts yet.", Claims: []*domain.ClaimAttempt{}}, nil
	}

	counts := map[domain.ClaimState]int{}
	for _, c := range claims {
		counts[c.State]++
	}
	var parts []string
	for _, state := range []domain.ClaimState{
		domain.ClaimWon, domain.ClaimLost, domain.ClaimMissed, domain.ClaimExpired, domain.ClaimFailed,
	} {
		if n := counts[state]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, state))
		}
	}
	return &ClaimsResult{
		Summary: fmt.Sprintf("%d attempts: %s.", len(claims), strings.Join(parts, ", ")),
		Claims:  claims,
	}, nil
}

// Enable starts monitoring a location, or the daemon's configured one
func (h *Handler) Enable(ctx context.Context, loc *domain.Location, cityID int) (*StatusResult, error) {
	if _, err := h.client.Enable(ctx, EnableRequest{Location: loc, CityID: cityID}); err != nil {
		return nil, err
	}
	return h.Status(ctx)
}

// Disable stops monitoring
func (h *Handler) Disable(ctx context.Context) (string, error) {
	if err := h.client.Disable(ctx); err != nil {
		return "", err
	}
	return "Rescue monitoring disabled.", nil
}
