package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
)

// sessionRepo implements the Session repository. The table holds at most
// one row.
type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new Session repository
func NewSessionRepo(db *sql.DB) (repo.SessionRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rescue_session (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			location TEXT NOT NULL,
			subscription TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			total_cancellation_messages INTEGER NOT NULL DEFAULT 0,
			total_claimed_wins INTEGER NOT NULL DEFAULT 0,
			total_reconnects INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &sessionRepo{db: db}, nil
}

// Load gets the active session
func (r *sessionRepo) Load(ctx context.Context) (*domain.RescueSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT location, subscription, started_at,
			total_cancellation_messages, total_claimed_wins, total_reconnects
		FROM rescue_session
		WHERE id = 1
	`)

	var s domain.RescueSession
	var location, subscription string
	var startedAt int64
	err := row.Scan(&location, &subscription, &startedAt,
		&s.TotalCancellationMessages, &s.TotalClaimedWins, &s.TotalReconnects)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if err := json.Unmarshal([]byte(location), &s.Location); err != nil {
		return nil, fmt.Errorf("failed to decode location: %w", err)
	}
	if err := json.Unmarshal([]byte(subscription), &s.Subscription); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	s.StartedAt = time.Unix(startedAt, 0)
	return &s, nil
}

// Save saves the session
func (r *sessionRepo) Save(ctx context.Context, s *domain.RescueSession) error {
	location, err := json.Marshal(s.Location)
	if err != nil {
		return fmt.Errorf("failed to encode location: %w", err)
	}
	subscription, err := json.Marshal(s.Subscription)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rescue_session (id, location, subscription, started_at,
			total_cancellation_messages, total_claimed_wins, total_reconnects)
		VALUES (1, ?, ?, ?, ?, ?, ?)
	`,
		string(location),
		string(subscription),
		s.StartedAt.Unix(),
		s.TotalCancellationMessages,
		s.TotalClaimedWins,
		s.TotalReconnects,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// UpdateSubscription replaces only the subscription column so concurrent
// counter increments are never overwritten.
func (r *sessionRepo) UpdateSubscription(ctx context.Context, sub domain.SubscriptionConfig) error {
	subscription, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE rescue_session SET subscription = ? WHERE id = 1`, string(subscription)); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// Clear deletes the session
func (r *sessionRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM rescue_session`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Increment adds one to a counter in a single statement.
func (r *sessionRepo) Increment(ctx context.Context, c domain.Counter) error {
	var query string
	switch c {
	case domain.CounterCancellations:
		query = `UPDATE rescue_session SET total_cancellation_messages = total_cancellation_messages + 1 WHERE id = 1`
	case domain.CounterClaimedWins:
		query = `UPDATE rescue_session SET total_claimed_wins = total_claimed_wins + 1 WHERE id = 1`
	case domain.CounterReconnects:
		query = `UPDATE rescue_session SET total_reconnects = total_reconnects + 1 WHERE id = 1`
	default:
		return fmt.Errorf("unknown counter %q", c)
	}
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to increment %s: %w", c, err)
	}
	return nil
}
