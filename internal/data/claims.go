package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
)

const defaultClaimLimit = 50

// claimRepo implements the claim history repository
type claimRepo struct {
	db *sql.DB
}

// NewClaimRepo creates a new claim history repository
func NewClaimRepo(db *sql.DB) (repo.ClaimRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS claim_attempts (
			id TEXT PRIMARY KEY,
			msg_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			target_id TEXT NOT NULL DEFAULT '',
			cost REAL NOT NULL DEFAULT 0,
			viewer_count INTEGER NOT NULL DEFAULT 0,
			label TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create claim_attempts table: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_claims_started ON claim_attempts(started_at)`)

	return &claimRepo{db: db}, nil
}

// RecordAttempt stores a finished attempt
func (r *claimRepo) RecordAttempt(ctx context.Context, a *domain.ClaimAttempt) error {
	var finishedAt int64
	if !a.FinishedAt.IsZero() {
		finishedAt = a.FinishedAt.UnixMilli()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO claim_attempts
			(id, msg_id, state, target_id, cost, viewer_count, label, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.MessageID, string(a.State), a.TargetID, a.Cost, a.ViewerCount,
		a.Label, a.Error, a.StartedAt.UnixMilli(), finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record claim attempt: %w", err)
	}
	return nil
}

// ListRecent lists the latest attempts, newest first
func (r *claimRepo) ListRecent(ctx context.Context, limit int) ([]*domain.ClaimAttempt, error) {
	if limit <= 0 {
		limit = defaultClaimLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, msg_id, state, target_id, cost, viewer_count, label, error, started_at, finished_at
		FROM claim_attempts
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claim attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.ClaimAttempt
	for rows.Next() {
		var a domain.ClaimAttempt
		var state string
		var startedAt, finishedAt int64
		if err := rows.Scan(&a.ID, &a.MessageID, &state, &a.TargetID, &a.Cost, &a.ViewerCount,
			&a.Label, &a.Error, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claim attempt: %w", err)
		}
		a.State = domain.ClaimState(state)
		a.StartedAt = time.UnixMilli(startedAt)
		if finishedAt > 0 {
			a.FinishedAt = time.UnixMilli(finishedAt)
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
