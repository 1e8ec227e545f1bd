package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/litapp/billing-service/internal/models"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
)

type PostgresCallRepository struct {
	db *sql.DB
}

func NewPostgresCallRepository(db *sql.DB) *PostgresCallRepository {
	return &PostgresCallRepository{db: db}
}

const callColumns = `id, caller_id, rate_per_minute, status, started_at, ended_at,
	COALESCE(duration_seconds, 0), COALESCE(cost, 0), COALESCE(billing_status,''),
	COALESCE(transaction_id,''), COALESCE(invoice_id,'')`

func scanCall(row rowScanner) (*models.Call, error) {
	var c models.Call
	var endedAt sql.NullTime
	err := row.Scan(&c.ID, &c.CallerID, &c.RatePerMinute, &c.Status, &c.StartedAt, &endedAt,
		&c.DurationSeconds, &c.Cost, &c.BillingStatus, &c.TransactionID, &c.InvoiceID)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		c.EndedAt = &endedAt.Time
	}
	return &c, nil
}

func (r *PostgresCallRepository) Create(ctx context.Context, call *models.Call) error {
	if call.Status == "" {
		call.Status = models.CallStatusActive
	}
	query := `INSERT INTO calls (id, caller_id, rate_per_minute, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, call.ID, call.CallerID, call.RatePerMinute, call.Status, call.StartedAt)
	if err != nil {
		slog.Error("failed to create call", "call_id", call.ID, "error", err)
		return fmt.Errorf("failed to create call: %w", err)
	}
	return nil
}

func (r *PostgresCallRepository) GetByID(ctx context.Context, id string) (*models.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return c, nil
}

// ClaimEnd flips active -> ended with a conditional update so only one caller
// gets to run the billing computation for the call.
func (r *PostgresCallRepository) ClaimEnd(ctx context.Context, id string, endedAt time.Time) (*models.Call, bool, error) {
	query := `UPDATE calls SET status = 'ended', ended_at = $2
		WHERE id = $1 AND status = 'active'
		RETURNING ` + callColumns
	c, err := scanCall(r.db.QueryRowContext(ctx, query, id, endedAt))
	if err == nil {
		return c, true, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		slog.Error("failed to claim call end", "call_id", id, "error", err)
		return nil, false, fmt.Errorf("failed to claim call end: %w", err)
	}

	c, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return c, false, nil
}

func (r *PostgresCallRepository) RecordBillingResult(ctx context.Context, id string, res *models.BillingResult) error {
	query := `UPDATE calls
		SET duration_seconds = $2, cost = $3, billing_status = $4,
		    transaction_id = NULLIF($5,''), invoice_id = NULLIF($6,'')
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id,
		res.DurationSeconds, res.Cost, res.BillingStatus, res.TransactionID, res.InvoiceID)
	if err != nil {
		slog.Error("failed to record billing result", "call_id", id, "error", err)
		return fmt.Errorf("failed to record billing result: %w", err)
	}
	return nil
}
