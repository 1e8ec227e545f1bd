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

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT id, tier, COALESCE(provider_contact_ref,''), COALESCE(subscription_plan,''),
		subscription_started_at, created_at
		FROM users WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresUserRepository) FindByProviderContactRef(ctx context.Context, ref string) (*models.User, error) {
	if ref == "" {
		return nil, pkgerrors.ErrUserNotFound
	}
	query := `SELECT id, tier, COALESCE(provider_contact_ref,''), COALESCE(subscription_plan,''),
		subscription_started_at, created_at
		FROM users WHERE provider_contact_ref = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, ref))
}

func (r *PostgresUserRepository) scanOne(row *sql.Row) (*models.User, error) {
	var u models.User
	var startedAt sql.NullTime
	err := row.Scan(&u.ID, &u.Tier, &u.ProviderContactRef, &u.SubscriptionPlan, &startedAt, &u.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if startedAt.Valid {
		u.SubscriptionStartedAt = &startedAt.Time
	}
	return &u, nil
}

func (r *PostgresUserRepository) GetTier(ctx context.Context, userID int64) (models.Tier, error) {
	var tier models.Tier
	err := r.db.QueryRowContext(ctx, `SELECT tier FROM users WHERE id = $1`, userID).Scan(&tier)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get tier: %w", err)
	}
	return tier, nil
}

func (r *PostgresUserRepository) UpdateTier(ctx context.Context, userID int64, tier models.Tier) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET tier = $2 WHERE id = $1`, userID, tier)
	if err != nil {
		slog.Error("failed to update tier", "method", "UpdateTier", "user_id", userID, "tier", tier, "error", err)
		return fmt.Errorf("failed to update tier: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserRepository) SetSubscription(ctx context.Context, userID int64, tier models.Tier, plan string, startedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET tier = $2, subscription_plan = NULLIF($3,''), subscription_started_at = $4 WHERE id = $1`,
		userID, tier, plan, startedAt)
	if err != nil {
		slog.Error("failed to set subscription", "method", "SetSubscription", "user_id", userID, "plan", plan, "error", err)
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrUserNotFound
	}
	return nil
}
