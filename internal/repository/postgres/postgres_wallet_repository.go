package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/litapp/billing-service/internal/infrastructure/observability"
	"github.com/litapp/billing-service/internal/models"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// maxTxAttempts bounds the optimistic-concurrency retry loop. Past this the
// operation surfaces ErrConcurrentModification to the caller.
const maxTxAttempts = 3

type PostgresWalletRepository struct {
	db *sql.DB
}

func NewPostgresWalletRepository(db *sql.DB) *PostgresWalletRepository {
	return &PostgresWalletRepository{db: db}
}

// retryable reports whether the error is a serialization failure or deadlock
// that a fresh transaction attempt may resolve.
func retryable(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func (r *PostgresWalletRepository) GetOrCreate(ctx context.Context, userID int64) (*models.Wallet, error) {
	var err error
	tracer := otel.Tracer("wallet-repository")
	ctx, span := tracer.Start(ctx, "GetOrCreateWallet")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetOrCreateWallet", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetOrCreateWallet").Observe(time.Since(start).Seconds())
	}()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		slog.Error("failed to create wallet", "method", "GetOrCreate", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	var w models.Wallet
	query := `SELECT user_id, stars, usd_cents, total_earned, total_spent, total_usd_spent, last_activity_at
		FROM wallets WHERE user_id = $1`
	err = r.db.QueryRowContext(ctx, query, userID).Scan(
		&w.UserID, &w.Stars, &w.USDCents, &w.TotalEarned, &w.TotalSpent, &w.TotalUSDSpent, &w.LastActivityAt)
	if err != nil {
		slog.Error("failed to get wallet", "method", "GetOrCreate", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

func (r *PostgresWalletRepository) Debit(ctx context.Context, userID, stars int64, reason string) (int64, error) {
	var newBalance int64
	var err error
	tracer := otel.Tracer("wallet-repository")
	ctx, span := tracer.Start(ctx, "DebitWallet")
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("stars", stars),
		attribute.String("reason", reason),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("DebitWallet", status).Inc()
		observability.RepositoryDuration.WithLabelValues("DebitWallet").Observe(time.Since(start).Seconds())
	}()

	if stars <= 0 {
		err = fmt.Errorf("debit amount must be positive")
		return 0, err
	}

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		newBalance, err = r.debitOnce(ctx, userID, stars)
		if err == nil || !retryable(err) {
			return newBalance, err
		}
		slog.Warn("debit conflicted, retrying", "user_id", userID, "attempt", attempt, "error", err)
	}
	slog.Error("debit retries exhausted", "user_id", userID, "stars", stars, "error", err)
	err = fmt.Errorf("%w: debit for user %d", pkgerrors.ErrConcurrentModification, userID)
	return 0, err
}

func (r *PostgresWalletRepository) debitOnce(ctx context.Context, userID, stars int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var newBalance int64
	query := `UPDATE wallets
		SET stars = stars - $2, total_spent = total_spent + $2, last_activity_at = now()
		WHERE user_id = $1 AND stars >= $2
		RETURNING stars`
	err = tx.QueryRowContext(ctx, query, userID, stars).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		// Wallet exists (ensured above) but holds fewer stars than requested.
		return 0, pkgerrors.ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("failed to debit wallet: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit debit: %w", err)
	}
	return newBalance, nil
}

func (r *PostgresWalletRepository) Credit(ctx context.Context, userID, stars int64, reason string) (int64, error) {
	var newBalance int64
	var err error
	tracer := otel.Tracer("wallet-repository")
	ctx, span := tracer.Start(ctx, "CreditWallet")
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("stars", stars),
		attribute.String("reason", reason),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreditWallet", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreditWallet").Observe(time.Since(start).Seconds())
	}()

	if stars <= 0 {
		err = fmt.Errorf("credit amount must be positive")
		return 0, err
	}

	query := `INSERT INTO wallets (user_id, stars, total_earned, last_activity_at)
		VALUES ($1, $2, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET stars = wallets.stars + EXCLUDED.stars,
		    total_earned = wallets.total_earned + EXCLUDED.stars,
		    last_activity_at = now()
		RETURNING stars`
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = r.db.QueryRowContext(ctx, query, userID, stars).Scan(&newBalance)
		if err == nil || !retryable(err) {
			break
		}
		slog.Warn("credit conflicted, retrying", "user_id", userID, "attempt", attempt, "error", err)
	}
	if err != nil {
		if retryable(err) {
			err = fmt.Errorf("%w: credit for user %d", pkgerrors.ErrConcurrentModification, userID)
		} else {
			err = fmt.Errorf("failed to credit wallet: %w", err)
		}
		slog.Error("failed to credit wallet", "method", "Credit", "user_id", userID, "stars", stars, "error", err)
		return 0, err
	}
	return newBalance, nil
}

func (r *PostgresWalletRepository) AdjustUSD(ctx context.Context, userID, deltaCents int64) (int64, error) {
	var newCents int64
	var err error
	tracer := otel.Tracer("wallet-repository")
	ctx, span := tracer.Start(ctx, "AdjustWalletUSD")
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("delta_cents", deltaCents),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("AdjustWalletUSD", status).Inc()
		observability.RepositoryDuration.WithLabelValues("AdjustWalletUSD").Observe(time.Since(start).Seconds())
	}()

	if deltaCents == 0 {
		err = fmt.Errorf("usd delta must be non-zero")
		return 0, err
	}

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		newCents, err = r.adjustUSDOnce(ctx, userID, deltaCents)
		if err == nil || !retryable(err) {
			return newCents, err
		}
		slog.Warn("usd adjust conflicted, retrying", "user_id", userID, "attempt", attempt, "error", err)
	}
	err = fmt.Errorf("%w: usd adjust for user %d", pkgerrors.ErrConcurrentModification, userID)
	return 0, err
}

func (r *PostgresWalletRepository) adjustUSDOnce(ctx context.Context, userID, deltaCents int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var newCents int64
	if deltaCents > 0 {
		query := `UPDATE wallets
			SET usd_cents = usd_cents + $2, last_activity_at = now()
			WHERE user_id = $1
			RETURNING usd_cents`
		err = tx.QueryRowContext(ctx, query, userID, deltaCents).Scan(&newCents)
	} else {
		query := `UPDATE wallets
			SET usd_cents = usd_cents + $2, total_usd_spent = total_usd_spent - $2, last_activity_at = now()
			WHERE user_id = $1 AND usd_cents >= -$2
			RETURNING usd_cents`
		err = tx.QueryRowContext(ctx, query, userID, deltaCents).Scan(&newCents)
		if stderrors.Is(err, sql.ErrNoRows) {
			return 0, pkgerrors.ErrInsufficientBalance
		}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust usd balance: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit usd adjust: %w", err)
	}
	return newCents, nil
}
