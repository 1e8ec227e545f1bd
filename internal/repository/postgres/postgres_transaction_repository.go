package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/litapp/billing-service/internal/infrastructure/observability"
	"github.com/litapp/billing-service/internal/models"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateTransaction", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateTransaction").Observe(time.Since(start).Seconds())
	}()

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to create transaction", "method", "Create", "error", err)
		return err
	}
	if !tx.Type.Valid() {
		err = pkgerrors.ErrInvalidTransactionType
		slog.Error("invalid transaction type", "method", "Create", "type", tx.Type, "error", err)
		return err
	}
	if tx.Amount <= 0 {
		err = fmt.Errorf("amount must be positive")
		slog.Error("amount must be positive", "method", "Create", "amount", tx.Amount, "error", err)
		return err
	}
	if tx.Currency != models.CurrencyStars && tx.Currency != models.CurrencyUSD {
		err = fmt.Errorf("unknown currency %q", tx.Currency)
		slog.Error("unknown currency", "method", "Create", "currency", tx.Currency, "error", err)
		return err
	}

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.Status == "" {
		tx.Status = models.StatusPending
	}

	span.SetAttributes(
		attribute.Int64("user_id", tx.UserID),
		attribute.Int64("amount", tx.Amount),
		attribute.String("type", string(tx.Type)),
		attribute.String("currency", string(tx.Currency)),
	)

	meta, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO transactions
		(id, user_id, type, amount, currency, status, call_id, battle_id, live_party_id, payment_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), NULLIF($10,''), $11)
		RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Currency, tx.Status,
		tx.CallID, tx.BattleID, tx.LivePartyID, tx.PaymentID, meta,
	).Scan(&tx.CreatedAt)
	if err != nil {
		slog.Error("failed to create transaction", "method", "Create", "user_id", tx.UserID, "type", tx.Type, "error", err)
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("transaction created", "method", "Create", "id", tx.ID, "user_id", tx.UserID, "type", tx.Type, "status", tx.Status)
	return nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "GetTransactionByID")
	span.SetAttributes(attribute.String("transaction_id", id))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetTransactionByID", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetTransactionByID").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT id, user_id, type, amount, currency, status,
		COALESCE(call_id,''), COALESCE(battle_id,''), COALESCE(live_party_id,''), COALESCE(payment_id,''),
		metadata, created_at, completed_at
		FROM transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return tx, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	var meta []byte
	var completedAt sql.NullTime
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Currency, &tx.Status,
		&tx.CallID, &tx.BattleID, &tx.LivePartyID, &tx.PaymentID,
		&meta, &tx.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		tx.CompletedAt = &completedAt.Time
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &tx, nil
}

// Complete transitions pending -> completed. The transition is applied with a
// conditional update so redelivered completions collapse to a no-op.
func (r *PostgresTransactionRepository) Complete(ctx context.Context, id, paymentID, externalRef string) error {
	return r.transition(ctx, "CompleteTransaction", id, models.StatusCompleted, paymentID, externalRef)
}

func (r *PostgresTransactionRepository) Fail(ctx context.Context, id, reason string) error {
	return r.transition(ctx, "FailTransaction", id, models.StatusFailed, "", reason)
}

func (r *PostgresTransactionRepository) Cancel(ctx context.Context, id, reason string) error {
	return r.transition(ctx, "CancelTransaction", id, models.StatusCancelled, "", reason)
}

func (r *PostgresTransactionRepository) transition(ctx context.Context, op, id string, to models.StatusType, paymentID, ref string) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(
		attribute.String("transaction_id", id),
		attribute.String("to_status", string(to)),
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
		observability.RepositoryCalls.WithLabelValues(op, status).Inc()
		observability.RepositoryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var completedAt any
	if to == models.StatusCompleted {
		completedAt = time.Now().UTC()
	}

	query := `UPDATE transactions
		SET status = $2,
		    completed_at = COALESCE($3, completed_at),
		    payment_id = COALESCE(NULLIF($4,''), payment_id)
		WHERE id = $1 AND status = 'pending'
		RETURNING id`
	var updated string
	err = r.db.QueryRowContext(ctx, query, id, to, completedAt, paymentID).Scan(&updated)
	if err == nil {
		slog.Info("transaction transitioned", "method", op, "transaction_id", id, "status", to, "ref", ref)
		return nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		slog.Error("failed to transition transaction", "method", op, "transaction_id", id, "error", err)
		return fmt.Errorf("failed to transition transaction: %w", err)
	}

	// No pending row: either the record is already in the requested terminal
	// state (no-op) or someone asks for a cross-terminal transition.
	var current models.StatusType
	err = r.db.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = $1`, id).Scan(&current)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to read transaction status: %w", err)
	}
	if current == to {
		err = nil
		slog.Info("transaction already in target status", "method", op, "transaction_id", id, "status", to)
		return nil
	}
	err = fmt.Errorf("%w: %s -> %s for %s", pkgerrors.ErrInvalidTransactionTransition, current, to, id)
	slog.Error("invalid transaction transition", "method", op, "transaction_id", id, "from", current, "to", to)
	return err
}

func (r *PostgresTransactionRepository) HistoryByUser(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "TransactionHistory")
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
		observability.RepositoryCalls.WithLabelValues("TransactionHistory", status).Inc()
		observability.RepositoryDuration.WithLabelValues("TransactionHistory").Observe(time.Since(start).Seconds())
	}()

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, type, amount, currency, status,
		COALESCE(call_id,''), COALESCE(battle_id,''), COALESCE(live_party_id,''), COALESCE(payment_id,''),
		metadata, created_at, completed_at
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		slog.Error("failed to get transaction history", "method", "HistoryByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			err = scanErr
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return out, nil
}
