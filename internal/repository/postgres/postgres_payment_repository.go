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

type PostgresPaymentRepository struct {
	db *sql.DB
}

func NewPostgresPaymentRepository(db *sql.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

const paymentColumns = `id, user_id, amount_cents, currency, status, external_transaction_id,
	payment_type, COALESCE(message_id,''), COALESCE(chat_id,''), COALESCE(transaction_id,''),
	COALESCE(plan_name,''), stars, metadata, created_at, completed_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var userID sql.NullInt64
	var completedAt sql.NullTime
	var meta []byte
	err := row.Scan(&p.ID, &userID, &p.AmountCents, &p.Currency, &p.Status, &p.ExternalTransactionID,
		&p.Type, &p.MessageID, &p.ChatID, &p.TransactionID,
		&p.PlanName, &p.Stars, &meta, &p.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		p.UserID = &userID.Int64
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &p, nil
}

// FindOrCreateByExternalID collapses concurrent creations for one external id
// onto a single record: the insert is conditional on the unique external id,
// and whoever loses the race reads the row the winner created.
func (r *PostgresPaymentRepository) FindOrCreateByExternalID(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	var err error
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "FindOrCreatePayment")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("FindOrCreatePayment", status).Inc()
		observability.RepositoryDuration.WithLabelValues("FindOrCreatePayment").Observe(time.Since(start).Seconds())
	}()

	if p == nil {
		err = pkgerrors.ErrNilPayment
		return nil, err
	}
	if p.ExternalTransactionID == "" {
		err = fmt.Errorf("external transaction id is required")
		return nil, err
	}
	span.SetAttributes(attribute.String("external_transaction_id", p.ExternalTransactionID))

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	if p.Type == "" {
		p.Type = models.PaymentTypeGeneric
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO payments
		(id, user_id, amount_cents, currency, status, external_transaction_id, payment_type,
		 message_id, chat_id, transaction_id, plan_name, stars, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''), NULLIF($9,''), NULLIF($10,''), NULLIF($11,''), $12, $13)
		ON CONFLICT (external_transaction_id) DO NOTHING`
	var userID any
	if p.UserID != nil {
		userID = *p.UserID
	}
	_, err = r.db.ExecContext(ctx, query,
		p.ID, userID, p.AmountCents, p.Currency, p.Status, p.ExternalTransactionID, p.Type,
		p.MessageID, p.ChatID, p.TransactionID, p.PlanName, p.Stars, meta)
	if err != nil {
		slog.Error("failed to create payment", "method", "FindOrCreateByExternalID", "external_transaction_id", p.ExternalTransactionID, "error", err)
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	got, err := r.GetByExternalID(ctx, p.ExternalTransactionID)
	if err != nil {
		return nil, err
	}
	return got, nil
}

func (r *PostgresPaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	var err error
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "GetPaymentByExternalID")
	span.SetAttributes(attribute.String("external_transaction_id", externalID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetPaymentByExternalID", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetPaymentByExternalID").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE external_transaction_id = $1`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, externalID))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPaymentNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get payment", "method", "GetByExternalID", "external_transaction_id", externalID, "error", err)
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (r *PostgresPaymentRepository) SetUser(ctx context.Context, externalID string, userID int64) error {
	var err error
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "SetPaymentUser")
	span.SetAttributes(
		attribute.String("external_transaction_id", externalID),
		attribute.Int64("user_id", userID),
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
		observability.RepositoryCalls.WithLabelValues("SetPaymentUser", status).Inc()
		observability.RepositoryDuration.WithLabelValues("SetPaymentUser").Observe(time.Since(start).Seconds())
	}()

	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET user_id = $2 WHERE external_transaction_id = $1 AND user_id IS NULL`,
		externalID, userID)
	if err != nil {
		slog.Error("failed to set payment user", "method", "SetUser", "external_transaction_id", externalID, "error", err)
		return fmt.Errorf("failed to set payment user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Info("payment user already set", "external_transaction_id", externalID, "user_id", userID)
	}
	return nil
}

// MarkCompleted is the reconciler's idempotency guard: the current status is
// read within the same mutation that updates it, so exactly one delivery
// observes the pre-completion state. Duplicate deliveries return won=false.
func (r *PostgresPaymentRepository) MarkCompleted(ctx context.Context, externalID string) (*models.Payment, bool, error) {
	return r.transition(ctx, "MarkPaymentCompleted", externalID, models.PaymentStatusCompleted)
}

func (r *PostgresPaymentRepository) MarkFailed(ctx context.Context, externalID string) (*models.Payment, bool, error) {
	return r.transition(ctx, "MarkPaymentFailed", externalID, models.PaymentStatusFailed)
}

func (r *PostgresPaymentRepository) MarkCancelled(ctx context.Context, externalID string) (*models.Payment, bool, error) {
	return r.transition(ctx, "MarkPaymentCancelled", externalID, models.PaymentStatusCancelled)
}

func (r *PostgresPaymentRepository) MarkProcessing(ctx context.Context, externalID string) (*models.Payment, bool, error) {
	return r.transition(ctx, "MarkPaymentProcessing", externalID, models.PaymentStatusProcessing)
}

func (r *PostgresPaymentRepository) transition(ctx context.Context, op, externalID string, to models.PaymentStatus) (*models.Payment, bool, error) {
	var err error
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(
		attribute.String("external_transaction_id", externalID),
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

	var from string
	switch to {
	case models.PaymentStatusProcessing:
		from = `('pending')`
	default:
		from = `('pending','processing')`
	}

	var completedAt any
	if to == models.PaymentStatusCompleted {
		completedAt = time.Now().UTC()
	}

	query := `UPDATE payments
		SET status = $2, completed_at = COALESCE($3, completed_at)
		WHERE external_transaction_id = $1 AND status IN ` + from + `
		RETURNING ` + paymentColumns
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, externalID, to, completedAt))
	if err == nil {
		slog.Info("payment transitioned", "method", op, "external_transaction_id", externalID, "status", to)
		return p, true, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		slog.Error("failed to transition payment", "method", op, "external_transaction_id", externalID, "error", err)
		return nil, false, fmt.Errorf("failed to transition payment: %w", err)
	}

	// Lost the transition race or the payment is already terminal. Hand the
	// current record back so the caller can tell duplicate from missing.
	p, err = r.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, false, err
	}
	return p, false, nil
}
