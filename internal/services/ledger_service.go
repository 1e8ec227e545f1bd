package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/litapp/billing-service/internal/models"
	"github.com/litapp/billing-service/internal/repository"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// LedgerService is the append-and-transition record of billable events. The
// ledger is append-only: a record gets exactly one status transition out of
// pending, and nothing is ever deleted.
type LedgerService interface {
	Create(ctx context.Context, tx *models.Transaction) error
	Complete(ctx context.Context, id, paymentID, externalRef string) error
	Fail(ctx context.Context, id, reason string) error
	Cancel(ctx context.Context, id, reason string) error
	History(ctx context.Context, userID int64, limit int) ([]models.Transaction, error)
}

type ledgerService struct {
	transactionRepo repository.TransactionRepository
}

func NewLedgerService(transactionRepo repository.TransactionRepository) *ledgerService {
	return &ledgerService{transactionRepo: transactionRepo}
}

func (s *ledgerService) Create(ctx context.Context, tx *models.Transaction) error {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "CreateLedgerEntry")
	defer span.End()

	if err := s.transactionRepo.Create(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create transaction")
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

func (s *ledgerService) Complete(ctx context.Context, id, paymentID, externalRef string) error {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "CompleteLedgerEntry")
	defer span.End()

	err := s.transactionRepo.Complete(ctx, id, paymentID, externalRef)
	if stderrors.Is(err, pkgerrors.ErrInvalidTransactionTransition) {
		// Programming-error class: logged, rejected, never retried.
		slog.Error("rejected invalid ledger transition", "transaction_id", id, "error", err)
		span.SetStatus(codes.Error, "invalid transition")
		return err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to complete transaction")
		return fmt.Errorf("failed to complete ledger entry: %w", err)
	}
	return nil
}

func (s *ledgerService) Fail(ctx context.Context, id, reason string) error {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "FailLedgerEntry")
	defer span.End()

	err := s.transactionRepo.Fail(ctx, id, reason)
	if stderrors.Is(err, pkgerrors.ErrInvalidTransactionTransition) {
		slog.Error("rejected invalid ledger transition", "transaction_id", id, "error", err)
		span.SetStatus(codes.Error, "invalid transition")
		return err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fail transaction")
		return fmt.Errorf("failed to fail ledger entry: %w", err)
	}
	return nil
}

func (s *ledgerService) Cancel(ctx context.Context, id, reason string) error {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "CancelLedgerEntry")
	defer span.End()

	err := s.transactionRepo.Cancel(ctx, id, reason)
	if stderrors.Is(err, pkgerrors.ErrInvalidTransactionTransition) {
		slog.Error("rejected invalid ledger transition", "transaction_id", id, "error", err)
		span.SetStatus(codes.Error, "invalid transition")
		return err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to cancel transaction")
		return fmt.Errorf("failed to cancel ledger entry: %w", err)
	}
	return nil
}

func (s *ledgerService) History(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "LedgerHistory")
	defer span.End()

	transactions, err := s.transactionRepo.HistoryByUser(ctx, userID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get history")
		slog.Error("failed to get transaction history", "user_id", userID, "error", err)
		return nil, err
	}
	return transactions, nil
}
