package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/litapp/billing-service/internal/billing"
	"github.com/litapp/billing-service/internal/infrastructure/invoicer"
	"github.com/litapp/billing-service/internal/models"
	"github.com/litapp/billing-service/internal/repository"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CallBillingService turns finished calls, tips and battle rewards into
// wallet mutations and ledger entries. Ending a call is idempotent on the
// call record's own status: the second end of the same call returns the
// stored billing result without re-billing.
type CallBillingService interface {
	EndCall(ctx context.Context, callID string) (*models.BillingResult, error)
	Tip(ctx context.Context, fromUserID, toUserID, stars int64, tipType models.TransactionType, battleID, livePartyID string) error
	AwardBattleReward(ctx context.Context, userID, stars int64, battleID string) error
}

type callBillingService struct {
	callRepo  repository.CallRepository
	walletSvc WalletService
	ledgerSvc LedgerService
	invoicer  invoicer.Invoicer
}

func NewCallBillingService(
	callRepo repository.CallRepository,
	walletSvc WalletService,
	ledgerSvc LedgerService,
	inv invoicer.Invoicer,
) *callBillingService {
	return &callBillingService{
		callRepo:  callRepo,
		walletSvc: walletSvc,
		ledgerSvc: ledgerSvc,
		invoicer:  inv,
	}
}

func (s *callBillingService) EndCall(ctx context.Context, callID string) (*models.BillingResult, error) {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "EndCall")
	span.SetAttributes(attribute.String("call_id", callID))
	defer span.End()

	endedAt := time.Now().UTC()
	call, won, err := s.callRepo.ClaimEnd(ctx, callID, endedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to claim call end")
		slog.Error("failed to claim call end", "call_id", callID, "error", err)
		return nil, err
	}
	if !won {
		if call.BillingStatus.Settled() {
			// Already billed: hand back the previously computed result.
			slog.Info("call already ended, returning stored billing result", "call_id", callID)
			return &models.BillingResult{
				CallID:          call.ID,
				DurationSeconds: call.DurationSeconds,
				Cost:            call.Cost,
				BillingStatus:   call.BillingStatus,
				TransactionID:   call.TransactionID,
				InvoiceID:       call.InvoiceID,
			}, nil
		}
		// Claimed earlier but the charge never landed. Run billing again.
		slog.Info("resuming billing for ended call", "call_id", callID, "billing_status", call.BillingStatus)
	}

	billedUntil := endedAt
	if call.EndedAt != nil {
		billedUntil = *call.EndedAt
	}
	duration := int64(billedUntil.Sub(call.StartedAt).Seconds())
	cost := billing.CalculateCallCost(duration, call.RatePerMinute)

	res := &models.BillingResult{
		CallID:          callID,
		DurationSeconds: duration,
		Cost:            cost,
	}

	if cost == 0 {
		res.BillingStatus = models.CallBillingFree
		if err := s.callRepo.RecordBillingResult(ctx, callID, res); err != nil {
			return nil, err
		}
		return res, nil
	}

	_, err = s.walletSvc.Debit(ctx, call.CallerID, cost, fmt.Sprintf("call:%s", callID))
	switch {
	case err == nil:
		tx := &models.Transaction{
			UserID:   call.CallerID,
			Type:     models.TypeCall,
			Amount:   cost,
			Currency: models.CurrencyStars,
			Status:   models.StatusCompleted,
			CallID:   callID,
		}
		if err := s.ledgerSvc.Create(ctx, tx); err != nil {
			slog.Error("failed to record call transaction", "call_id", callID, "error", err)
		} else {
			res.TransactionID = tx.ID.String()
		}
		res.BillingStatus = models.CallBillingPaid

	case stderrors.Is(err, pkgerrors.ErrInsufficientBalance):
		// USD fallback: invoice the caller; the invoice id is the external
		// transaction id the reconciler will later complete against.
		invoiceID, invErr := s.invoicer.CreateInvoice(ctx, call.CallerID, billing.ConvertStarsToUSD(cost),
			fmt.Sprintf("Call %s (%d seconds)", callID, duration),
			invoicer.CorrelationRefs{CallID: callID})
		if invErr != nil {
			span.RecordError(invErr)
			span.SetStatus(codes.Error, "fallback invoicing failed")
			slog.Error("fallback invoicing failed", "call_id", callID, "user_id", call.CallerID, "error", invErr)
			// Keep the call resumable: a failed outcome makes the next
			// end-call attempt re-run billing instead of replaying.
			res.BillingStatus = models.CallBillingFailed
			if recErr := s.callRepo.RecordBillingResult(ctx, callID, res); recErr != nil {
				slog.Error("failed to store failed billing outcome", "call_id", callID, "error", recErr)
			}
			return nil, invErr
		}
		tx := &models.Transaction{
			UserID:    call.CallerID,
			Type:      models.TypeCall,
			Amount:    cost,
			Currency:  models.CurrencyUSD,
			Status:    models.StatusPending,
			CallID:    callID,
			PaymentID: invoiceID,
		}
		if err := s.ledgerSvc.Create(ctx, tx); err != nil {
			slog.Error("failed to record pending call transaction", "call_id", callID, "error", err)
		} else {
			res.TransactionID = tx.ID.String()
		}
		res.BillingStatus = models.CallBillingInvoiced
		res.InvoiceID = invoiceID

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "debit failed")
		return nil, err
	}

	if err := s.callRepo.RecordBillingResult(ctx, callID, res); err != nil {
		slog.Error("failed to store billing result", "call_id", callID, "error", err)
		return nil, err
	}

	slog.Info("call billed", "call_id", callID, "duration_seconds", duration, "cost", cost, "billing_status", res.BillingStatus)
	return res, nil
}

// Tip moves stars from sender to recipient. Stars-denominated debits never
// fall back to invoicing: insufficient stars is a terminal user-facing
// failure.
func (s *callBillingService) Tip(ctx context.Context, fromUserID, toUserID, stars int64, tipType models.TransactionType, battleID, livePartyID string) error {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "Tip")
	span.SetAttributes(
		attribute.Int64("from_user_id", fromUserID),
		attribute.Int64("to_user_id", toUserID),
		attribute.Int64("stars", stars),
		attribute.String("type", string(tipType)),
	)
	defer span.End()

	if stars <= 0 {
		return fmt.Errorf("tip amount must be positive")
	}
	if fromUserID == 0 || toUserID == 0 {
		return fmt.Errorf("tip requires sender and recipient")
	}
	if tipType != models.TypeBattleTip && tipType != models.TypeLivePartyTip {
		return pkgerrors.ErrInvalidTransactionType
	}

	reason := fmt.Sprintf("%s:%d", tipType, toUserID)
	if _, err := s.walletSvc.Debit(ctx, fromUserID, stars, reason); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tip debit failed")
		return err
	}

	tx := &models.Transaction{
		UserID:      fromUserID,
		Type:        tipType,
		Amount:      stars,
		Currency:    models.CurrencyStars,
		Status:      models.StatusCompleted,
		BattleID:    battleID,
		LivePartyID: livePartyID,
		Metadata:    map[string]string{"to_user_id": fmt.Sprintf("%d", toUserID)},
	}
	if err := s.ledgerSvc.Create(ctx, tx); err != nil {
		slog.Error("failed to record tip transaction", "from_user_id", fromUserID, "error", err)
	}

	if _, err := s.walletSvc.Credit(ctx, toUserID, stars, reason); err != nil {
		slog.Error("failed to credit tip recipient", "to_user_id", toUserID, "stars", stars, "error", err)
		return err
	}

	slog.Info("tip processed", "from_user_id", fromUserID, "to_user_id", toUserID, "stars", stars, "type", tipType)
	return nil
}

func (s *callBillingService) AwardBattleReward(ctx context.Context, userID, stars int64, battleID string) error {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "AwardBattleReward")
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("stars", stars),
		attribute.String("battle_id", battleID),
	)
	defer span.End()

	if stars <= 0 {
		return fmt.Errorf("reward amount must be positive")
	}

	if _, err := s.walletSvc.Credit(ctx, userID, stars, fmt.Sprintf("battle_reward:%s", battleID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reward credit failed")
		return err
	}

	tx := &models.Transaction{
		UserID:   userID,
		Type:     models.TypeBattleReward,
		Amount:   stars,
		Currency: models.CurrencyStars,
		Status:   models.StatusCompleted,
		BattleID: battleID,
	}
	if err := s.ledgerSvc.Create(ctx, tx); err != nil {
		slog.Error("failed to record battle reward transaction", "user_id", userID, "error", err)
	}

	slog.Info("battle reward credited", "user_id", userID, "stars", stars, "battle_id", battleID)
	return nil
}
