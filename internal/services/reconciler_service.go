package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/litapp/billing-service/internal/billing"
	"github.com/litapp/billing-service/internal/infrastructure/notify"
	"github.com/litapp/billing-service/internal/infrastructure/observability"
	"github.com/litapp/billing-service/internal/models"
	"github.com/litapp/billing-service/internal/repository"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ReactivationMinter mints the single-use token linked in the
// payment-failed notification.
type ReactivationMinter interface {
	Mint(ctx context.Context, userID int64) (string, error)
}

// ReconcilerService applies externally-delivered billing notifications to
// local state exactly once. Every step is independently idempotent, so a
// crash mid-sequence is safe to resume on redelivery: the payment transition
// is the single gate, and each side effect re-checks its own precondition.
type ReconcilerService interface {
	Process(ctx context.Context, ev *models.WebhookEvent) error
}

type reconcilerService struct {
	paymentRepo  repository.PaymentRepository
	userRepo     repository.UserRepository
	unlockRepo   repository.UnlockRepository
	walletSvc    WalletService
	tierSvc      TierService
	ledgerSvc    LedgerService
	reactivation ReactivationMinter
	notifier     notify.Notifier
}

func NewReconcilerService(
	paymentRepo repository.PaymentRepository,
	userRepo repository.UserRepository,
	unlockRepo repository.UnlockRepository,
	walletSvc WalletService,
	tierSvc TierService,
	ledgerSvc LedgerService,
	reactivation ReactivationMinter,
	notifier notify.Notifier,
) *reconcilerService {
	return &reconcilerService{
		paymentRepo:  paymentRepo,
		userRepo:     userRepo,
		unlockRepo:   unlockRepo,
		walletSvc:    walletSvc,
		tierSvc:      tierSvc,
		ledgerSvc:    ledgerSvc,
		reactivation: reactivation,
		notifier:     notifier,
	}
}

// Process dispatches over the closed event kind set. It returns an error only
// for internal failures; the webhook handler acknowledges the delivery either
// way, leaving the payment record in a state safe to replay.
func (s *reconcilerService) Process(ctx context.Context, ev *models.WebhookEvent) error {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "ReconcileWebhookEvent")
	span.SetAttributes(
		attribute.String("kind", string(ev.Kind)),
		attribute.String("external_transaction_id", ev.ExternalTransactionID),
	)
	defer span.End()

	var err error
	switch ev.Kind {
	case models.KindInvoicePaid:
		err = s.handleCompleted(ctx, ev)
	case models.KindInvoiceFailed:
		err = s.handleFailure(ctx, ev, models.PaymentStatusFailed)
	case models.KindSubscriptionCancelled:
		err = s.handleFailure(ctx, ev, models.PaymentStatusCancelled)
	case models.KindPaymentUpdate:
		err = s.handlePaymentUpdate(ctx, ev)
	default:
		slog.Info("ignoring unknown webhook event", "external_transaction_id", ev.ExternalTransactionID)
		observability.WebhookEvents.WithLabelValues(string(models.KindUnknown), "ignored").Inc()
		return nil
	}

	outcome := "processed"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.WebhookEvents.WithLabelValues(string(ev.Kind), outcome).Inc()
	return err
}

func (s *reconcilerService) handlePaymentUpdate(ctx context.Context, ev *models.WebhookEvent) error {
	switch ev.Status {
	case models.PaymentStatusCompleted:
		return s.handleCompleted(ctx, ev)
	case models.PaymentStatusFailed, models.PaymentStatusRefunded:
		return s.handleFailure(ctx, ev, models.PaymentStatusFailed)
	case models.PaymentStatusCancelled:
		return s.handleFailure(ctx, ev, models.PaymentStatusCancelled)
	case models.PaymentStatusProcessing:
		_, _, err := s.paymentRepo.MarkProcessing(ctx, ev.ExternalTransactionID)
		return err
	default:
		// Pending updates carry no transition; make sure the record exists.
		_, err := s.paymentRepo.FindOrCreateByExternalID(ctx, paymentFromEvent(ev))
		return err
	}
}

func paymentFromEvent(ev *models.WebhookEvent) *models.Payment {
	p := &models.Payment{
		AmountCents:           ev.AmountCents,
		Currency:              ev.Currency,
		Status:                models.PaymentStatusPending,
		ExternalTransactionID: ev.ExternalTransactionID,
		Type:                  ev.Type,
		MessageID:             ev.MessageID,
		ChatID:                ev.ChatID,
		TransactionID:         ev.TransactionID,
		PlanName:              ev.PlanName,
		Stars:                 ev.Stars,
		Metadata:              ev.Metadata,
	}
	if ev.Subscription() && p.Type == "" {
		p.Type = models.PaymentTypeSubscription
	}
	return p
}

func (s *reconcilerService) handleCompleted(ctx context.Context, ev *models.WebhookEvent) error {
	p, err := s.paymentRepo.FindOrCreateByExternalID(ctx, paymentFromEvent(ev))
	if err != nil {
		return fmt.Errorf("failed to locate payment: %w", err)
	}

	userID, err := s.resolveUser(ctx, p, ev)
	if err != nil {
		slog.Warn("could not resolve paying user", "external_transaction_id", ev.ExternalTransactionID, "contact_ref", ev.UserContactRef, "error", err)
	}
	if userID != 0 && p.UserID == nil {
		if err := s.paymentRepo.SetUser(ctx, ev.ExternalTransactionID, userID); err != nil {
			slog.Error("failed to link user to payment", "external_transaction_id", ev.ExternalTransactionID, "user_id", userID, "error", err)
		}
	}

	p, won, err := s.paymentRepo.MarkCompleted(ctx, ev.ExternalTransactionID)
	if err != nil {
		return fmt.Errorf("failed to complete payment: %w", err)
	}
	if !won {
		slog.Info("payment already reconciled, skipping side effects",
			"external_transaction_id", ev.ExternalTransactionID, "status", p.Status)
		return nil
	}

	s.applyCompletionEffects(ctx, p, ev, userID)
	return nil
}

// applyCompletionEffects runs only for the delivery that won the transition
// into completed. Each effect is idempotent on its own; failures are logged
// and do not stop the remaining effects, since replay tooling works from the
// payment record.
func (s *reconcilerService) applyCompletionEffects(ctx context.Context, p *models.Payment, ev *models.WebhookEvent, userID int64) {
	if userID == 0 && p.UserID != nil {
		userID = *p.UserID
	}

	if p.ChatID != "" && p.MessageID != "" && userID != 0 {
		if err := s.unlockRepo.MarkContentUnlocked(ctx, p.ChatID, p.MessageID, userID); err != nil {
			slog.Error("failed to unlock content", "external_transaction_id", p.ExternalTransactionID, "chat_id", p.ChatID, "message_id", p.MessageID, "error", err)
		}
	}

	// Credit and tier effects are independent: a topup that also carries a
	// plan gets both the stars and the subscription tier.
	if p.Type == models.PaymentTypeWalletTopUp && userID != 0 {
		stars := p.Stars
		if stars == 0 {
			stars = billing.ConvertUSDToStars(p.AmountCents)
		}
		if stars > 0 {
			if _, err := s.walletSvc.Credit(ctx, userID, stars, "wallet_topup:"+p.ExternalTransactionID); err != nil {
				slog.Error("failed to credit topup", "external_transaction_id", p.ExternalTransactionID, "user_id", userID, "error", err)
			}
		}
	}

	if ev.Subscription() && userID != 0 {
		if err := s.tierSvc.SetLitPlus(ctx, userID, p.PlanName, time.Now().UTC()); err != nil {
			slog.Error("failed to apply subscription tier", "external_transaction_id", p.ExternalTransactionID, "user_id", userID, "error", err)
		}
	} else if ev.Kind == models.KindPaymentUpdate && userID != 0 {
		candidate := models.TierFromAmount(p.AmountCents)
		if candidate != models.TierFree {
			if err := s.tierSvc.Upgrade(ctx, userID, candidate); err != nil {
				slog.Error("failed to upgrade tier from payment", "external_transaction_id", p.ExternalTransactionID, "user_id", userID, "error", err)
			}
		}
	}

	if p.TransactionID != "" {
		if err := s.ledgerSvc.Complete(ctx, p.TransactionID, p.ID.String(), p.ExternalTransactionID); err != nil {
			slog.Error("failed to complete linked transaction", "transaction_id", p.TransactionID, "external_transaction_id", p.ExternalTransactionID, "error", err)
		}
	}
}

func (s *reconcilerService) handleFailure(ctx context.Context, ev *models.WebhookEvent, to models.PaymentStatus) error {
	p, err := s.paymentRepo.FindOrCreateByExternalID(ctx, paymentFromEvent(ev))
	if err != nil {
		return fmt.Errorf("failed to locate payment: %w", err)
	}

	var won bool
	switch to {
	case models.PaymentStatusCancelled:
		p, won, err = s.paymentRepo.MarkCancelled(ctx, ev.ExternalTransactionID)
	default:
		p, won, err = s.paymentRepo.MarkFailed(ctx, ev.ExternalTransactionID)
	}
	if err != nil {
		return fmt.Errorf("failed to transition payment: %w", err)
	}
	if !won {
		slog.Info("payment failure already reconciled", "external_transaction_id", ev.ExternalTransactionID, "status", p.Status)
		return nil
	}

	userID, err := s.resolveUser(ctx, p, ev)
	if err != nil || userID == 0 {
		slog.Warn("no user to downgrade for failed payment", "external_transaction_id", ev.ExternalTransactionID, "contact_ref", ev.UserContactRef, "error", err)
		return nil
	}

	if err := s.tierSvc.DowngradeToFree(ctx, userID); err != nil {
		slog.Error("failed to downgrade tier", "user_id", userID, "external_transaction_id", ev.ExternalTransactionID, "error", err)
	}

	if ev.Kind == models.KindInvoiceFailed {
		token, err := s.reactivation.Mint(ctx, userID)
		if err != nil {
			slog.Error("failed to mint reactivation token", "user_id", userID, "error", err)
			return nil
		}
		msg := fmt.Sprintf("Your payment failed and your subscription was paused. Reactivate: https://lit.app/reactivate?token=%s", token)
		if err := s.notifier.NotifyUser(ctx, userID, msg); err != nil {
			slog.Error("failed to notify user", "user_id", userID, "error", err)
		}
	}
	return nil
}

// resolveUser prefers the user already linked to the payment; the provider
// contact reference lookup is the fallback. Payment-linked ids win when both
// paths exist and disagree.
func (s *reconcilerService) resolveUser(ctx context.Context, p *models.Payment, ev *models.WebhookEvent) (int64, error) {
	if p != nil && p.UserID != nil {
		return *p.UserID, nil
	}
	if ev.UserContactRef == "" {
		return 0, pkgerrors.ErrUserNotFound
	}
	user, err := s.userRepo.FindByProviderContactRef(ctx, ev.UserContactRef)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to resolve contact ref: %w", err)
	}
	return user.ID, nil
}
