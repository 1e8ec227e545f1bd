package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/litapp/billing-service/internal/models"
	"github.com/litapp/billing-service/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

type TierService interface {
	Current(ctx context.Context, userID int64) (models.Tier, error)
	// Upgrade raises the tier only when the candidate strictly outranks the
	// current tier; it never lowers one.
	Upgrade(ctx context.Context, userID int64, candidate models.Tier) error
	// SetLitPlus is the explicit subscription set: not rank-compared.
	SetLitPlus(ctx context.Context, userID int64, plan string, startedAt time.Time) error
	// DowngradeToFree is unconditional, whatever the user held before.
	DowngradeToFree(ctx context.Context, userID int64) error
}

type tierService struct {
	userRepo repository.UserRepository
}

func NewTierService(userRepo repository.UserRepository) *tierService {
	return &tierService{userRepo: userRepo}
}

func (s *tierService) Current(ctx context.Context, userID int64) (models.Tier, error) {
	return s.userRepo.GetTier(ctx, userID)
}

func (s *tierService) Upgrade(ctx context.Context, userID int64, candidate models.Tier) error {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "UpgradeTier")
	defer span.End()

	current, err := s.userRepo.GetTier(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get current tier")
		slog.Error("failed to get current tier", "user_id", userID, "error", err)
		return fmt.Errorf("failed to get current tier: %w", err)
	}

	if !models.ShouldUpgrade(current, candidate) {
		slog.Info("tier upgrade skipped", "user_id", userID, "current", current, "candidate", candidate)
		return nil
	}

	if err := s.userRepo.UpdateTier(ctx, userID, candidate); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update tier")
		slog.Error("failed to upgrade tier", "user_id", userID, "candidate", candidate, "error", err)
		return fmt.Errorf("failed to upgrade tier: %w", err)
	}

	slog.Info("tier upgraded", "user_id", userID, "from", current, "to", candidate)
	return nil
}

func (s *tierService) SetLitPlus(ctx context.Context, userID int64, plan string, startedAt time.Time) error {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "SetLitPlus")
	defer span.End()

	if err := s.userRepo.SetSubscription(ctx, userID, models.TierLitPlus, plan, startedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set subscription tier")
		slog.Error("failed to set litplus tier", "user_id", userID, "plan", plan, "error", err)
		return fmt.Errorf("failed to set litplus tier: %w", err)
	}

	slog.Info("subscription tier set", "user_id", userID, "tier", models.TierLitPlus, "plan", plan)
	return nil
}

func (s *tierService) DowngradeToFree(ctx context.Context, userID int64) error {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "DowngradeToFree")
	defer span.End()

	if err := s.userRepo.UpdateTier(ctx, userID, models.TierFree); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to downgrade tier")
		slog.Error("failed to downgrade tier", "user_id", userID, "error", err)
		return fmt.Errorf("failed to downgrade tier: %w", err)
	}

	slog.Info("tier downgraded to free", "user_id", userID)
	return nil
}
