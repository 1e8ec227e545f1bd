package repository

import (
	"context"
	"time"

	"github.com/litapp/billing-service/internal/models"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	// FindByProviderContactRef resolves a billing-provider contact reference
	// to a user; returns ErrUserNotFound when no user carries the reference.
	FindByProviderContactRef(ctx context.Context, ref string) (*models.User, error)
	GetTier(ctx context.Context, userID int64) (models.Tier, error)
	UpdateTier(ctx context.Context, userID int64, tier models.Tier) error
	SetSubscription(ctx context.Context, userID int64, tier models.Tier, plan string, startedAt time.Time) error
}
