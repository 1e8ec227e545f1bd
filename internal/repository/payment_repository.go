package repository

import (
	"context"

	"github.com/litapp/billing-service/internal/models"
)

type PaymentRepository interface {
	// FindOrCreateByExternalID returns the payment for the given external
	// transaction id, creating it in pending status when absent. Concurrent
	// creations for the same external id collapse onto a single record.
	FindOrCreateByExternalID(ctx context.Context, p *models.Payment) (*models.Payment, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	SetUser(ctx context.Context, externalID string, userID int64) error
	// MarkCompleted conditionally transitions pending/processing -> completed.
	// won is true only for the single caller that observed the pre-completion
	// state; duplicate deliveries get won=false and the current record.
	MarkCompleted(ctx context.Context, externalID string) (p *models.Payment, won bool, err error)
	MarkFailed(ctx context.Context, externalID string) (p *models.Payment, won bool, err error)
	MarkCancelled(ctx context.Context, externalID string) (p *models.Payment, won bool, err error)
	MarkProcessing(ctx context.Context, externalID string) (p *models.Payment, won bool, err error)
}
