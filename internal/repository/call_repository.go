package repository

import (
	"context"
	"time"

	"github.com/litapp/billing-service/internal/models"
)

type CallRepository interface {
	Create(ctx context.Context, call *models.Call) error
	GetByID(ctx context.Context, id string) (*models.Call, error)
	// ClaimEnd conditionally transitions active -> ended. Exactly one caller
	// wins the claim; everyone else reads the stored record.
	ClaimEnd(ctx context.Context, id string, endedAt time.Time) (call *models.Call, won bool, err error)
	// RecordBillingResult stores the computed outcome on the claimed call.
	RecordBillingResult(ctx context.Context, id string, res *models.BillingResult) error
}
