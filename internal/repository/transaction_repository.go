package repository

import (
	"context"

	"github.com/litapp/billing-service/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	// Complete transitions pending -> completed. Completing an already
	// completed transaction is a no-op; completing a failed or cancelled one
	// returns ErrInvalidTransactionTransition.
	Complete(ctx context.Context, id, paymentID, externalRef string) error
	Fail(ctx context.Context, id, reason string) error
	Cancel(ctx context.Context, id, reason string) error
	HistoryByUser(ctx context.Context, userID int64, limit int) ([]models.Transaction, error)
}
