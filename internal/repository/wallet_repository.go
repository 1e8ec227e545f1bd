package repository

import (
	"context"

	"github.com/litapp/billing-service/internal/models"
)

type WalletRepository interface {
	GetOrCreate(ctx context.Context, userID int64) (*models.Wallet, error)
	// Debit subtracts stars atomically. It fails with ErrInsufficientBalance
	// and no mutation when the wallet holds fewer stars than requested.
	Debit(ctx context.Context, userID, stars int64, reason string) (newBalance int64, err error)
	// Credit adds stars atomically; crediting has no upper bound check.
	Credit(ctx context.Context, userID, stars int64, reason string) (newBalance int64, err error)
	// AdjustUSD applies a signed delta to the USD sub-balance.
	AdjustUSD(ctx context.Context, userID, deltaCents int64) (newCents int64, err error)
}
