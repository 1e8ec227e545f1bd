package models

import "time"

// Wallet is the per-user stars/USD balance. Created lazily on first access,
// never deleted. Mutated only through the wallet repository's atomic operations.
type Wallet struct {
	UserID         int64     `json:"user_id"`
	Stars          int64     `json:"stars"`
	USDCents       int64     `json:"usd_cents"`
	TotalEarned    int64     `json:"total_earned"`
	TotalSpent     int64     `json:"total_spent"`
	TotalUSDSpent  int64     `json:"total_usd_spent"`
	LastActivityAt time.Time `json:"last_activity_at"`
}
