package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

type PaymentType string

const (
	PaymentTypeWalletTopUp  PaymentType = "wallet_topup"
	PaymentTypeSubscription PaymentType = "subscription"
	PaymentTypeUnlock       PaymentType = "unlock"
	PaymentTypeGeneric      PaymentType = "generic"
)

// Payment is the local mirror of one externally-billed charge. At most one
// payment exists per external transaction id; that id is the idempotency key
// the reconciler transitions on.
type Payment struct {
	ID                    uuid.UUID         `json:"id"`
	UserID                *int64            `json:"user_id,omitempty"`
	AmountCents           int64             `json:"amount_cents"`
	Currency              Currency          `json:"currency"`
	Status                PaymentStatus     `json:"status"`
	ExternalTransactionID string            `json:"external_transaction_id"`
	Type                  PaymentType       `json:"type"`
	MessageID             string            `json:"message_id,omitempty"`
	ChatID                string            `json:"chat_id,omitempty"`
	TransactionID         string            `json:"transaction_id,omitempty"`
	PlanName              string            `json:"plan_name,omitempty"`
	Stars                 int64             `json:"stars,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
}
