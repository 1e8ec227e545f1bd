package models

import (
	"time"

	"github.com/google/uuid"
)

type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	UserID      int64             `json:"user_id"`
	Type        TransactionType   `json:"type"`
	Amount      int64             `json:"amount"`
	Currency    Currency          `json:"currency"`
	Status      StatusType        `json:"status"`
	CallID      string            `json:"call_id,omitempty"`
	BattleID    string            `json:"battle_id,omitempty"`
	LivePartyID string            `json:"live_party_id,omitempty"`
	PaymentID   string            `json:"payment_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

type TransactionType string

const (
	TypeCall          TransactionType = "call"
	TypeBattleTip     TransactionType = "battle_tip"
	TypeLivePartyTip  TransactionType = "liveparty_tip"
	TypeBattleReward  TransactionType = "battle_reward"
	TypeWalletTopUp   TransactionType = "wallet_topup"
	TypeSubscription  TransactionType = "subscription"
	TypeMessageUnlock TransactionType = "message_unlock"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeCall, TypeBattleTip, TypeLivePartyTip, TypeBattleReward,
		TypeWalletTopUp, TypeSubscription, TypeMessageUnlock:
		return true
	}
	return false
}

type Currency string

const (
	CurrencyStars Currency = "STARS"
	CurrencyUSD   Currency = "USD"
)

type StatusType string

const (
	StatusPending   StatusType = "pending"
	StatusCompleted StatusType = "completed"
	StatusFailed    StatusType = "failed"
	StatusCancelled StatusType = "cancelled"
)

// Terminal reports whether the status permits no further transition.
func (s StatusType) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
