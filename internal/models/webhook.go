package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
)

type WebhookKind string

const (
	KindInvoicePaid           WebhookKind = "invoice_paid"
	KindInvoiceFailed         WebhookKind = "invoice_failed"
	KindSubscriptionCancelled WebhookKind = "subscription_cancelled"
	KindPaymentUpdate         WebhookKind = "payment_update"
	KindUnknown               WebhookKind = "unknown"
)

// WebhookEvent is the tagged union the reconciler dispatches on. The raw
// provider payload is parsed and validated exactly once at the boundary;
// everything past this point works with the closed Kind set.
type WebhookEvent struct {
	Kind                  WebhookKind
	ExternalTransactionID string
	UserContactRef        string
	AmountCents           int64
	Currency              Currency
	Status                PaymentStatus
	Type                  PaymentType
	MessageID             string
	ChatID                string
	TransactionID         string
	PlanName              string
	Interval              string
	Stars                 int64
	Metadata              map[string]string
}

// Subscription reports whether the event carries any subscription indicator:
// explicit metadata type, a plan name, or a billing interval.
func (e *WebhookEvent) Subscription() bool {
	return e.Type == PaymentTypeSubscription || e.PlanName != "" || e.Interval != ""
}

type webhookPayload struct {
	Kind                  string `json:"kind"`
	Event                 string `json:"event"`
	ExternalTransactionID string `json:"external_transaction_id" validate:"required"`
	UserContactRef        string `json:"user_contact_ref"`
	AmountCents           int64  `json:"amount_cents" validate:"gte=0"`
	Currency              string `json:"currency"`
	Status                string `json:"status"`
	Metadata              struct {
		Type          string `json:"type"`
		TransactionID string `json:"transaction_id"`
		MessageID     string `json:"message_id"`
		ChatID        string `json:"chat_id"`
		PlanName      string `json:"plan_name"`
		Interval      string `json:"interval"`
		Stars         int64  `json:"stars"`
		Extra         map[string]string `json:"extra"`
	} `json:"metadata"`
}

var webhookValidate = validator.New()

// ParseWebhookEvent validates a raw provider notification into a WebhookEvent.
// Malformed JSON and payloads missing the external transaction id return
// ErrInvalidWebhookPayload; unrecognised kinds parse into KindUnknown so the
// caller can acknowledge and ignore them.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var raw webhookPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidWebhookPayload, err)
	}
	if err := webhookValidate.Struct(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidWebhookPayload, err)
	}

	// Some provider versions send the kind under "event".
	kind := raw.Kind
	if kind == "" {
		kind = raw.Event
	}

	ev := &WebhookEvent{
		ExternalTransactionID: raw.ExternalTransactionID,
		UserContactRef:        raw.UserContactRef,
		AmountCents:           raw.AmountCents,
		Currency:              Currency(raw.Currency),
		Status:                PaymentStatus(raw.Status),
		Type:                  PaymentType(raw.Metadata.Type),
		MessageID:             raw.Metadata.MessageID,
		ChatID:                raw.Metadata.ChatID,
		TransactionID:         raw.Metadata.TransactionID,
		PlanName:              raw.Metadata.PlanName,
		Interval:              raw.Metadata.Interval,
		Stars:                 raw.Metadata.Stars,
		Metadata:              raw.Metadata.Extra,
	}
	if ev.Currency == "" {
		ev.Currency = CurrencyUSD
	}

	switch kind {
	case "invoice.paid", "invoice_paid":
		ev.Kind = KindInvoicePaid
		ev.Status = PaymentStatusCompleted
	case "invoice.failed", "invoice_failed", "invoice.payment_failed":
		ev.Kind = KindInvoiceFailed
		ev.Status = PaymentStatusFailed
	case "subscription.cancelled", "subscription_cancelled", "subscription.canceled":
		ev.Kind = KindSubscriptionCancelled
		ev.Status = PaymentStatusCancelled
	case "payment.updated", "payment_update", "payment.status":
		ev.Kind = KindPaymentUpdate
		if !validPaymentStatus(ev.Status) {
			return nil, fmt.Errorf("%w: unknown payment status %q", pkgerrors.ErrInvalidWebhookPayload, raw.Status)
		}
	default:
		ev.Kind = KindUnknown
	}
	return ev, nil
}

func validPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	}
	return false
}
