package models

import "time"

type CallStatus string

const (
	CallStatusActive CallStatus = "active"
	CallStatusEnded  CallStatus = "ended"
)

type CallBillingStatus string

const (
	CallBillingPaid     CallBillingStatus = "paid"
	CallBillingInvoiced CallBillingStatus = "invoiced"
	CallBillingFree     CallBillingStatus = "free"
	// CallBillingFailed marks a claimed call whose charge did not land.
	// Ending the call again resumes billing instead of replaying a result.
	CallBillingFailed CallBillingStatus = "failed"
)

// Settled reports whether the billing outcome is final. An unset or failed
// status means a later end-call attempt must run billing again.
func (s CallBillingStatus) Settled() bool {
	return s == CallBillingPaid || s == CallBillingInvoiced || s == CallBillingFree
}

type Call struct {
	ID            string     `json:"id"`
	CallerID      int64      `json:"caller_id"`
	RatePerMinute int64      `json:"rate_per_minute"`
	Status        CallStatus `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`

	// Billing outcome, written once when the call is ended. Ending an
	// already-ended call returns this stored result unchanged.
	DurationSeconds int64             `json:"duration_seconds,omitempty"`
	Cost            int64             `json:"cost,omitempty"`
	BillingStatus   CallBillingStatus `json:"billing_status,omitempty"`
	TransactionID   string            `json:"transaction_id,omitempty"`
	InvoiceID       string            `json:"invoice_id,omitempty"`
}

// BillingResult is the caller-facing outcome of ending a call.
type BillingResult struct {
	CallID          string            `json:"call_id"`
	DurationSeconds int64             `json:"duration_seconds"`
	Cost            int64             `json:"cost"`
	BillingStatus   CallBillingStatus `json:"billing_status"`
	TransactionID   string            `json:"transaction_id,omitempty"`
	InvoiceID       string            `json:"invoice_id,omitempty"`
}
