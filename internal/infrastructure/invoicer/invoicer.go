package invoicer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	pkgerrors "github.com/litapp/billing-service/pkg/errors"
)

// CorrelationRefs ties a created invoice back to the billable event that
// triggered it.
type CorrelationRefs struct {
	CallID        string `json:"call_id,omitempty"`
	BattleID      string `json:"battle_id,omitempty"`
	LivePartyID   string `json:"live_party_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Invoicer is the fallback billing contract: invoked when a USD-denominated
// wallet debit fails on insufficient balance. The returned invoice id becomes
// the external transaction id the webhook reconciler later matches against.
type Invoicer interface {
	CreateInvoice(ctx context.Context, userID, amountCents int64, description string, refs CorrelationRefs) (invoiceID string, err error)
}

type HTTPInvoicer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPInvoicer(baseURL, apiKey string) *HTTPInvoicer {
	return &HTTPInvoicer{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (i *HTTPInvoicer) CreateInvoice(ctx context.Context, userID, amountCents int64, description string, refs CorrelationRefs) (string, error) {
	payload := map[string]interface{}{
		"user_id":      userID,
		"amount_cents": amountCents,
		"description":  description,
		"metadata":     refs,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal invoice request: %v", pkgerrors.ErrExternalInvoiceFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrExternalInvoiceFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+i.apiKey)

	resp, err := i.client.Do(req)
	if err != nil {
		slog.Error("invoice request failed", "user_id", userID, "amount_cents", amountCents, "error", err)
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrExternalInvoiceFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		slog.Error("invoice request rejected", "user_id", userID, "status", resp.StatusCode, "body", string(raw))
		return "", fmt.Errorf("%w: provider returned %d", pkgerrors.ErrExternalInvoiceFailure, resp.StatusCode)
	}

	var out struct {
		InvoiceID string `json:"invoice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.InvoiceID == "" {
		return "", fmt.Errorf("%w: malformed provider response", pkgerrors.ErrExternalInvoiceFailure)
	}

	slog.Info("invoice created", "user_id", userID, "amount_cents", amountCents, "invoice_id", out.InvoiceID)
	return out.InvoiceID, nil
}
