package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/litapp/billing-service/internal/models"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type stubReconciler struct {
	events []*models.WebhookEvent
	err    error
}

func (s *stubReconciler) Process(_ context.Context, ev *models.WebhookEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

type stubWallet struct {
	balance int64
	err     error
}

func (s *stubWallet) GetBalance(context.Context, int64) (int64, error) { return s.balance, s.err }
func (s *stubWallet) GetWallet(_ context.Context, userID int64) (*models.Wallet, error) {
	return &models.Wallet{UserID: userID, Stars: s.balance}, s.err
}
func (s *stubWallet) Debit(context.Context, int64, int64, string) (int64, error) {
	return s.balance, s.err
}
func (s *stubWallet) Credit(context.Context, int64, int64, string) (int64, error) {
	return s.balance, s.err
}
func (s *stubWallet) AdjustUSD(context.Context, int64, int64) (int64, error) {
	return 0, s.err
}

type stubBilling struct {
	res *models.BillingResult
	err error
}

func (s *stubBilling) EndCall(context.Context, string) (*models.BillingResult, error) {
	return s.res, s.err
}
func (s *stubBilling) Tip(context.Context, int64, int64, int64, models.TransactionType, string, string) error {
	return s.err
}
func (s *stubBilling) AwardBattleReward(context.Context, int64, int64, string) error { return s.err }

func newTestRouter(rec *stubReconciler, wallet *stubWallet, billing *stubBilling) *mux.Router {
	h := NewHandler(wallet, nil, nil, rec, billing, nil)
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestBillingWebhook(t *testing.T) {
	t.Run("ValidEventAcknowledged", func(t *testing.T) {
		rec := &stubReconciler{}
		r := newTestRouter(rec, &stubWallet{}, &stubBilling{})

		body := `{"kind":"invoice.paid","external_transaction_id":"ext-1","amount_cents":500}`
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, rec.events, 1)
		assert.Equal(t, models.KindInvoicePaid, rec.events[0].Kind)
	})

	t.Run("MalformedPayloadStillAcknowledged", func(t *testing.T) {
		rec := &stubReconciler{}
		r := newTestRouter(rec, &stubWallet{}, &stubBilling{})

		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewBufferString(`{not json`))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, rec.events)
	})

	t.Run("MissingExternalIDStillAcknowledged", func(t *testing.T) {
		rec := &stubReconciler{}
		r := newTestRouter(rec, &stubWallet{}, &stubBilling{})

		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewBufferString(`{"kind":"invoice.paid"}`))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, rec.events)
	})

	t.Run("ProcessingFailureStillAcknowledged", func(t *testing.T) {
		rec := &stubReconciler{err: pkgerrors.ErrInternal}
		r := newTestRouter(rec, &stubWallet{}, &stubBilling{})

		body := `{"kind":"invoice.paid","external_transaction_id":"ext-2"}`
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetBalance(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		r := newTestRouter(&stubReconciler{}, &stubWallet{balance: 1250}, &stubBilling{})

		req := httptest.NewRequest(http.MethodGet, "/users/42/balance", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]int64
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(1250), resp["balance"])
	})

	t.Run("BadUserID", func(t *testing.T) {
		r := newTestRouter(&stubReconciler{}, &stubWallet{}, &stubBilling{})

		req := httptest.NewRequest(http.MethodGet, "/users/abc/balance", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEndCall(t *testing.T) {
	t.Run("ReturnsBillingResult", func(t *testing.T) {
		billing := &stubBilling{res: &models.BillingResult{
			CallID:        "call-1",
			Cost:          20,
			BillingStatus: models.CallBillingPaid,
		}}
		r := newTestRouter(&stubReconciler{}, &stubWallet{}, billing)

		req := httptest.NewRequest(http.MethodPost, "/calls/call-1/end", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var res models.BillingResult
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, int64(20), res.Cost)
	})

	t.Run("NotFound", func(t *testing.T) {
		billing := &stubBilling{err: pkgerrors.ErrCallNotFound}
		r := newTestRouter(&stubReconciler{}, &stubWallet{}, billing)

		req := httptest.NewRequest(http.MethodPost, "/calls/missing/end", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("InvoicerDown", func(t *testing.T) {
		billing := &stubBilling{err: pkgerrors.ErrExternalInvoiceFailure}
		r := newTestRouter(&stubReconciler{}, &stubWallet{}, billing)

		req := httptest.NewRequest(http.MethodPost, "/calls/call-2/end", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestTip(t *testing.T) {
	t.Run("InsufficientBalance", func(t *testing.T) {
		billing := &stubBilling{err: pkgerrors.ErrInsufficientBalance}
		r := newTestRouter(&stubReconciler{}, &stubWallet{}, billing)

		body := `{"from_user_id":1,"to_user_id":2,"stars":100,"type":"battle_tip"}`
		req := httptest.NewRequest(http.MethodPost, "/tips", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Success", func(t *testing.T) {
		r := newTestRouter(&stubReconciler{}, &stubWallet{}, &stubBilling{})

		body := `{"from_user_id":1,"to_user_id":2,"stars":100,"type":"liveparty_tip"}`
		req := httptest.NewRequest(http.MethodPost, "/tips", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
