package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/litapp/billing-service/internal/infrastructure/auth"
	"github.com/litapp/billing-service/internal/models"
	service "github.com/litapp/billing-service/internal/services"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
)

type Handler struct {
	walletSvc     service.WalletService
	ledgerSvc     service.LedgerService
	tierSvc       service.TierService
	reconcilerSvc service.ReconcilerService
	billingSvc    service.CallBillingService
	reactivation  *auth.ReactivationService
}

func NewHandler(
	walletSvc service.WalletService,
	ledgerSvc service.LedgerService,
	tierSvc service.TierService,
	reconcilerSvc service.ReconcilerService,
	billingSvc service.CallBillingService,
	reactivation *auth.ReactivationService,
) *Handler {
	return &Handler{
		walletSvc:     walletSvc,
		ledgerSvc:     ledgerSvc,
		tierSvc:       tierSvc,
		reconcilerSvc: reconcilerSvc,
		billingSvc:    billingSvc,
		reactivation:  reactivation,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhooks/billing", h.BillingWebhook).Methods("POST")
	r.HandleFunc("/users/{id}/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/users/{id}/wallet", h.GetWallet).Methods("GET")
	r.HandleFunc("/users/{id}/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/users/{id}/tier", h.GetTier).Methods("GET")
	r.HandleFunc("/calls/{id}/end", h.EndCall).Methods("POST")
	r.HandleFunc("/tips", h.Tip).Methods("POST")
	r.HandleFunc("/reactivate", h.Reactivate).Methods("POST")
}

// BillingWebhook always acknowledges receipt: malformed payloads are
// indistinguishable from garbled or hostile requests, and a non-2xx answer
// would only provoke a provider retry storm. The distinction affects logging,
// never the response.
func (h *Handler) BillingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		slog.Warn("failed to read webhook body", "error", err)
		h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	ev, err := models.ParseWebhookEvent(body)
	if err != nil {
		slog.Warn("ignoring malformed webhook payload", "error", err)
		h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.reconcilerSvc.Process(r.Context(), ev); err != nil {
		// Internal failure: the payment record keeps its pre-failure state,
		// so manual reconciliation can replay from there.
		slog.Error("webhook processing failed", "kind", ev.Kind, "external_transaction_id", ev.ExternalTransactionID, "error", err)
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func userIDFromRequest(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return
	}

	balance, err := h.walletSvc.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return
	}

	wallet, err := h.walletSvc.GetWallet(r.Context(), userID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	transactions, err := h.ledgerSvc.History(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return
	}

	tier, err := h.tierSvc.Current(r.Context(), userID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]models.Tier{"tier": tier})
}

func (h *Handler) EndCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]
	if callID == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("call id is required"))
		return
	}

	res, err := h.billingSvc.EndCall(r.Context(), callID)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrCallNotFound):
			h.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, pkgerrors.ErrExternalInvoiceFailure):
			h.writeError(w, http.StatusBadGateway, err)
		case errors.Is(err, pkgerrors.ErrConcurrentModification):
			h.writeError(w, http.StatusConflict, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Tip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromUserID  int64  `json:"from_user_id"`
		ToUserID    int64  `json:"to_user_id"`
		Stars       int64  `json:"stars"`
		Type        string `json:"type"`
		BattleID    string `json:"battle_id"`
		LivePartyID string `json:"live_party_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	err := h.billingSvc.Tip(r.Context(), req.FromUserID, req.ToUserID, req.Stars,
		models.TransactionType(req.Type), req.BattleID, req.LivePartyID)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInsufficientBalance):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, pkgerrors.ErrInvalidTransactionType):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, pkgerrors.ErrConcurrentModification):
			h.writeError(w, http.StatusConflict, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	userID, err := h.reactivation.Redeem(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidReactivationToken) || errors.Is(err, pkgerrors.ErrTokenAlreadyUsed) {
			h.writeError(w, http.StatusUnauthorized, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"user_id": userID})
}
