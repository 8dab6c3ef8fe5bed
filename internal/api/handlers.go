package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-settlement-engine/internal/admin"
	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/models"
	"trade-settlement-engine/internal/settlement"
	"trade-settlement-engine/internal/trading"
)

const defaultListLimit = 50

// handler holds dependencies for the API endpoints.
type handler struct {
	store    *ledger.Store
	trading  *trading.Service
	settler  *settlement.Settler
	override *admin.Override
	now      func() time.Time
	log      *zap.Logger
}

func newHandler(cfg *Config, log *zap.Logger) *handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &handler{
		store:    cfg.Store,
		trading:  cfg.Trading,
		settler:  cfg.Settler,
		override: cfg.Override,
		now:      now,
		log:      log,
	}
}

// TradeView is what a user sees of a trade: a pending countdown or a terminal result.
// Operator fields (forced outcome, settling trigger) are never part of it.
type TradeView struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	Pair            string             `json:"pair"`
	Direction       models.Direction   `json:"direction"`
	Stake           decimal.Decimal    `json:"stake"`
	EntryPrice      decimal.Decimal    `json:"entry_price"`
	ExitPrice       *decimal.Decimal   `json:"exit_price,omitempty"`
	ProfitLoss      *decimal.Decimal   `json:"profit_loss,omitempty"`
	Status          models.TradeStatus `json:"status"`
	DurationSeconds int                `json:"duration_seconds"`
	TimerStartedAt  time.Time          `json:"timer_started_at"`
	ExpiresAt       time.Time          `json:"expires_at"`
	CreatedAt       time.Time          `json:"created_at"`
	ClosedAt        *time.Time         `json:"closed_at,omitempty"`
	Remaining       *int               `json:"remaining_seconds,omitempty"`
}

// CountdownResponse is returned by the countdown endpoint.
type CountdownResponse struct {
	TradeID   string             `json:"trade_id"`
	Status    models.TradeStatus `json:"status"`
	Remaining int                `json:"remaining_seconds"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// CommandRequest is the body of every admin command.
type CommandRequest struct {
	Actor   string               `json:"actor"`
	Outcome models.ForcedOutcome `json:"outcome,omitempty"`
}

// FundRequest opens a wallet.
type FundRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

const (
	codeValidation     = "validation"
	codeTradeNotFound  = "trade_not_found"
	codeWalletNotFound = "wallet_not_found"
	codeNotExpired     = "not_expired"
	codeNotPending     = "not_pending"
	codeWalletExists   = "wallet_exists"
	codeBadCommand     = "bad_command"
)

func (h *handler) placeTrade(w http.ResponseWriter, r *http.Request) {
	var req trading.PlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	trade, err := h.trading.PlaceTrade(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.view(*trade))
}

func (h *handler) getTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := h.store.GetTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(*trade))
}

func (h *handler) countdown(w http.ResponseWriter, r *http.Request) {
	trade, err := h.store.GetTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := CountdownResponse{TradeID: trade.ID, Status: trade.Status, ExpiresAt: trade.Deadline()}
	if !trade.Status.IsTerminal() {
		resp.Remaining = settlement.Remaining(trade.TimerStartedAt, trade.DurationSeconds, h.now())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// settleTrade is the remote resolution trigger. Losing the claim is not an error.
func (h *handler) settleTrade(w http.ResponseWriter, r *http.Request) {
	res, err := h.settler.Settle(r.Context(), chi.URLParam(r, "id"), settlement.SettleOptions{By: models.SettledByRemote})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *handler) listTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.store.ListTrades(r.Context(), chi.URLParam(r, "user"), listLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, h.view(t))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *handler) getWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.store.GetWallet(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		*models.WalletAccount
		Available decimal.Decimal `json:"available"`
	}{wallet, wallet.Available()})
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.store.ListTransactions(r.Context(), chi.URLParam(r, "user"), listLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txns)
}

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListNotifications(r.Context(), chi.URLParam(r, "user"), listLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *handler) statistics(w http.ResponseWriter, r *http.Request) {
	trades, err := h.store.ListTrades(r.Context(), chi.URLParam(r, "user"), 0)
	if err != nil {
		h.log.Error("statistics-query-failed", zap.Error(err))
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ComputeStatistics(trades, h.now()))
}

func (h *handler) createWallet(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Balance.IsNegative() {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	wallet, err := h.store.CreateWallet(r.Context(), chi.URLParam(r, "user"), req.Balance)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, wallet)
}

func (h *handler) setOutcome(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.override.SetExpectedOutcome(r.Context(), cmd.Actor, id, cmd.Outcome); err != nil {
		h.writeError(w, err)
		return
	}
	trade, err := h.store.GetTrade(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, trade)
}

func (h *handler) forceSettle(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}
	res, err := h.override.ForceSettle(r.Context(), cmd.Actor, chi.URLParam(r, "id"), cmd.Outcome)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *handler) cancelTrade(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}
	res, err := h.override.Cancel(r.Context(), cmd.Actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *handler) auditHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.override.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Warn("readiness-check-failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// view projects a trade for its owner, adding the live countdown while it is pending.
func (h *handler) view(t models.Trade) TradeView {
	v := TradeView{
		ID:              t.ID,
		UserID:          t.UserID,
		Pair:            t.Pair,
		Direction:       t.Direction,
		Stake:           t.Stake,
		EntryPrice:      t.EntryPrice,
		Status:          t.Status,
		DurationSeconds: t.DurationSeconds,
		TimerStartedAt:  t.TimerStartedAt,
		ExpiresAt:       t.ExpiresAt,
		CreatedAt:       t.CreatedAt,
	}
	if t.Status.IsTerminal() {
		v.ExitPrice = t.ExitPrice
		v.ProfitLoss = t.ProfitLoss
		v.ClosedAt = t.ClosedAt
	} else {
		remaining := settlement.Remaining(t.TimerStartedAt, t.DurationSeconds, h.now())
		v.Remaining = &remaining
	}
	return v
}

func (h *handler) decodeCommand(w http.ResponseWriter, r *http.Request) (CommandRequest, bool) {
	var cmd CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return cmd, false
	}
	return cmd, true
}

// writeError maps domain errors onto HTTP status codes.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	var verr *trading.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusUnprocessableEntity,
			errorResponse{Error: verr.Error(), Code: codeValidation, Field: verr.Field, Reason: verr.Reason})
	case errors.Is(err, ledger.ErrTradeNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: codeTradeNotFound})
	case errors.Is(err, ledger.ErrWalletNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: codeWalletNotFound})
	case errors.Is(err, settlement.ErrNotExpired):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: codeNotExpired})
	case errors.Is(err, ledger.ErrTradeNotPending):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: codeNotPending})
	case errors.Is(err, ledger.ErrWalletExists):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: codeWalletExists})
	case errors.Is(err, admin.ErrInvalidOutcome), errors.Is(err, admin.ErrMissingActor):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: codeBadCommand})
	default:
		h.log.Error("request-failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("response-write-failed", zap.Error(err))
	}
}

func listLimit(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return defaultListLimit
}
