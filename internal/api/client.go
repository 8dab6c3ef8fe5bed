package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade-settlement-engine/internal/config"
	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/models"
	"trade-settlement-engine/internal/settlement"
	"trade-settlement-engine/internal/trading"
)

// StatusError is a non-2xx reply that maps to no domain error.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running settlement engine. It is the remote settler used
// by client-side countdowns and the transport behind settlectl.
type Client struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a client for the engine at cfg.RemoteURL.
func NewClient(cfg config.Settlement, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.RemoteURL).
		SetHeader("Content-Type", "application/json")
	if cfg.RemoteTimeout > 0 {
		client.SetTimeout(cfg.RemoteTimeout)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("api-client"),
	}
}

// Settle asks the engine to resolve and settle a trade.
func (c *Client) Settle(ctx context.Context, tradeID string) (*settlement.Result, error) {
	var res settlement.Result
	if err := c.do(ctx, http.MethodPost, "/api/trades/"+tradeID+"/settle", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PlaceTrade opens a trade.
func (c *Client) PlaceTrade(ctx context.Context, req trading.PlaceRequest) (*TradeView, error) {
	var view TradeView
	if err := c.do(ctx, http.MethodPost, "/api/trades", req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetTrade fetches a trade with its live countdown.
func (c *Client) GetTrade(ctx context.Context, tradeID string) (*TradeView, error) {
	var view TradeView
	if err := c.do(ctx, http.MethodGet, "/api/trades/"+tradeID, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// SetExpectedOutcome pins the outcome of a pending trade and returns the full trade record.
func (c *Client) SetExpectedOutcome(ctx context.Context, actor, tradeID string, outcome models.ForcedOutcome) (*models.Trade, error) {
	var trade models.Trade
	body := CommandRequest{Actor: actor, Outcome: outcome}
	if err := c.do(ctx, http.MethodPost, "/api/admin/trades/"+tradeID+"/outcome", body, &trade); err != nil {
		return nil, err
	}
	return &trade, nil
}

// ForceSettle settles a trade now with the given outcome.
func (c *Client) ForceSettle(ctx context.Context, actor, tradeID string, outcome models.ForcedOutcome) (*settlement.Result, error) {
	var res settlement.Result
	body := CommandRequest{Actor: actor, Outcome: outcome}
	if err := c.do(ctx, http.MethodPost, "/api/admin/trades/"+tradeID+"/force-settle", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Cancel cancels a pending trade.
func (c *Client) Cancel(ctx context.Context, actor, tradeID string) (*settlement.Result, error) {
	var res settlement.Result
	if err := c.do(ctx, http.MethodPost, "/api/admin/trades/"+tradeID+"/cancel", CommandRequest{Actor: actor}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// History returns the audit trail of a trade.
func (c *Client) History(ctx context.Context, tradeID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	if err := c.do(ctx, http.MethodGet, "/api/admin/trades/"+tradeID+"/audit", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// do executes a single attempt. Settlement callers fall back locally instead of retrying.
func (c *Client) do(ctx context.Context, method, url string, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req := c.client.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&errorResponse{})
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	c.logger.Debug("request-complete",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)))

	if !resp.IsError() {
		return nil
	}

	e, _ := resp.Error().(*errorResponse)
	if e == nil || e.Error == "" {
		return &StatusError{StatusCode: resp.StatusCode(), Message: resp.String()}
	}
	switch e.Code {
	case codeValidation:
		return &trading.ValidationError{Field: e.Field, Reason: e.Reason}
	case codeTradeNotFound:
		return fmt.Errorf("%w: %s", ledger.ErrTradeNotFound, e.Error)
	case codeWalletNotFound:
		return fmt.Errorf("%w: %s", ledger.ErrWalletNotFound, e.Error)
	case codeNotExpired:
		return fmt.Errorf("%w: %s", settlement.ErrNotExpired, e.Error)
	case codeNotPending:
		return fmt.Errorf("%w: %s", ledger.ErrTradeNotPending, e.Error)
	case codeWalletExists:
		return fmt.Errorf("%w: %s", ledger.ErrWalletExists, e.Error)
	default:
		return &StatusError{StatusCode: resp.StatusCode(), Message: e.Error}
	}
}
