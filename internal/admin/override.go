package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/models"
	"trade-settlement-engine/internal/settlement"
)

// ErrInvalidOutcome is returned for commands that need a forced win or loss.
var ErrInvalidOutcome = errors.New("outcome must be forced_win or forced_loss")

// ErrMissingActor is returned when a command does not name its operator.
var ErrMissingActor = errors.New("actor is required")

// Override is the privileged command path. Every command goes through the
// settlement executor's claim and leaves an audit entry, whether it succeeded or not.
type Override struct {
	store   *ledger.Store
	settler *settlement.Settler
	now     func() time.Time
	logger  *zap.Logger
}

// NewOverride creates a new Override.
func NewOverride(store *ledger.Store, settler *settlement.Settler, logger *zap.Logger) *Override {
	return &Override{
		store:   store,
		settler: settler,
		now:     time.Now,
		logger:  logger.Named("admin"),
	}
}

// SetExpectedOutcome pins the outcome the resolver will honor when the trade expires.
func (o *Override) SetExpectedOutcome(ctx context.Context, actor, tradeID string, outcome models.ForcedOutcome) error {
	if err := checkCommand(actor, outcome, true); err != nil {
		return err
	}

	err := o.store.SetForcedOutcome(ctx, tradeID, outcome)
	o.audit(ctx, actor, models.AuditSetExpectedOutcome, tradeID, outcome, nil, err)
	return err
}

// ForceSettle records the outcome and settles the trade immediately, ignoring the deadline.
// If the trade is already terminal the existing result is returned unchanged.
func (o *Override) ForceSettle(ctx context.Context, actor, tradeID string, outcome models.ForcedOutcome) (*settlement.Result, error) {
	if err := checkCommand(actor, outcome, false); err != nil {
		return nil, err
	}

	err := o.store.SetForcedOutcome(ctx, tradeID, outcome)
	if err != nil && !errors.Is(err, ledger.ErrTradeNotPending) {
		o.audit(ctx, actor, models.AuditForceSettle, tradeID, outcome, nil, err)
		return nil, err
	}

	res, err := o.settler.Settle(ctx, tradeID, settlement.SettleOptions{By: models.SettledByAdmin, Force: true})
	o.audit(ctx, actor, models.AuditForceSettle, tradeID, outcome, res, err)
	return res, err
}

// Cancel moves a pending trade to cancelled and releases its stake.
func (o *Override) Cancel(ctx context.Context, actor, tradeID string) (*settlement.Result, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}

	res, err := o.settler.Cancel(ctx, tradeID, models.SettledByAdmin)
	o.audit(ctx, actor, models.AuditCancel, tradeID, "", res, err)
	return res, err
}

// History lists the audit trail for a trade.
func (o *Override) History(ctx context.Context, tradeID string) ([]models.AuditEntry, error) {
	return o.store.ListAudit(ctx, tradeID, 0)
}

func checkCommand(actor string, outcome models.ForcedOutcome, allowAutomatic bool) error {
	if actor == "" {
		return ErrMissingActor
	}
	if outcome.IsForced() || (allowAutomatic && outcome == models.OutcomeAutomatic) {
		return nil
	}
	return fmt.Errorf("%w, got %q", ErrInvalidOutcome, outcome)
}

type auditDetail struct {
	Result  string `json:"result"`
	Status  string `json:"status,omitempty"`
	Applied *bool  `json:"applied,omitempty"`
	Error   string `json:"error,omitempty"`
}

// audit appends the entry. A failure to write it is logged, not returned:
// the command itself has already taken effect.
func (o *Override) audit(ctx context.Context, actor string, action models.AuditAction, tradeID string,
	outcome models.ForcedOutcome, res *settlement.Result, cmdErr error) {
	detail := auditDetail{Result: "ok"}
	if cmdErr != nil {
		detail.Result = "error"
		detail.Error = cmdErr.Error()
	}
	if res != nil {
		detail.Status = string(res.Trade.Status)
		applied := res.Applied
		detail.Applied = &applied
	}
	raw, _ := json.Marshal(detail)

	entry := &models.AuditEntry{
		Actor:     actor,
		Action:    action,
		TradeID:   tradeID,
		Outcome:   outcome,
		Detail:    string(raw),
		CreatedAt: o.now().UTC(),
	}
	if err := o.store.AppendAudit(ctx, entry); err != nil {
		o.logger.Error("audit-append-failed", zap.String("trade-id", tradeID), zap.Error(err))
		return
	}
	o.logger.Info("admin-command",
		zap.String("actor", actor),
		zap.String("action", string(action)),
		zap.String("trade-id", tradeID),
		zap.String("outcome", string(outcome)),
		zap.String("result", detail.Result))
}
