package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/models"
)

// Result is what every settlement caller observes: the terminal trade and the
// ledger row it produced. Applied is false when another caller settled it first.
type Result struct {
	Trade       models.Trade        `json:"trade"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Applied     bool                `json:"applied"`
}

// Executor is the single state-transition unit for trades. It claims a trade
// with a conditional update and applies the wallet, ledger and notification
// mutations in the same database transaction, so a failure anywhere leaves
// the trade pending and a retry starts from a clean slate.
type Executor struct {
	store  *ledger.Store
	cache  *TerminalCache
	now    func() time.Time
	logger *zap.Logger
}

// ExecutorConfig holds executor dependencies.
type ExecutorConfig struct {
	Store  *ledger.Store
	Cache  *TerminalCache // optional
	Now    func() time.Time
	Logger *zap.Logger
}

// NewExecutor creates a new Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{
		store:  cfg.Store,
		cache:  cfg.Cache,
		now:    now,
		logger: cfg.Logger.Named("executor"),
	}
}

// errAlreadyTerminal aborts the transaction when the claim is lost.
var errAlreadyTerminal = errors.New("trade already terminal")

// Execute applies a won/lost decision to a trade exactly once.
func (e *Executor) Execute(ctx context.Context, tradeID string, d Decision, by models.SettledBy) (*Result, error) {
	if d.Status != models.StatusWon && d.Status != models.StatusLost {
		return nil, fmt.Errorf("execute trade %s: decision status %q is not won or lost", tradeID, d.Status)
	}
	exit := d.ExitPrice
	return e.apply(ctx, tradeID, ledger.ClaimUpdate{
		Status:     d.Status,
		ExitPrice:  &exit,
		ProfitLoss: d.ProfitLoss,
		SettledBy:  by,
	})
}

// Cancel moves a pending trade to cancelled, releasing the stake with no balance change.
func (e *Executor) Cancel(ctx context.Context, tradeID string, by models.SettledBy) (*Result, error) {
	return e.apply(ctx, tradeID, ledger.ClaimUpdate{
		Status:     models.StatusCancelled,
		ProfitLoss: decimal.Zero,
		SettledBy:  by,
	})
}

// Lookup returns the terminal result for a trade if it has one.
func (e *Executor) Lookup(ctx context.Context, tradeID string) (*Result, error) {
	if res, ok := e.cache.Get(tradeID); ok {
		return &res, nil
	}
	trade, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !trade.Status.IsTerminal() {
		return nil, nil
	}
	return e.existing(ctx, trade)
}

func (e *Executor) apply(ctx context.Context, tradeID string, upd ledger.ClaimUpdate) (*Result, error) {
	l := e.logger.With(zap.String("trade-id", tradeID), zap.String("settled-by", string(upd.SettledBy)))

	if res, ok := e.cache.Get(tradeID); ok {
		SettlementConflicts.WithLabelValues(string(upd.SettledBy)).Inc()
		return &res, nil
	}

	start := time.Now()
	upd.ClosedAt = e.now().UTC()

	var applied Result
	err := e.store.WithinTransaction(ctx, func(tx *ledger.Store) error {
		trade, err := tx.GetTrade(ctx, tradeID)
		if err != nil {
			return err
		}
		if trade.Status.IsTerminal() {
			return errAlreadyTerminal
		}

		// Step 1: claim. Zero rows means a concurrent caller got there first.
		claimed, err := tx.ClaimTrade(ctx, tradeID, upd)
		if err != nil {
			return err
		}
		if !claimed {
			return errAlreadyTerminal
		}

		// Step 2: the claim already wrote exit price, profit/loss and closed time.
		trade.Status = upd.Status
		trade.ExitPrice = upd.ExitPrice
		pl := upd.ProfitLoss
		trade.ProfitLoss = &pl
		closedAt := upd.ClosedAt
		trade.ClosedAt = &closedAt
		trade.SettledBy = upd.SettledBy

		// Step 3: wallet.
		wallet, err := tx.GetWallet(ctx, trade.UserID)
		if err != nil {
			return fmt.Errorf("load wallet for trade %s: %w", tradeID, err)
		}
		before := wallet.Balance
		after := before.Add(pl)
		if err := tx.SettleWallet(ctx, trade.UserID, after, upd.ClosedAt); err != nil {
			return err
		}

		// Step 4: ledger row.
		txn := &models.Transaction{
			ID:            uuid.NewString(),
			UserID:        trade.UserID,
			TradeID:       trade.ID,
			Kind:          transactionKind(upd.Status),
			Amount:        pl,
			BalanceBefore: before,
			BalanceAfter:  after,
			CreatedAt:     upd.ClosedAt,
		}
		if err := tx.AppendTransaction(ctx, txn); err != nil {
			return err
		}

		// Step 5: notification.
		if err := tx.AppendNotification(ctx, buildNotification(trade, upd.ClosedAt)); err != nil {
			return err
		}

		applied = Result{Trade: *trade, Transaction: txn, Applied: true}
		return nil
	})
	SettlementDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		SettlementsApplied.WithLabelValues(string(upd.Status), string(upd.SettledBy)).Inc()
		e.cache.Put(applied)
		l.Info("trade-settled",
			zap.String("status", string(upd.Status)),
			zap.String("profit-loss", upd.ProfitLoss.String()),
			zap.String("balance-after", applied.Transaction.BalanceAfter.String()))
		return &applied, nil

	case errors.Is(err, errAlreadyTerminal), errors.Is(err, ledger.ErrDuplicateSettlement):
		SettlementConflicts.WithLabelValues(string(upd.SettledBy)).Inc()
		trade, gerr := e.store.GetTrade(ctx, tradeID)
		if gerr != nil {
			return nil, gerr
		}
		l.Debug("trade-already-settled", zap.String("status", string(trade.Status)))
		return e.existing(ctx, trade)

	default:
		SettlementErrors.Inc()
		l.Warn("settlement-failed", zap.Error(err))
		if errors.Is(err, ledger.ErrTradeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("settle trade %s: %w", tradeID, err)
	}
}

// existing builds the no-op result for a trade that is already terminal.
func (e *Executor) existing(ctx context.Context, trade *models.Trade) (*Result, error) {
	if !trade.Status.IsTerminal() {
		return nil, fmt.Errorf("trade %s is still pending", trade.ID)
	}
	txn, err := e.store.GetTransactionByTrade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	res := Result{Trade: *trade, Transaction: txn, Applied: false}
	e.cache.Put(res)
	return &res, nil
}

func transactionKind(status models.TradeStatus) models.TransactionKind {
	if status == models.StatusCancelled {
		return models.KindTradeCancellation
	}
	return models.KindTradeSettlement
}

func buildNotification(trade *models.Trade, at time.Time) *models.Notification {
	n := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    trade.UserID,
		TradeID:   trade.ID,
		CreatedAt: at,
	}
	pl := decimal.Zero
	if trade.ProfitLoss != nil {
		pl = *trade.ProfitLoss
	}
	switch trade.Status {
	case models.StatusWon:
		n.Kind = models.NotifyTradeWon
		n.Title = "Trade won"
		n.Message = fmt.Sprintf("Your %s %s trade won +%s", trade.Direction, trade.Pair, pl.StringFixed(2))
	case models.StatusLost:
		n.Kind = models.NotifyTradeLost
		n.Title = "Trade lost"
		n.Message = fmt.Sprintf("Your %s %s trade lost %s", trade.Direction, trade.Pair, pl.StringFixed(2))
	default:
		n.Kind = models.NotifyTradeCancelled
		n.Title = "Trade cancelled"
		n.Message = fmt.Sprintf("Your %s %s trade was cancelled and the stake of %s released",
			trade.Direction, trade.Pair, trade.Stake.StringFixed(2))
	}
	return n
}
