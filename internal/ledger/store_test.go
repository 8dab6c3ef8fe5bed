package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade-settlement-engine/internal/database"
	"trade-settlement-engine/internal/models"
)

// setupStore creates a Store over a fresh, non-shared in-memory database.
func setupStore(t *testing.T) *Store {
	db, err := database.Open("file::memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return NewStore(db, zap.NewNop())
}

func newPendingTrade(userID string, stake int64, start time.Time) *models.Trade {
	return &models.Trade{
		ID:              uuid.NewString(),
		UserID:          userID,
		Pair:            "BTCUSDT",
		Direction:       models.DirectionLong,
		Stake:           decimal.NewFromInt(stake),
		EntryPrice:      decimal.NewFromInt(50000),
		Status:          models.StatusPending,
		DurationSeconds: 30,
		TimerStartedAt:  start,
		ExpiresAt:       start.Add(30 * time.Second),
		ForcedOutcome:   models.OutcomeAutomatic,
	}
}

func TestStore_PlaceTrade_LocksStake(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := setupStore(t)
	_, err := store.CreateWallet(ctx, "alice", decimal.NewFromInt(5000))
	require.NoError(t, err)
	trade := newPendingTrade("alice", 1000, time.Now().UTC())

	// Act
	err = store.PlaceTrade(ctx, trade)

	// Assert
	require.NoError(t, err)
	wallet, err := store.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, wallet.LockedAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(5000)))

	got, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.ExitPrice)
	assert.Nil(t, got.ProfitLoss)
}

func TestStore_PlaceTrade_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("NoWallet", func(t *testing.T) {
		store := setupStore(t)
		err := store.PlaceTrade(ctx, newPendingTrade("ghost", 10, time.Now().UTC()))
		assert.ErrorIs(t, err, ErrWalletNotFound)
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		store := setupStore(t)
		_, err := store.CreateWallet(ctx, "bob", decimal.NewFromInt(100))
		require.NoError(t, err)

		err = store.PlaceTrade(ctx, newPendingTrade("bob", 1000, time.Now().UTC()))
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		trades, err := store.ListTrades(ctx, "bob", 0)
		require.NoError(t, err)
		assert.Empty(t, trades)
	})

	t.Run("SecondPendingTrade", func(t *testing.T) {
		store := setupStore(t)
		_, err := store.CreateWallet(ctx, "carol", decimal.NewFromInt(5000))
		require.NoError(t, err)
		require.NoError(t, store.PlaceTrade(ctx, newPendingTrade("carol", 100, time.Now().UTC())))

		err = store.PlaceTrade(ctx, newPendingTrade("carol", 200, time.Now().UTC()))
		assert.ErrorIs(t, err, ErrPendingTradeExists)

		wallet, err := store.GetWallet(ctx, "carol")
		require.NoError(t, err)
		assert.True(t, wallet.LockedAmount.Equal(decimal.NewFromInt(100)))
	})
}

func TestStore_ClaimTrade_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	_, err := store.CreateWallet(ctx, "alice", decimal.NewFromInt(5000))
	require.NoError(t, err)
	trade := newPendingTrade("alice", 1000, time.Now().UTC())
	require.NoError(t, store.PlaceTrade(ctx, trade))

	exit := decimal.NewFromInt(50500)
	upd := ClaimUpdate{
		Status:     models.StatusWon,
		ExitPrice:  &exit,
		ProfitLoss: decimal.NewFromInt(800),
		ClosedAt:   time.Now().UTC(),
		SettledBy:  models.SettledByCountdown,
	}

	first, err := store.ClaimTrade(ctx, trade.ID, upd)
	require.NoError(t, err)
	assert.True(t, first)

	upd.Status = models.StatusLost
	second, err := store.ClaimTrade(ctx, trade.ID, upd)
	require.NoError(t, err)
	assert.False(t, second)

	got, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWon, got.Status)
	require.NotNil(t, got.ProfitLoss)
	assert.True(t, got.ProfitLoss.Equal(decimal.NewFromInt(800)))
}

func TestStore_ClaimTrade_RejectsIllegalTarget(t *testing.T) {
	store := setupStore(t)
	_, err := store.ClaimTrade(context.Background(), "any", ClaimUpdate{Status: models.StatusPending})
	assert.Error(t, err)
}

func TestStore_AppendTransaction_UniquePerTrade(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	txn := func() *models.Transaction {
		return &models.Transaction{
			ID:            uuid.NewString(),
			UserID:        "alice",
			TradeID:       "trade-1",
			Kind:          models.KindTradeSettlement,
			Amount:        decimal.NewFromInt(800),
			BalanceBefore: decimal.NewFromInt(5000),
			BalanceAfter:  decimal.NewFromInt(5800),
		}
	}

	require.NoError(t, store.AppendTransaction(ctx, txn()))
	assert.ErrorIs(t, store.AppendTransaction(ctx, txn()), ErrDuplicateSettlement)

	count, err := store.CountTransactionsByTrade(ctx, "trade-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_WithinTransaction_RollsBack(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	_, err := store.CreateWallet(ctx, "alice", decimal.NewFromInt(5000))
	require.NoError(t, err)

	err = store.WithinTransaction(ctx, func(tx *Store) error {
		if err := tx.SettleWallet(ctx, "alice", decimal.NewFromInt(1), time.Now().UTC()); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	wallet, err := store.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(5000)))
}

func TestStore_SetForcedOutcome(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	_, err := store.CreateWallet(ctx, "alice", decimal.NewFromInt(5000))
	require.NoError(t, err)
	trade := newPendingTrade("alice", 100, time.Now().UTC())
	require.NoError(t, store.PlaceTrade(ctx, trade))

	require.NoError(t, store.SetForcedOutcome(ctx, trade.ID, models.OutcomeForcedLoss))
	got, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeForcedLoss, got.ForcedOutcome)

	assert.ErrorIs(t, store.SetForcedOutcome(ctx, "missing", models.OutcomeForcedWin), ErrTradeNotFound)

	_, err = store.ClaimTrade(ctx, trade.ID, ClaimUpdate{Status: models.StatusCancelled, ClosedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.ErrorIs(t, store.SetForcedOutcome(ctx, trade.ID, models.OutcomeForcedWin), ErrTradeNotPending)
}

func TestStore_ListExpiredPending(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	now := time.Now().UTC()

	// a expired 60s ago, b expired 30s ago, c expires in 20s
	offsets := map[string]time.Duration{"a": -90 * time.Second, "b": -60 * time.Second, "c": -10 * time.Second}
	for _, user := range []string{"a", "b", "c"} {
		_, err := store.CreateWallet(ctx, user, decimal.NewFromInt(100))
		require.NoError(t, err)
		require.NoError(t, store.PlaceTrade(ctx, newPendingTrade(user, 10, now.Add(offsets[user]))))
	}

	expired, err := store.ListExpiredPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "a", expired[0].UserID)
	assert.Equal(t, "b", expired[1].UserID)

	limited, err := store.ListExpiredPending(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_Notifications(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	n := &models.Notification{
		ID:      uuid.NewString(),
		UserID:  "alice",
		TradeID: "trade-1",
		Kind:    models.NotifyTradeWon,
		Title:   "Trade won",
		Message: "+800",
	}
	require.NoError(t, store.AppendNotification(ctx, n))

	pending, err := store.ListUndelivered(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.MarkDelivered(ctx, n.ID, time.Now().UTC()))
	pending, err = store.ListUndelivered(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStore_CreateWallet_Duplicate(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	_, err := store.CreateWallet(ctx, "alice", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = store.CreateWallet(ctx, "alice", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrWalletExists)
}
