package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"trade-settlement-engine/internal/config"
	"trade-settlement-engine/internal/database"
	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/models"
	"trade-settlement-engine/internal/settlement"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// remoteFunc adapts a function to RemoteSettler.
type remoteFunc func(ctx context.Context, tradeID string) (*settlement.Result, error)

func (f remoteFunc) Settle(ctx context.Context, tradeID string) (*settlement.Result, error) {
	return f(ctx, tradeID)
}

type testEnv struct {
	store   *ledger.Store
	settler *settlement.Settler
	clock   *fakeClock
}

func setupTest(t *testing.T) *testEnv {
	db, err := database.Open("file::memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	store := ledger.NewStore(db, zap.NewNop())
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	executor := settlement.NewExecutor(settlement.ExecutorConfig{Store: store, Now: clock.Now, Logger: zap.NewNop()})
	settler := settlement.NewSettler(settlement.SettlerConfig{
		Store:    store,
		Resolver: settlement.NewResolver(settlement.FixedRand(0.10)),
		Executor: executor,
		Platform: config.Platform{TradingEnabled: true, TradeDuration: 30, WinRate: 45, ProfitPercentage: 80, LossPercentage: 100},
		Now:      clock.Now,
		Logger:   zap.NewNop(),
	})
	return &testEnv{store: store, settler: settler, clock: clock}
}

func (e *testEnv) placeTrade(t *testing.T, userID string) *models.Trade {
	ctx := context.Background()
	_, err := e.store.CreateWallet(ctx, userID, decimal.NewFromInt(5000))
	require.NoError(t, err)
	start := e.clock.Now()
	trade := &models.Trade{
		ID:              uuid.NewString(),
		UserID:          userID,
		Pair:            "BTCUSDT",
		Direction:       models.DirectionLong,
		Stake:           decimal.NewFromInt(1000),
		EntryPrice:      decimal.NewFromInt(50000),
		Status:          models.StatusPending,
		DurationSeconds: 30,
		TimerStartedAt:  start,
		ExpiresAt:       start.Add(30 * time.Second),
		ForcedOutcome:   models.OutcomeAutomatic,
	}
	require.NoError(t, e.store.PlaceTrade(ctx, trade))
	return trade
}

func (e *testEnv) countdown(tradeID string, remote RemoteSettler, onTick func(Tick)) *Countdown {
	return NewCountdown(tradeID, CountdownConfig{
		Store:         e.store,
		Local:         e.settler,
		Remote:        remote,
		RemoteTimeout: 20 * time.Millisecond,
		HoldWindow:    10 * time.Millisecond,
		Interval:      time.Millisecond,
		Now:           e.clock.Now,
		OnTick:        onTick,
		Logger:        zap.NewNop(),
	})
}

func TestCountdown_CountsDownThenSettlesLocally(t *testing.T) {
	// Arrange
	env := setupTest(t)
	trade := env.placeTrade(t, "alice")

	var ticks []Tick
	onTick := func(tk Tick) {
		ticks = append(ticks, tk)
		if tk.Phase == PhaseCounting {
			env.clock.Advance(10 * time.Second)
		}
	}

	// Act
	res, err := env.countdown(trade.ID, nil, onTick).Run(context.Background())

	// Assert
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, models.StatusWon, res.Trade.Status)
	assert.Equal(t, models.SettledByCountdown, res.Trade.SettledBy)

	var remaining []int
	var phases []Phase
	for _, tk := range ticks {
		phases = append(phases, tk.Phase)
		if tk.Phase == PhaseCounting {
			remaining = append(remaining, tk.Remaining)
		}
	}
	assert.Equal(t, []int{30, 20, 10}, remaining)
	assert.Equal(t, []Phase{PhaseCounting, PhaseCounting, PhaseCounting, PhaseSettling, PhaseHolding, PhaseReady}, phases)
}

func TestCountdown_ResumesFromPersistedTimer(t *testing.T) {
	env := setupTest(t)
	trade := env.placeTrade(t, "alice")
	env.clock.Advance(25*time.Second + 500*time.Millisecond)

	var first *Tick
	onTick := func(tk Tick) {
		if first == nil {
			first = &tk
		}
		env.clock.Advance(time.Second)
	}

	_, err := env.countdown(trade.ID, nil, onTick).Run(context.Background())

	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, PhaseCounting, first.Phase)
	assert.Equal(t, 5, first.Remaining)
}

func TestCountdown_PrefersRemote(t *testing.T) {
	env := setupTest(t)
	trade := env.placeTrade(t, "alice")
	env.clock.Advance(30 * time.Second)

	calls := 0
	remote := remoteFunc(func(ctx context.Context, tradeID string) (*settlement.Result, error) {
		calls++
		return env.settler.Settle(ctx, tradeID, settlement.SettleOptions{By: models.SettledByRemote})
	})

	res, err := env.countdown(trade.ID, remote, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, models.SettledByRemote, res.Trade.SettledBy)
}

func TestCountdown_FallsBackToLocal(t *testing.T) {
	for _, tc := range []struct {
		name   string
		remote remoteFunc
	}{
		{
			name: "Timeout",
			remote: func(ctx context.Context, _ string) (*settlement.Result, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
		{
			name: "Error",
			remote: func(context.Context, string) (*settlement.Result, error) {
				return nil, errors.New("connection refused")
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := setupTest(t)
			trade := env.placeTrade(t, "alice")
			env.clock.Advance(31 * time.Second)

			res, err := env.countdown(trade.ID, tc.remote, nil).Run(context.Background())

			require.NoError(t, err)
			assert.True(t, res.Applied)
			assert.Equal(t, models.SettledByCountdown, res.Trade.SettledBy)

			wallet, err := env.store.GetWallet(context.Background(), "alice")
			require.NoError(t, err)
			assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(5800)))
		})
	}
}

func TestCountdown_AlreadySettledTrade(t *testing.T) {
	env := setupTest(t)
	trade := env.placeTrade(t, "alice")
	env.clock.Advance(30 * time.Second)
	_, err := env.settler.Settle(context.Background(), trade.ID, settlement.SettleOptions{By: models.SettledBySweep})
	require.NoError(t, err)

	res, err := env.countdown(trade.ID, nil, nil).Run(context.Background())

	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, models.SettledBySweep, res.Trade.SettledBy)
	count, err := env.store.CountTransactionsByTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCountdown_EndsWhenAnotherTriggerSettles(t *testing.T) {
	// Arrange: an operator force-settles the trade while this session is counting down.
	env := setupTest(t)
	trade := env.placeTrade(t, "alice")

	counting := 0
	var phases []Phase
	onTick := func(tk Tick) {
		phases = append(phases, tk.Phase)
		if tk.Phase != PhaseCounting {
			return
		}
		counting++
		if counting == 1 {
			_, err := env.settler.Settle(context.Background(), trade.ID,
				settlement.SettleOptions{By: models.SettledByAdmin, Force: true})
			require.NoError(t, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Act
	res, err := env.countdown(trade.ID, nil, onTick).Run(ctx)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Applied)
	assert.Equal(t, models.SettledByAdmin, res.Trade.SettledBy)
	assert.Equal(t, 1, counting)
	assert.Equal(t, []Phase{PhaseCounting, PhaseHolding, PhaseReady}, phases)
}

func TestCountdown_StopsOnCancel(t *testing.T) {
	env := setupTest(t)
	trade := env.placeTrade(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	onTick := func(tk Tick) {
		if tk.Phase == PhaseCounting {
			cancel()
		}
	}

	res, err := env.countdown(trade.ID, nil, onTick).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	got, err := env.store.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestCountdown_UnknownTrade(t *testing.T) {
	env := setupTest(t)

	_, err := env.countdown("missing", nil, nil).Run(context.Background())

	assert.ErrorIs(t, err, ledger.ErrTradeNotFound)
}

func TestSweeper_SettlesOnlyStaleTrades(t *testing.T) {
	// Arrange: "old" expired 60s ago, "fresh" expired 5s ago, "live" is still counting.
	env := setupTest(t)
	old := env.placeTrade(t, "old")
	env.clock.Advance(55 * time.Second)
	fresh := env.placeTrade(t, "fresh")
	env.clock.Advance(20 * time.Second)
	live := env.placeTrade(t, "live")
	env.clock.Advance(15 * time.Second)

	sweeper := NewSweeper(env.store, env.settler, config.Settlement{SweepGrace: 10 * time.Second, SweepBatchSize: 10}, zap.NewNop())
	sweeper.now = env.clock.Now

	// Act
	settled, err := sweeper.Sweep(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	for id, want := range map[string]models.TradeStatus{old.ID: models.StatusWon, fresh.ID: models.StatusPending, live.ID: models.StatusPending} {
		got, err := env.store.GetTrade(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}
	got, err := env.store.GetTrade(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettledBySweep, got.SettledBy)

	// A second pass finds nothing new.
	settled, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
}

func TestSweeper_RacesCountdownSafely(t *testing.T) {
	env := setupTest(t)
	trade := env.placeTrade(t, "alice")
	env.clock.Advance(time.Minute)

	sweeper := NewSweeper(env.store, env.settler, config.Settlement{SweepGrace: time.Second}, zap.NewNop())
	sweeper.now = env.clock.Now

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := sweeper.Sweep(context.Background())
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := env.countdown(trade.ID, nil, nil).Run(context.Background())
		assert.NoError(t, err)
	}()
	wg.Wait()

	count, err := env.store.CountTransactionsByTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	wallet, err := env.store.GetWallet(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(5800)))
	assert.True(t, wallet.LockedAmount.IsZero())
}

func TestSweeper_RunLogsLifecycleEvents(t *testing.T) {
	env := setupTest(t)
	trade := env.placeTrade(t, "alice")
	env.clock.Advance(time.Minute)

	core, logs := observer.New(zapcore.InfoLevel)
	sweeper := NewSweeper(env.store, env.settler, config.Settlement{SweepInterval: time.Millisecond}, zap.New(core))
	sweeper.now = env.clock.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := env.store.GetTrade(context.Background(), trade.ID)
		return err == nil && got.Status.IsTerminal()
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	var messages []string
	for _, entry := range logs.All() {
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, "sweeper-started", messages[0])
	assert.Contains(t, messages, "sweep-complete")
	assert.Equal(t, "sweeper-stopped", messages[len(messages)-1])
}
