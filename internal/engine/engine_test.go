package engine

import (
	"context"
	"testing"
	"time"
	"trendbot/internal/config"
	"trendbot/internal/exchange"
	"trendbot/internal/executor"
	"trendbot/internal/logger"
	"trendbot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type noopAlerter struct{}

func (noopAlerter) Critical(string) {}

// stubClient подменяет только нужные тесту методы.
type stubClient struct {
	exchange.Client
	balances  map[string]models.Balance
	positions []models.Position
}

func (s *stubClient) GetBalances(ctx context.Context, coins []string) (map[string]models.Balance, error) {
	return s.balances, nil
}

func (s *stubClient) GetPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	return s.positions, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Bot: config.BotConfig{
			Symbol:       "BTCUSDT",
			Interval:     "5",
			LoopDelaySec: 15,
		},
		Risk: config.RiskConfig{
			RiskPerTradePercent:   1.0,
			StopLossATRMultiple:   2.0,
			TakeProfitATRMultiple: 4.0,
			MaxOpenPositions:      1,
			CloseOnOppositeSignal: true,
		},
		Runtime: config.RuntimeConfig{DryRun: true},
	}
}

func newTestEngine(t *testing.T, client exchange.Client) *Engine {
	t.Helper()
	log := logger.New(logger.Config{Level: "error"})
	exec := executor.New(log, executor.WithMinInterval(0))
	tracker := NewPerformanceTracker(log, nil)
	e := New(testConfig(), client, exec, nil, nil, nil, tracker, noopAlerter{}, log)
	e.rules = exchange.InstrumentRules{
		Symbol:    "BTCUSDT",
		PriceStep: d("0.01"),
		QtyStep:   d("0.001"),
		MinQty:    d("0.001"),
		QuoteCoin: "USDT",
	}
	return e
}

func TestReconcileAdoptsUntrackedPosition(t *testing.T) {
	e := newTestEngine(t, &stubClient{})

	e.applyPositionUpdates([]models.Position{{
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Size:       d("0.5"),
		EntryPrice: d("100"),
		StopLoss:   d("96"),
	}})

	require.NoError(t, e.Reconcile(context.Background()))

	e.mu.Lock()
	pos, ok := e.positions[models.OrderSideBuy]
	e.mu.Unlock()
	require.True(t, ok)
	assert.True(t, d("96").Equal(pos.InitialStopLoss))
	assert.False(t, pos.BreakevenActivated)
	assert.False(t, pos.EntryTime.IsZero())
}

func TestReconcilePreservesLocalFlags(t *testing.T) {
	e := newTestEngine(t, &stubClient{})
	entryTime := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	e.mu.Lock()
	e.positions[models.OrderSideBuy] = &models.Position{
		Symbol:             "BTCUSDT",
		Side:               models.OrderSideBuy,
		Size:               d("0.5"),
		EntryPrice:         d("100"),
		StopLoss:           d("100"),
		InitialStopLoss:    d("96"),
		BreakevenActivated: true,
		TrailingActivated:  true,
		EntryTime:          entryTime,
	}
	e.mu.Unlock()

	e.applyPositionUpdates([]models.Position{{
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Size:       d("0.7"),
		EntryPrice: d("101"),
		StopLoss:   d("100"),
	}})

	require.NoError(t, e.Reconcile(context.Background()))

	e.mu.Lock()
	pos := e.positions[models.OrderSideBuy]
	e.mu.Unlock()
	// Биржевые поля обновились, локальные флаги пережили сверку.
	assert.True(t, d("0.7").Equal(pos.Size))
	assert.True(t, d("101").Equal(pos.EntryPrice))
	assert.True(t, pos.BreakevenActivated)
	assert.True(t, pos.TrailingActivated)
	assert.True(t, d("96").Equal(pos.InitialStopLoss))
	assert.Equal(t, entryTime, pos.EntryTime)
}

func TestReconcileSettlesExternallyClosed(t *testing.T) {
	e := newTestEngine(t, &stubClient{})
	e.cfg.Runtime.DryRun = false

	e.mu.Lock()
	e.positions[models.OrderSideBuy] = &models.Position{
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Size:       d("2"),
		EntryPrice: d("100"),
		StopLoss:   d("96"),
		TakeProfit: d("108"),
	}
	e.lastTicker = models.Ticker{Symbol: "BTCUSDT", MarkPrice: d("96.1")}
	e.streamPositionsAt = time.Now()
	e.mu.Unlock()

	require.NoError(t, e.Reconcile(context.Background()))

	e.mu.Lock()
	_, ok := e.positions[models.OrderSideBuy]
	e.mu.Unlock()
	assert.False(t, ok)

	trades := e.tracker.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, closedByStopLoss, trades[0].ClosedBy)
	// (96.1 - 100) * 2 = -7.8
	assert.True(t, d("-7.8").Equal(trades[0].PnL))
}

func TestReconcileKeepsDryRunPositions(t *testing.T) {
	client := &stubClient{balances: map[string]models.Balance{
		"USDT": {Coin: "USDT", Wallet: d("10000"), Available: d("10000")},
	}}
	e := newTestEngine(t, client)

	require.NoError(t, e.Open(context.Background(), models.OrderSideBuy, d("100"), d("2")))

	// Биржа симулированную позицию не знает: стримовая карта пуста.
	e.mu.Lock()
	e.lastTicker = models.Ticker{Symbol: "BTCUSDT", MarkPrice: d("99")}
	e.streamPositionsAt = time.Now()
	e.mu.Unlock()

	require.NoError(t, e.Reconcile(context.Background()))

	e.mu.Lock()
	_, ok := e.positions[models.OrderSideBuy]
	e.mu.Unlock()
	assert.True(t, ok, "холостая позиция не должна закрываться сверкой")
	assert.Empty(t, e.tracker.Trades())
}

func TestReconcileSurvivesPartialStreamUpdate(t *testing.T) {
	e := newTestEngine(t, &stubClient{})
	e.cfg.Runtime.DryRun = false
	e.cfg.Risk.HedgeMode = true

	long := models.Position{
		Symbol: "BTCUSDT", Side: models.OrderSideBuy, PositionIdx: 1,
		Size: d("1"), EntryPrice: d("100"), StopLoss: d("96"),
	}
	short := models.Position{
		Symbol: "BTCUSDT", Side: models.OrderSideSell, PositionIdx: 2,
		Size: d("1"), EntryPrice: d("100"), StopLoss: d("104"),
	}

	e.applyPositionUpdates([]models.Position{long, short})
	require.NoError(t, e.Reconcile(context.Background()))

	// Обновление затрагивает только лонг; об отсутствии шорта в
	// событии это ничего не говорит.
	updated := long
	updated.Size = d("2")
	e.applyPositionUpdates([]models.Position{updated})

	require.NoError(t, e.Reconcile(context.Background()))

	e.mu.Lock()
	longPos, hasLong := e.positions[models.OrderSideBuy]
	_, hasShort := e.positions[models.OrderSideSell]
	e.mu.Unlock()
	require.True(t, hasLong)
	assert.True(t, hasShort, "шорт не должен закрываться из-за частичного обновления")
	assert.True(t, d("2").Equal(longPos.Size))
	assert.Empty(t, e.tracker.Trades())
}

func TestStreamZeroSizeClosesSide(t *testing.T) {
	e := newTestEngine(t, &stubClient{})
	e.cfg.Runtime.DryRun = false
	e.cfg.Risk.HedgeMode = true

	long := models.Position{
		Symbol: "BTCUSDT", Side: models.OrderSideBuy, PositionIdx: 1,
		Size: d("1"), EntryPrice: d("100"),
	}
	short := models.Position{
		Symbol: "BTCUSDT", Side: models.OrderSideSell, PositionIdx: 2,
		Size: d("1"), EntryPrice: d("100"),
	}
	e.applyPositionUpdates([]models.Position{long, short})
	require.NoError(t, e.Reconcile(context.Background()))

	e.mu.Lock()
	e.lastTicker = models.Ticker{Symbol: "BTCUSDT", MarkPrice: d("101")}
	e.mu.Unlock()

	// Закрытие приходит явной записью с нулевым объёмом; сторона у
	// таких записей может быть пустой, остаётся индекс позиции.
	e.applyPositionUpdates([]models.Position{{
		Symbol: "BTCUSDT", Side: "", PositionIdx: 2, Size: d("0"),
	}})

	require.NoError(t, e.Reconcile(context.Background()))

	e.mu.Lock()
	_, hasLong := e.positions[models.OrderSideBuy]
	_, hasShort := e.positions[models.OrderSideSell]
	e.mu.Unlock()
	assert.True(t, hasLong)
	assert.False(t, hasShort)

	trades := e.tracker.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, models.OrderSideSell, trades[0].Side)
}

func TestInferCloseReason(t *testing.T) {
	pos := models.Position{
		EntryPrice: d("100"),
		StopLoss:   d("96"),
		TakeProfit: d("108"),
	}
	assert.Equal(t, closedByStopLoss, inferCloseReason(pos, d("96.1")))
	assert.Equal(t, closedByTakeProfit, inferCloseReason(pos, d("107.9")))
	assert.Equal(t, closedByUnknown, inferCloseReason(pos, d("100.5")))
	assert.Equal(t, closedByUnknown, inferCloseReason(pos, decimal.Zero))
}

func TestRealizedPnL(t *testing.T) {
	assert.True(t, d("20").Equal(realizedPnL(models.OrderSideBuy, d("100"), d("110"), d("2"))))
	assert.True(t, d("20").Equal(realizedPnL(models.OrderSideSell, d("100"), d("90"), d("2"))))
	assert.True(t, d("-20").Equal(realizedPnL(models.OrderSideSell, d("100"), d("110"), d("2"))))
}

func TestOpenSizesFromRisk(t *testing.T) {
	client := &stubClient{balances: map[string]models.Balance{
		"USDT": {Coin: "USDT", Wallet: d("10000"), Available: d("10000")},
	}}
	e := newTestEngine(t, client)

	// Риск 1% от 10000 = 100; дистанция до стопа 2*2 = 4; объём 25.
	require.NoError(t, e.Open(context.Background(), models.OrderSideBuy, d("100"), d("2")))

	e.mu.Lock()
	pos, ok := e.positions[models.OrderSideBuy]
	e.mu.Unlock()
	require.True(t, ok)
	assert.True(t, d("25").Equal(pos.Size))
	assert.True(t, d("96").Equal(pos.StopLoss))
	assert.True(t, d("96").Equal(pos.InitialStopLoss))
	assert.True(t, d("108").Equal(pos.TakeProfit))
}

func TestOpenRejectsDustQty(t *testing.T) {
	client := &stubClient{balances: map[string]models.Balance{
		"USDT": {Coin: "USDT", Wallet: d("0.01"), Available: d("0.01")},
	}}
	e := newTestEngine(t, client)

	err := e.Open(context.Background(), models.OrderSideBuy, d("100"), d("2"))
	require.Error(t, err)
	assert.True(t, exchange.IsRejected(err))

	e.mu.Lock()
	_, ok := e.positions[models.OrderSideBuy]
	e.mu.Unlock()
	assert.False(t, ok)
}

func TestOnSignalClosesOnOpposite(t *testing.T) {
	client := &stubClient{balances: map[string]models.Balance{
		"USDT": {Coin: "USDT", Wallet: d("10000"), Available: d("10000")},
	}}
	e := newTestEngine(t, client)

	e.mu.Lock()
	e.positions[models.OrderSideBuy] = &models.Position{
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Size:       d("1"),
		EntryPrice: d("100"),
	}
	e.lastTicker = models.Ticker{Symbol: "BTCUSDT", MarkPrice: d("105")}
	e.mu.Unlock()

	e.OnSignal(context.Background(), models.Signal{
		Symbol: "BTCUSDT",
		Action: models.SignalSell,
		Price:  d("105"),
		ATR:    d("2"),
	})

	e.mu.Lock()
	_, hasBuy := e.positions[models.OrderSideBuy]
	_, hasSell := e.positions[models.OrderSideSell]
	e.mu.Unlock()
	assert.False(t, hasBuy)
	// Разворот выключен: встречная позиция не открывается.
	assert.False(t, hasSell)

	trades := e.tracker.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, closedBySignal, trades[0].ClosedBy)
}

func TestOnSignalReversesWhenEnabled(t *testing.T) {
	client := &stubClient{balances: map[string]models.Balance{
		"USDT": {Coin: "USDT", Wallet: d("10000"), Available: d("10000")},
	}}
	e := newTestEngine(t, client)
	e.cfg.Risk.ReverseOnOppositeSignal = true

	e.mu.Lock()
	e.positions[models.OrderSideBuy] = &models.Position{
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Size:       d("1"),
		EntryPrice: d("100"),
	}
	e.lastTicker = models.Ticker{Symbol: "BTCUSDT", MarkPrice: d("105")}
	e.mu.Unlock()

	e.OnSignal(context.Background(), models.Signal{
		Symbol: "BTCUSDT",
		Action: models.SignalSell,
		Price:  d("105"),
		ATR:    d("2"),
	})

	e.mu.Lock()
	_, hasSell := e.positions[models.OrderSideSell]
	e.mu.Unlock()
	assert.True(t, hasSell)
}

func TestOnSignalSkipsSameSideAndHold(t *testing.T) {
	e := newTestEngine(t, &stubClient{})

	e.mu.Lock()
	e.positions[models.OrderSideBuy] = &models.Position{
		Symbol: "BTCUSDT",
		Side:   models.OrderSideBuy,
		Size:   d("1"),
	}
	e.mu.Unlock()

	e.OnSignal(context.Background(), models.Signal{Symbol: "BTCUSDT", Action: models.SignalBuy, Price: d("100"), ATR: d("2")})
	e.OnSignal(context.Background(), models.Signal{Symbol: "BTCUSDT", Action: models.SignalHold})

	e.mu.Lock()
	count := len(e.positions)
	e.mu.Unlock()
	assert.Equal(t, 1, count)
	assert.Empty(t, e.tracker.Trades())
}
