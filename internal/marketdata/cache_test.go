package marketdata

import (
	"context"
	"testing"
	"time"
	"trendbot/internal/exchange"
	"trendbot/internal/executor"
	"trendbot/internal/logger"
	"trendbot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error"})
}

func candleAt(ts time.Time, close string, confirmed bool) models.Candle {
	return models.Candle{
		Timestamp: ts,
		Open:      decimal.RequireFromString(close),
		High:      decimal.RequireFromString(close),
		Low:       decimal.RequireFromString(close),
		Close:     decimal.RequireFromString(close),
		Confirmed: confirmed,
	}
}

func TestUpsertAppendsAndReplaces(t *testing.T) {
	c := NewCache("BTCUSDT", 100, 30*time.Second, nil, nil, testLogger())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	c.Upsert("5", candleAt(base, "100", true))
	c.Upsert("5", candleAt(base.Add(5*time.Minute), "101", false))
	require.Equal(t, 2, c.Len("5"))

	// Равная отметка: незакрытый бар обновился на месте.
	c.Upsert("5", candleAt(base.Add(5*time.Minute), "102", true))
	snap := c.Snapshot("5", 0)
	require.Len(t, snap, 2)
	assert.True(t, decimal.RequireFromString("102").Equal(snap[1].Close))
	assert.True(t, snap[1].Confirmed)
}

func TestUpsertRejectsMutationOfConfirmed(t *testing.T) {
	c := NewCache("BTCUSDT", 100, 30*time.Second, nil, nil, testLogger())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	c.Upsert("5", candleAt(base, "100", true))
	c.Upsert("5", candleAt(base, "999", false))

	snap := c.Snapshot("5", 0)
	require.Len(t, snap, 1)
	assert.True(t, decimal.RequireFromString("100").Equal(snap[0].Close))
}

func TestUpsertDropsOutOfOrder(t *testing.T) {
	c := NewCache("BTCUSDT", 100, 30*time.Second, nil, nil, testLogger())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	c.Upsert("5", candleAt(base.Add(10*time.Minute), "100", true))
	c.Upsert("5", candleAt(base, "90", true))

	snap := c.Snapshot("5", 0)
	require.Len(t, snap, 1)
	assert.Equal(t, base.Add(10*time.Minute), snap[0].Timestamp)
}

func TestUpsertTrimsToLimit(t *testing.T) {
	c := NewCache("BTCUSDT", 3, 30*time.Second, nil, nil, testLogger())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		c.Upsert("5", candleAt(base.Add(time.Duration(i)*5*time.Minute), "100", true))
	}
	assert.Equal(t, 3, c.Len("5"))

	snap := c.Snapshot("5", 0)
	assert.Equal(t, base.Add(45*time.Minute), snap[2].Timestamp)
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCache("BTCUSDT", 100, 30*time.Second, nil, nil, testLogger())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	c.Upsert("5", candleAt(base, "100", true))

	snap := c.Snapshot("5", 0)
	snap[0].Close = decimal.RequireFromString("0")

	again := c.Snapshot("5", 0)
	assert.True(t, decimal.RequireFromString("100").Equal(again[0].Close))
}

func TestIsStale(t *testing.T) {
	c := NewCache("BTCUSDT", 100, time.Second, nil, nil, testLogger())

	// Пустая серия всегда устаревшая.
	assert.True(t, c.IsStale("5"))

	c.Upsert("5", candleAt(time.Now(), "100", false))
	assert.False(t, c.IsStale("5"))
}

func TestRejectedCandlesDoNotRefreshStaleness(t *testing.T) {
	c := NewCache("BTCUSDT", 100, time.Second, nil, nil, testLogger())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	c.Upsert("5", candleAt(base.Add(10*time.Minute), "100", true))

	s := c.getSeries("5")
	s.mu.Lock()
	accepted := s.lastUpdate
	s.mu.Unlock()

	// Повторы старых баров и мутация подтверждённого отбрасываются и
	// не должны маскировать устаревание серии.
	c.Upsert("5", candleAt(base, "90", true))
	c.Upsert("5", candleAt(base.Add(10*time.Minute), "999", false))

	s.mu.Lock()
	after := s.lastUpdate
	s.mu.Unlock()
	assert.Equal(t, accepted, after)
}

func TestIntervalDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, IntervalDuration("5"))
	assert.Equal(t, time.Hour, IntervalDuration("60"))
	assert.Equal(t, 24*time.Hour, IntervalDuration("D"))
	assert.Equal(t, time.Minute, IntervalDuration("мусор"))
}

// stubClient подменяет только используемые методы.
type stubClient struct {
	exchange.Client
	klines []models.Candle
}

func (s *stubClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return s.klines, nil
}

func TestRepairInitializesAndMerges(t *testing.T) {
	log := testLogger()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	stub := &stubClient{klines: []models.Candle{
		candleAt(base, "100", true),
		candleAt(base.Add(5*time.Minute), "101", true),
		candleAt(base.Add(10*time.Minute), "102", false),
	}}
	exec := executor.New(log, executor.WithMinInterval(0))
	c := NewCache("BTCUSDT", 100, 30*time.Second, stub, exec, log)

	require.NoError(t, c.Repair(context.Background(), "5", 3))
	assert.Equal(t, 3, c.Len("5"))

	// Повторный снапшот не ломает монотонность и не дублирует бары.
	require.NoError(t, c.Repair(context.Background(), "5", 3))
	assert.Equal(t, 3, c.Len("5"))
}
