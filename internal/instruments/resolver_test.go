package instruments

import (
	"context"
	"testing"
	"trendbot/internal/exchange"
	"trendbot/internal/executor"
	"trendbot/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestQuantizeDown(t *testing.T) {
	cases := []struct {
		value, step, want string
	}{
		{"0.0014", "0.001", "0.001"},
		{"0.003", "0.001", "0.003"},
		{"123.456", "0.05", "123.45"},
		{"0.0009", "0.001", "0"},
		{"7", "1", "7"},
	}
	for _, tc := range cases {
		got := QuantizeDown(d(tc.value), d(tc.step))
		assert.True(t, d(tc.want).Equal(got), "%s шаг %s: ожидали %s, получили %s", tc.value, tc.step, tc.want, got)
	}
}

func TestQuantizeDownInvariants(t *testing.T) {
	value := d("0.123456789")
	step := d("0.0001")
	got := QuantizeDown(value, step)

	// Результат кратен шагу и не превышает исходное значение.
	assert.True(t, got.Mod(step).IsZero())
	assert.True(t, got.LessThanOrEqual(value))

	// Нулевой шаг оставляет значение как есть.
	assert.True(t, value.Equal(QuantizeDown(value, decimal.Zero)))
}

// stubClient подменяет только используемые методы.
type stubClient struct {
	exchange.Client
	rules exchange.InstrumentRules
	calls int
}

func (s *stubClient) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	s.calls++
	return s.rules, nil
}

func TestRulesFetchesOnceAndCaches(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	stub := &stubClient{rules: exchange.InstrumentRules{
		Symbol:    "BTCUSDT",
		PriceStep: d("0.01"),
		QtyStep:   d("0.001"),
		MinQty:    d("0.001"),
	}}
	r := NewResolver(stub, executor.New(log, executor.WithMinInterval(0)), log)

	rules, err := r.Rules(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, d("0.01").Equal(rules.PriceStep))

	// Повторный запрос идёт из кэша, на биржу не ходим.
	_, err = r.Rules(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestRefreshRejectsBrokenSteps(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	stub := &stubClient{rules: exchange.InstrumentRules{
		Symbol:    "BTCUSDT",
		PriceStep: decimal.Zero,
		QtyStep:   d("0.001"),
	}}
	r := NewResolver(stub, executor.New(log, executor.WithMinInterval(0)), log)

	_, err := r.Refresh(context.Background(), "BTCUSDT")
	require.Error(t, err)
}

func TestValidateQty(t *testing.T) {
	rules := exchange.InstrumentRules{
		QtyStep: d("0.001"),
		MinQty:  d("0.001"),
		MaxQty:  d("100"),
	}

	assert.NoError(t, ValidateQty(rules, d("0.001")))
	assert.NoError(t, ValidateQty(rules, d("100")))

	err := ValidateQty(rules, QuantizeDown(d("0.0009"), rules.QtyStep))
	require.Error(t, err)
	assert.True(t, exchange.IsRejected(err))

	err = ValidateQty(rules, d("0.0005"))
	require.Error(t, err)
	assert.True(t, exchange.IsRejected(err))

	err = ValidateQty(rules, d("101"))
	require.Error(t, err)
	assert.True(t, exchange.IsRejected(err))
}
