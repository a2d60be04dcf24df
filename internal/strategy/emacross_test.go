package strategy

import (
	"testing"
	"time"
	"trendbot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(closes []float64) []models.Candle {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		out[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price,
			High:      price.Add(decimal.NewFromInt(1)),
			Low:       price.Sub(decimal.NewFromInt(1)),
			Close:     price,
			Confirmed: true,
		}
	}
	return out
}

func TestEvaluateRequiresEnoughBars(t *testing.T) {
	s := NewEMACross(9, 21, 14)
	_, err := s.Evaluate("BTCUSDT", series([]float64{100, 101, 102}))
	require.Error(t, err)
}

func TestEvaluateHoldOnFlatSeries(t *testing.T) {
	s := NewEMACross(9, 21, 14)

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}

	sig, err := s.Evaluate("BTCUSDT", series(closes))
	require.NoError(t, err)
	assert.Equal(t, models.SignalHold, sig.Action)
	assert.True(t, sig.ATR.GreaterThan(decimal.Zero))
}

func TestEvaluateBuyOnCrossUp(t *testing.T) {
	s := NewEMACross(9, 21, 14)

	// Плавное снижение держит быструю EMA под медленной, резкий
	// финальный бар переворачивает их местами.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 120 - float64(i)
	}
	closes[len(closes)-1] = 250

	sig, err := s.Evaluate("BTCUSDT", series(closes))
	require.NoError(t, err)
	assert.Equal(t, models.SignalBuy, sig.Action)
	assert.True(t, decimal.NewFromInt(250).Equal(sig.Price))
}

func TestEvaluateSellOnCrossDown(t *testing.T) {
	s := NewEMACross(9, 21, 14)

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 60 + float64(i)
	}
	closes[len(closes)-1] = 1

	sig, err := s.Evaluate("BTCUSDT", series(closes))
	require.NoError(t, err)
	assert.Equal(t, models.SignalSell, sig.Action)
}

func TestEvaluateIgnoresUnconfirmedBar(t *testing.T) {
	s := NewEMACross(9, 21, 14)

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 120 - float64(i)
	}
	candles := series(closes)

	// Незакрытый бар с выбросом не должен давать сигнал.
	candles = append(candles, models.Candle{
		Timestamp: candles[len(candles)-1].Timestamp.Add(5 * time.Minute),
		Close:     decimal.NewFromInt(250),
		High:      decimal.NewFromInt(251),
		Low:       decimal.NewFromInt(249),
		Confirmed: false,
	})

	sig, err := s.Evaluate("BTCUSDT", candles)
	require.NoError(t, err)
	assert.Equal(t, models.SignalHold, sig.Action)
}
