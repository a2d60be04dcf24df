package strategy

import (
	"fmt"
	"time"
	"trendbot/internal/models"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

const (
	defaultFastPeriod = 9
	defaultSlowPeriod = 21
	defaultATRPeriod  = 14
)

// EMACross — эталонная трендовая стратегия: пересечение быстрой и
// медленной EMA по закрытиям подтверждённых баров. ATR считается тем же
// проходом и уходит в сигнал для расчёта стопов и размера.
type EMACross struct {
	fastPeriod int
	slowPeriod int
	atrPeriod  int
}

func NewEMACross(fastPeriod, slowPeriod, atrPeriod int) *EMACross {
	if fastPeriod <= 0 {
		fastPeriod = defaultFastPeriod
	}
	if slowPeriod <= fastPeriod {
		slowPeriod = defaultSlowPeriod
	}
	if atrPeriod <= 0 {
		atrPeriod = defaultATRPeriod
	}
	return &EMACross{fastPeriod: fastPeriod, slowPeriod: slowPeriod, atrPeriod: atrPeriod}
}

func (s *EMACross) Evaluate(symbol string, candles []models.Candle) (models.Signal, error) {
	confirmed := confirmedOnly(candles)
	minBars := s.slowPeriod + 2
	if s.atrPeriod+2 > minBars {
		minBars = s.atrPeriod + 2
	}
	if len(confirmed) < minBars {
		return models.Signal{}, fmt.Errorf("Недостаточно подтверждённых баров: %d из %d.", len(confirmed), minBars)
	}

	// Индикаторная математика работает на float64, решения и уровни
	// остаются в decimal.
	highs := make([]float64, len(confirmed))
	lows := make([]float64, len(confirmed))
	closes := make([]float64, len(confirmed))
	for i, c := range confirmed {
		highs[i] = c.High.InexactFloat64()
		lows[i] = c.Low.InexactFloat64()
		closes[i] = c.Close.InexactFloat64()
	}

	fast := talib.Ema(closes, s.fastPeriod)
	slow := talib.Ema(closes, s.slowPeriod)
	atr := talib.Atr(highs, lows, closes, s.atrPeriod)

	n := len(confirmed) - 1
	last := confirmed[n]

	sig := models.Signal{
		Symbol:    symbol,
		Action:    models.SignalHold,
		Price:     last.Close,
		ATR:       decimal.NewFromFloat(atr[n]),
		Timestamp: time.Now(),
	}

	crossedUp := fast[n-1] <= slow[n-1] && fast[n] > slow[n]
	crossedDown := fast[n-1] >= slow[n-1] && fast[n] < slow[n]
	switch {
	case crossedUp:
		sig.Action = models.SignalBuy
	case crossedDown:
		sig.Action = models.SignalSell
	}
	return sig, nil
}

// confirmedOnly отрезает незакрытый бар: сигналы считаются только по
// завершённым свечам, иначе пересечение может исчезнуть до закрытия.
func confirmedOnly(candles []models.Candle) []models.Candle {
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Confirmed {
			out = append(out, c)
		}
	}
	return out
}
