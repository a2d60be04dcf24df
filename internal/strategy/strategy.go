package strategy

import (
	"trendbot/internal/models"
)

// Strategy превращает свечную серию в сигнал. Реализация не знает про
// позиции и ордера, только про рыночные данные.
type Strategy interface {
	Evaluate(symbol string, candles []models.Candle) (models.Signal, error)
}
