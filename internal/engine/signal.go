package engine

import (
	"context"
	"trendbot/internal/models"

	"github.com/sirupsen/logrus"
)

// OnSignal применяет сигнал стратегии к текущему состоянию.
// Попутный сигнал при открытой позиции игнорируется. Встречный либо
// закрывает позицию (и по настройке открывает противоположную), либо
// только логируется, если закрытие по встречному сигналу выключено.
func (e *Engine) OnSignal(ctx context.Context, sig models.Signal) {
	if sig.Action == models.SignalHold || sig.Symbol != e.cfg.Bot.Symbol {
		return
	}

	side := models.OrderSideBuy
	if sig.Action == models.SignalSell {
		side = models.OrderSideSell
	}

	e.mu.Lock()
	same := e.positions[side]
	opposite := e.positions[side.Opposite()]
	var oppositeCopy models.Position
	if opposite != nil {
		oppositeCopy = *opposite
	}
	total := len(e.positions)
	e.mu.Unlock()

	entry := e.logEntry().WithFields(logrus.Fields{
		"action": sig.Action,
		"price":  sig.Price.String(),
	})

	if same != nil {
		entry.Debug("Сигнал совпадает с открытой позицией, пропускаем.")
		return
	}

	if opposite != nil {
		if !e.cfg.Risk.CloseOnOppositeSignal {
			entry.Info("Встречный сигнал: позиция удерживается, выход по стопам.")
			return
		}
		if err := e.ClosePosition(ctx, oppositeCopy, closedBySignal); err != nil {
			return
		}
		if !e.cfg.Risk.ReverseOnOppositeSignal {
			return
		}
		total--
	}

	if total >= e.cfg.Risk.MaxOpenPositions {
		entry.Debug("Достигнут лимит открытых позиций, вход пропущен.")
		return
	}

	if err := e.Open(ctx, side, sig.Price, sig.ATR); err != nil {
		entry.WithError(err).Warn("Вход по сигналу не удался.")
	}
}
