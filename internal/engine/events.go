package engine

import (
	"context"
	"time"
	"trendbot/internal/exchange"
	"trendbot/internal/executor"
	"trendbot/internal/models"

	"github.com/sirupsen/logrus"
)

// handleEvents разбирает поток событий одного канала. Обработка быстрая
// и неблокирующая: тяжёлая работа (сверка, стопы) живёт в периодических
// задачах, здесь только обновление состояния.
func (e *Engine) handleEvents(ctx context.Context, events <-chan exchange.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handleEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev exchange.Event) {
	switch ev.Type {
	case exchange.EventTypeKline:
		if ev.Kline != nil && ev.Kline.Symbol == e.cfg.Bot.Symbol {
			e.cache.Upsert(ev.Kline.Interval, ev.Kline.Candle)
		}

	case exchange.EventTypeTicker:
		if ev.Ticker == nil || ev.Ticker.Symbol != e.cfg.Bot.Symbol {
			return
		}
		e.mu.Lock()
		if ev.Ticker.Sequence >= e.lastTicker.Sequence {
			e.lastTicker = *ev.Ticker
		}
		e.mu.Unlock()

	case exchange.EventTypePosition:
		e.applyPositionUpdates(ev.Positions)

	case exchange.EventTypeOrder:
		if ev.Order == nil {
			return
		}
		e.applyOrderUpdate(*ev.Order)

	case exchange.EventTypeFill:
		if ev.Fill == nil {
			return
		}
		e.logEntry().WithFields(logrus.Fields{
			"order_id": ev.Fill.OrderID,
			"side":     ev.Fill.Side,
			"price":    ev.Fill.Price.String(),
			"qty":      ev.Fill.Qty.String(),
		}).Info("Получено исполнение.")

	case exchange.EventTypeWallet:
		// Баланс нужен только в момент открытия, там он берётся по REST.
		e.logEntry().Debug("Обновление кошелька получено.")

	case exchange.EventTypeReconnect:
		e.logEntry().Warn("Стрим переподключился, запускаем внеочередную сверку.")
		if err := e.Reconcile(ctx); err != nil {
			e.logEntry().WithError(err).Warn("Сверка после реконнекта не удалась.")
		}
		if err := e.syncOpenOrders(ctx); err != nil {
			e.logEntry().WithError(err).Warn("Синхронизация ордеров после реконнекта не удалась.")
		}
	}
}

// applyPositionUpdates вливает обновления приватного стрима в биржевое
// представление позиций. Стрим шлёт только изменившиеся позиции, а не
// полный снапшот, поэтому отсутствие стороны в событии ничего не значит;
// закрытие приходит явной записью с нулевым объёмом.
func (e *Engine) applyPositionUpdates(updates []models.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, pos := range updates {
		if pos.Symbol != e.cfg.Bot.Symbol {
			continue
		}
		if pos.Size.Sign() > 0 {
			e.streamPositions[pos.Side] = pos
			continue
		}
		// Нулевой объём: сторона может прийти пустой, тогда
		// ориентируемся на индекс позиции hedge-режима.
		switch {
		case pos.Side != "":
			delete(e.streamPositions, pos.Side)
		case pos.PositionIdx == 1:
			delete(e.streamPositions, models.OrderSideBuy)
		case pos.PositionIdx == 2:
			delete(e.streamPositions, models.OrderSideSell)
		default:
			// Односторонний режим: позиция одна, закрылась она.
			delete(e.streamPositions, models.OrderSideBuy)
			delete(e.streamPositions, models.OrderSideSell)
		}
	}
	e.streamPositionsAt = time.Now()
}

// applyOrderUpdate ведёт множество открытых ордеров: терминальный статус
// убирает ордер, остальные обновляются по месту. Обновления с отставшим
// Sequence игнорируются.
func (e *Engine) applyOrderUpdate(order models.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := order.ID
	if key == "" {
		key = order.LinkID
	}

	if prev, ok := e.openOrders[key]; ok && order.Sequence < prev.Sequence {
		return
	}

	entry := e.logEntry().WithFields(logrus.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	})

	if order.Status.IsTerminal() {
		delete(e.openOrders, key)
		if order.Status == models.OrderStatusRejected {
			entry.WithField("reject_code", order.RejectCode).Warn("Ордер отклонён биржей.")
			return
		}
		entry.Info("Ордер завершён.")
		return
	}
	e.openOrders[key] = order
	entry.Debug("Ордер обновлён.")
}

// syncOpenOrders перечитывает открытые ордера по REST; применяется на
// старте и после реконнекта, когда стрим мог потерять обновления.
func (e *Engine) syncOpenOrders(ctx context.Context) error {
	orders, err := executor.Call(e.exec, ctx, "open-orders", func(ctx context.Context) ([]models.Order, error) {
		return e.client.GetOpenOrders(ctx, e.cfg.Bot.Symbol)
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.openOrders = make(map[string]models.Order, len(orders))
	for _, order := range orders {
		key := order.ID
		if key == "" {
			key = order.LinkID
		}
		e.openOrders[key] = order
	}
	e.mu.Unlock()

	e.logEntry().WithField("count", len(orders)).Debug("Открытые ордера синхронизированы.")
	return nil
}
