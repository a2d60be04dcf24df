package engine

import (
	"context"
	"strings"
	"time"
	"trendbot/internal/exchange"
	"trendbot/internal/executor"
	"trendbot/internal/instruments"
	"trendbot/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Open открывает позицию рыночным ордером со стопом и тейком.
// Объём считается от риска на сделку: риск в валюте котировки делится
// на расстояние до стопа, результат квантуется вниз к шагу объёма.
func (e *Engine) Open(ctx context.Context, side models.OrderSide, price, atr decimal.Decimal) error {
	if price.Sign() <= 0 || atr.Sign() <= 0 {
		return exchange.NewError(exchange.KindRejected, 0, "Нет цены или ATR для расчёта объёма.")
	}

	long := side == models.OrderSideBuy
	stopDistance := atr.Mul(decimal.NewFromFloat(e.cfg.Risk.StopLossATRMultiple))
	if stopDistance.Sign() <= 0 {
		return exchange.NewError(exchange.KindRejected, 0, "Нулевое расстояние до стопа.")
	}

	stopLoss := offsetPrice(!long, price, atr, e.cfg.Risk.StopLossATRMultiple)
	takeProfit := decimal.Zero
	if e.cfg.Risk.TakeProfitATRMultiple > 0 {
		takeProfit = offsetPrice(long, price, atr, e.cfg.Risk.TakeProfitATRMultiple)
	}
	stopLoss = quantizeStop(side, stopLoss, e.rules.PriceStep)
	takeProfit = instruments.QuantizeDown(takeProfit, e.rules.PriceStep)

	balance, err := e.availableBalance(ctx)
	if err != nil {
		return err
	}

	riskAmount := balance.Mul(decimal.NewFromFloat(e.cfg.Risk.RiskPerTradePercent)).Div(decimal.NewFromInt(100))
	qty := instruments.QuantizeDown(riskAmount.Div(stopDistance), e.rules.QtyStep)
	if err := instruments.ValidateQty(e.rules, qty); err != nil {
		e.logEntry().WithError(err).WithFields(logrus.Fields{
			"side":    side,
			"balance": balance.String(),
		}).Warn("Вход отклонён локально: объём вне ограничений.")
		return err
	}
	if e.rules.MinNotional.Sign() > 0 && qty.Mul(price).LessThan(e.rules.MinNotional) {
		return exchange.NewError(exchange.KindRejected, 0, "Стоимость ордера меньше минимальной.")
	}

	order := models.Order{
		LinkID:     newLinkID(),
		Symbol:     e.cfg.Bot.Symbol,
		Side:       side,
		Type:       models.OrderTypeMarket,
		Qty:        qty,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}
	if e.cfg.Risk.HedgeMode {
		order.PositionIdx = hedgeIdx(side)
	}

	entry := e.logEntry().WithFields(logrus.Fields{
		"side":        side,
		"qty":         qty.String(),
		"price":       price.String(),
		"stop_loss":   stopLoss.String(),
		"take_profit": takeProfit.String(),
		"link_id":     order.LinkID,
	})

	if e.cfg.Runtime.DryRun {
		entry.Info("Вход в позицию (холостой режим, без отправки).")
		e.adoptLocal(side, qty, price, stopLoss, takeProfit)
		return nil
	}

	placed, err := executor.Call(e.exec, ctx, "order-create", func(ctx context.Context) (models.Order, error) {
		return e.client.PlaceOrder(ctx, order)
	})
	if err != nil {
		if exchange.IsDuplicateLinkID(err) {
			entry.Warn("Ордер уже размещён ранее, дубликат не отправлен.")
			return nil
		}
		entry.WithError(err).Error("Не удалось разместить ордер входа.")
		if exchange.IsExhausted(err) {
			e.alerter.Critical("Вход в позицию не удался после всех повторов: " + err.Error())
		}
		return err
	}

	entry.WithField("order_id", placed.ID).Info("Ордер входа размещён.")
	e.adoptLocal(side, qty, price, stopLoss, takeProfit)
	return nil
}

// adoptLocal заводит локальную запись позиции сразу после входа; точные
// цифры принесёт ближайшая сверка.
func (e *Engine) adoptLocal(side models.OrderSide, qty, price, stopLoss, takeProfit decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := &models.Position{
		Symbol:          e.cfg.Bot.Symbol,
		Side:            side,
		Size:            qty,
		EntryPrice:      price,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		InitialStopLoss: stopLoss,
		EntryTime:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if e.cfg.Risk.HedgeMode {
		pos.PositionIdx = hedgeIdx(side)
	}
	e.positions[side] = pos
}

// ClosePosition закрывает позицию встречным reduce-only рыночным ордером.
// Закрытие учитывается в closeTasks, чтобы Shutdown его дождался.
func (e *Engine) ClosePosition(ctx context.Context, pos models.Position, reason string) error {
	e.closeTasks.Add(1)
	defer e.closeTasks.Done()

	order := models.Order{
		LinkID:      newLinkID(),
		Symbol:      pos.Symbol,
		Side:        pos.Side.Opposite(),
		Type:        models.OrderTypeMarket,
		Qty:         pos.Size,
		ReduceOnly:  true,
		PositionIdx: pos.PositionIdx,
	}

	exitPrice := e.currentPrice()
	pnl := realizedPnL(pos.Side, pos.EntryPrice, exitPrice, pos.Size)

	entry := e.logEntry().WithFields(logrus.Fields{
		"side":   pos.Side,
		"qty":    pos.Size.String(),
		"reason": reason,
		"pnl":    pnl.String(),
	})

	if !e.cfg.Runtime.DryRun {
		_, err := executor.Call(e.exec, ctx, "order-close", func(ctx context.Context) (models.Order, error) {
			return e.client.PlaceOrder(ctx, order)
		})
		if err != nil {
			entry.WithError(err).Error("Не удалось закрыть позицию.")
			if exchange.IsExhausted(err) {
				e.alerter.Critical("Закрытие позиции не удалось после всех повторов: " + err.Error())
			}
			return err
		}
	}

	entry.Info("Позиция закрыта.")

	e.tracker.Record(TradeRecord{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       pos.Size,
		PnL:        pnl,
		ClosedBy:   reason,
		EntryTime:  pos.EntryTime,
		ExitTime:   time.Now(),
	})

	e.mu.Lock()
	delete(e.positions, pos.Side)
	e.mu.Unlock()
	return nil
}

// availableBalance возвращает доступный остаток валюты котировки.
func (e *Engine) availableBalance(ctx context.Context) (decimal.Decimal, error) {
	quote := e.rules.QuoteCoin
	if quote == "" {
		quote = "USDT"
	}

	balances, err := executor.Call(e.exec, ctx, "wallet-balance", func(ctx context.Context) (map[string]models.Balance, error) {
		return e.client.GetBalances(ctx, []string{quote})
	})
	if err != nil {
		return decimal.Zero, err
	}

	b, ok := balances[quote]
	if !ok {
		return decimal.Zero, exchange.NewError(exchange.KindRejected, 0, "Нет баланса в валюте котировки "+quote+".")
	}
	if b.Available.Sign() > 0 {
		return b.Available, nil
	}
	return b.Wallet, nil
}

func (e *Engine) currentPrice() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.lastTicker.MarkPrice.IsZero() {
		return e.lastTicker.MarkPrice
	}
	return e.lastTicker.LastPrice
}

// hedgeIdx: индекс позиции в хедж-режиме, 1 для лонга и 2 для шорта.
func hedgeIdx(side models.OrderSide) int {
	if side == models.OrderSideBuy {
		return 1
	}
	return 2
}

func newLinkID() string {
	return "tb-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:18]
}
