package engine

import (
	"context"
	"trendbot/internal/config"
	"trendbot/internal/exchange"
	"trendbot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// stopProposal — итог одного прохода стоп-машины по позиции.
type stopProposal struct {
	stop      decimal.Decimal
	rule      string
	breakeven bool // безубыток сработал в этом проходе
	trailing  bool // трейлинг взведён в этом проходе
}

// ApplyRiskRules прогоняет стоп-машину по каждой позиции: безубыток,
// фиксация прибыли, трейлинг. Кандидаты сливаются в самый защитный,
// стоп двигается только в сторону прибыли и обновляется одним вызовом.
func (e *Engine) ApplyRiskRules(ctx context.Context, price, atr decimal.Decimal) {
	if price.Sign() <= 0 || atr.Sign() <= 0 {
		return
	}

	e.mu.Lock()
	snapshot := make([]models.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		snapshot = append(snapshot, *pos)
	}
	e.mu.Unlock()

	for _, pos := range snapshot {
		proposal, changed := proposeStop(pos, price, atr, e.cfg.Risk)

		e.mu.Lock()
		if live, ok := e.positions[pos.Side]; ok {
			if proposal.breakeven {
				live.BreakevenActivated = true
			}
			if proposal.trailing {
				live.TrailingActivated = true
			}
		}
		e.mu.Unlock()

		if !changed {
			continue
		}
		e.updateStop(ctx, pos, proposal)
	}
}

// proposeStop — чистая функция: по позиции, цене и ATR возвращает
// предложенный стоп и признак, что он отличается от текущего.
func proposeStop(pos models.Position, price, atr decimal.Decimal, cfg config.RiskConfig) (stopProposal, bool) {
	long := pos.Side == models.OrderSideBuy
	proposal := stopProposal{stop: pos.StopLoss}

	// Безубыток: цена прошла триггер, стоп подтягивается к цене входа.
	if cfg.BreakevenATRTrigger > 0 {
		trigger := offsetPrice(long, pos.EntryPrice, atr, cfg.BreakevenATRTrigger)
		if crossed(long, price, trigger) {
			proposal.breakeven = true
			if !pos.BreakevenActivated && tightens(long, pos.EntryPrice, proposal.stop) {
				proposal.stop = pos.EntryPrice
				proposal.rule = "breakeven"
			}
		}
	}

	// Фиксация прибыли: стоп на отступе от цены, но только если он уже
	// за ценой входа, иначе это не фиксация.
	if cfg.ProfitLockATRMultiple > 0 {
		candidate := offsetPrice(!long, price, atr, cfg.ProfitLockATRMultiple)
		if tightens(long, candidate, pos.EntryPrice) && tightens(long, candidate, proposal.stop) {
			proposal.stop = candidate
			proposal.rule = "profit_lock"
		}
	}

	// Трейлинг: взводится на том же триггере, что и безубыток, дальше
	// следует за ценой. Кандидат не опускается ниже исходного стопа.
	if cfg.TrailingEnabled && cfg.TrailingATRMultiple > 0 {
		armed := pos.TrailingActivated
		if !armed && cfg.BreakevenATRTrigger > 0 {
			trigger := offsetPrice(long, pos.EntryPrice, atr, cfg.BreakevenATRTrigger)
			armed = crossed(long, price, trigger)
		}
		if armed {
			proposal.trailing = true
			candidate := offsetPrice(!long, price, atr, cfg.TrailingATRMultiple)
			if !pos.InitialStopLoss.IsZero() && tightens(long, pos.InitialStopLoss, candidate) {
				candidate = pos.InitialStopLoss
			}
			if tightens(long, candidate, proposal.stop) {
				proposal.stop = candidate
				proposal.rule = "trailing"
			}
		}
	}

	changed := proposal.rule != "" && !proposal.stop.Equal(pos.StopLoss)
	return proposal, changed
}

// offsetPrice: base + atr*multiple для up, иначе base - atr*multiple.
func offsetPrice(up bool, base, atr decimal.Decimal, multiple float64) decimal.Decimal {
	delta := atr.Mul(decimal.NewFromFloat(multiple))
	if up {
		return base.Add(delta)
	}
	return base.Sub(delta)
}

// crossed: цена прошла триггер в прибыльную сторону.
func crossed(long bool, price, trigger decimal.Decimal) bool {
	if long {
		return price.GreaterThanOrEqual(trigger)
	}
	return price.LessThanOrEqual(trigger)
}

// tightens: кандидат защитнее текущего стопа. Нулевой текущий стоп
// считается отсутствующим, любой кандидат его защитнее.
func tightens(long bool, candidate, current decimal.Decimal) bool {
	if candidate.Sign() <= 0 {
		return false
	}
	if current.Sign() <= 0 {
		return true
	}
	if long {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}

// updateStop отправляет новый стоп на биржу и, при успехе, обновляет
// локальную копию. Стоп квантуется к шагу цены в защитную сторону.
func (e *Engine) updateStop(ctx context.Context, pos models.Position, proposal stopProposal) {
	stop := quantizeStop(pos.Side, proposal.stop, e.rules.PriceStep)

	entry := e.logEntry().WithFields(logrus.Fields{
		"side":     pos.Side,
		"rule":     proposal.rule,
		"old_stop": pos.StopLoss.String(),
		"new_stop": stop.String(),
	})

	if stop.Equal(pos.StopLoss) {
		return
	}

	if e.cfg.Runtime.DryRun {
		entry.Info("Стоп передвинут (холостой режим, без отправки).")
		e.applyLocalStop(pos.Side, stop, proposal)
		return
	}

	err := e.exec.Do(ctx, "trading-stop", func(ctx context.Context) error {
		return e.client.SetTradingStop(ctx, exchange.TradingStop{
			Symbol:      pos.Symbol,
			PositionIdx: pos.PositionIdx,
			StopLoss:    stop,
		})
	})
	if err != nil {
		entry.WithError(err).Warn("Не удалось передвинуть стоп.")
		if exchange.IsExhausted(err) {
			e.alerter.Critical("Не удалось передвинуть стоп после всех повторов: " + err.Error())
		}
		return
	}

	entry.Info("Стоп передвинут.")
	e.applyLocalStop(pos.Side, stop, proposal)
}

func (e *Engine) applyLocalStop(side models.OrderSide, stop decimal.Decimal, proposal stopProposal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if live, ok := e.positions[side]; ok {
		live.StopLoss = stop
		if proposal.rule == "trailing" {
			live.TrailingStopPrice = stop
		}
	}
}

// quantizeStop приводит стоп к шагу цены: для лонга вниз, для шорта
// вверх, чтобы квантование не ослабило защиту больше чем на шаг.
func quantizeStop(side models.OrderSide, stop, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return stop
	}
	quantized := stop.Div(step).Floor().Mul(step)
	if side == models.OrderSideSell && !quantized.Equal(stop) {
		quantized = quantized.Add(step)
	}
	return quantized
}
