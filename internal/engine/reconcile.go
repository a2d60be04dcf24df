package engine

import (
	"context"
	"time"
	"trendbot/internal/executor"
	"trendbot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Причины закрытия, восстанавливаемые по цене выхода. Это телеметрия
// для журнала и статистики, торговые решения на неё не опираются.
const (
	closedByStopLoss   = "STOP_LOSS"
	closedByTakeProfit = "TAKE_PROFIT"
	closedBySignal     = "SIGNAL"
	closedByUnknown    = "UNKNOWN"
)

// Reconcile сводит локальную карту позиций к биржевой. Биржа авторитетна:
// незнакомые позиции принимаются под управление, локально известные
// обновляются, исчезнувшие считаются закрытыми извне. Локальные флаги
// (активация безубытка, исходный стоп, время входа) сверку переживают.
func (e *Engine) Reconcile(ctx context.Context) error {
	remote, err := e.fetchPositions(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[models.OrderSide]bool, len(remote))
	for _, pos := range remote {
		if pos.Symbol != e.cfg.Bot.Symbol || pos.Size.Sign() == 0 {
			continue
		}
		seen[pos.Side] = true

		local, ok := e.positions[pos.Side]
		if !ok {
			adopted := pos
			if adopted.InitialStopLoss.IsZero() {
				adopted.InitialStopLoss = pos.StopLoss
			}
			if adopted.EntryTime.IsZero() {
				adopted.EntryTime = time.Now()
			}
			adopted.UpdatedAt = time.Now()
			e.positions[pos.Side] = &adopted
			e.logEntry().WithFields(logrus.Fields{
				"side":  pos.Side,
				"size":  pos.Size.String(),
				"entry": pos.EntryPrice.String(),
			}).Warn("Обнаружена неотслеживаемая позиция, берём под управление.")
			continue
		}

		local.Size = pos.Size
		local.EntryPrice = pos.EntryPrice
		if !pos.MarkPrice.IsZero() {
			local.MarkPrice = pos.MarkPrice
		}
		local.StopLoss = pos.StopLoss
		local.TakeProfit = pos.TakeProfit
		local.PositionIdx = pos.PositionIdx
		local.UpdatedAt = time.Now()
	}

	for side, local := range e.positions {
		if seen[side] {
			continue
		}
		if e.cfg.Runtime.DryRun {
			// Симулированные позиции биржа не знает; в холостом
			// режиме их закрывает только встречный сигнал.
			continue
		}
		e.settleClosedLocked(*local)
		delete(e.positions, side)
	}

	return nil
}

// fetchPositions отдаёт биржевое представление позиций: ведомую стримом
// карту, если она моложе одного цикла, иначе REST-снапшот, которым карта
// засевается заново.
func (e *Engine) fetchPositions(ctx context.Context) ([]models.Position, error) {
	maxAge := time.Duration(e.cfg.Bot.LoopDelaySec) * time.Second

	e.mu.Lock()
	if !e.streamPositionsAt.IsZero() && time.Since(e.streamPositionsAt) < maxAge {
		snapshot := make([]models.Position, 0, len(e.streamPositions))
		for _, pos := range e.streamPositions {
			snapshot = append(snapshot, pos)
		}
		e.mu.Unlock()
		return snapshot, nil
	}
	e.mu.Unlock()

	remote, err := executor.Call(e.exec, ctx, "position-list", func(ctx context.Context) ([]models.Position, error) {
		return e.client.GetPositions(ctx, e.cfg.Bot.Symbol)
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.streamPositions = make(map[models.OrderSide]models.Position, len(remote))
	for _, pos := range remote {
		if pos.Symbol == e.cfg.Bot.Symbol && pos.Size.Sign() > 0 {
			e.streamPositions[pos.Side] = pos
		}
	}
	e.streamPositionsAt = time.Now()
	e.mu.Unlock()

	return remote, nil
}

// settleClosedLocked фиксирует внешнее закрытие: считает PnL по последней
// известной цене, восстанавливает причину и пишет сделку в журнал.
// Вызывается под e.mu.
func (e *Engine) settleClosedLocked(pos models.Position) {
	exitPrice := e.lastTicker.MarkPrice
	if exitPrice.IsZero() {
		exitPrice = e.lastTicker.LastPrice
	}
	if exitPrice.IsZero() {
		exitPrice = pos.MarkPrice
	}

	reason := inferCloseReason(pos, exitPrice)
	pnl := realizedPnL(pos.Side, pos.EntryPrice, exitPrice, pos.Size)

	e.logEntry().WithFields(logrus.Fields{
		"side":      pos.Side,
		"entry":     pos.EntryPrice.String(),
		"exit":      exitPrice.String(),
		"pnl":       pnl.String(),
		"closed_by": reason,
	}).Info("Позиция закрыта на бирже.")

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
}

// inferCloseReason сравнивает цену выхода со стопом и тейком позиции.
// Точного ответа биржа не отдаёт, поэтому берём ближайший уровень.
func inferCloseReason(pos models.Position, exitPrice decimal.Decimal) string {
	if exitPrice.IsZero() {
		return closedByUnknown
	}

	nearSL := !pos.StopLoss.IsZero() && within(exitPrice, pos.StopLoss, pos.EntryPrice)
	nearTP := !pos.TakeProfit.IsZero() && within(exitPrice, pos.TakeProfit, pos.EntryPrice)

	switch {
	case nearSL && !nearTP:
		return closedByStopLoss
	case nearTP && !nearSL:
		return closedByTakeProfit
	case nearSL && nearTP:
		slDist := exitPrice.Sub(pos.StopLoss).Abs()
		tpDist := exitPrice.Sub(pos.TakeProfit).Abs()
		if slDist.LessThanOrEqual(tpDist) {
			return closedByStopLoss
		}
		return closedByTakeProfit
	default:
		return closedByUnknown
	}
}

// within: exitPrice ближе к level, чем к entry.
func within(exitPrice, level, entry decimal.Decimal) bool {
	return exitPrice.Sub(level).Abs().LessThan(exitPrice.Sub(entry).Abs())
}

// realizedPnL: (выход - вход) * объём, для шорта со сменой знака.
func realizedPnL(side models.OrderSide, entry, exit, size decimal.Decimal) decimal.Decimal {
	pnl := exit.Sub(entry).Mul(size)
	if side == models.OrderSideSell {
		pnl = pnl.Neg()
	}
	return pnl
}
