package instruments

import (
	"context"
	"fmt"
	"sync"
	"trendbot/internal/exchange"
	"trendbot/internal/executor"
	"trendbot/internal/logger"

	"github.com/shopspring/decimal"
)

// Resolver один раз получает и кэширует биржевые ограничения инструмента
// (шаг цены, шаг объёма, минимальный объём); между обновлениями правила
// неизменяемы.
type Resolver struct {
	client exchange.Client
	exec   *executor.Executor
	log    *logger.Logger

	mu    sync.RWMutex
	rules map[string]exchange.InstrumentRules
}

func NewResolver(client exchange.Client, exec *executor.Executor, log *logger.Logger) *Resolver {
	return &Resolver{
		client: client,
		exec:   exec,
		log:    log,
		rules:  make(map[string]exchange.InstrumentRules),
	}
}

func (r *Resolver) Rules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	r.mu.RLock()
	rules, ok := r.rules[symbol]
	r.mu.RUnlock()
	if ok {
		return rules, nil
	}
	return r.Refresh(ctx, symbol)
}

func (r *Resolver) Refresh(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	rules, err := executor.Call(r.exec, ctx, "instruments-info", func(ctx context.Context) (exchange.InstrumentRules, error) {
		return r.client.GetInstrumentRules(ctx, symbol)
	})
	if err != nil {
		return exchange.InstrumentRules{}, fmt.Errorf("Не удалось получить ограничения инструмента %s: %w", symbol, err)
	}

	if rules.PriceStep.Sign() <= 0 || rules.QtyStep.Sign() <= 0 {
		return exchange.InstrumentRules{}, fmt.Errorf("Некорректные шаги инструмента %s: price_step=%s qty_step=%s",
			symbol, rules.PriceStep, rules.QtyStep)
	}

	r.mu.Lock()
	r.rules[symbol] = rules
	r.mu.Unlock()

	r.log.WithComponent("instruments").WithField("symbol", symbol).WithFields(map[string]interface{}{
		"price_step": rules.PriceStep.String(),
		"qty_step":   rules.QtyStep.String(),
		"min_qty":    rules.MinQty.String(),
	}).Info("Ограничения инструмента загружены.")

	return rules, nil
}

// QuantizeDown приводит значение к сетке шага вниз:
// результат кратен step и не превышает исходное значение.
func QuantizeDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// ValidateQty проверяет объём после квантования; нарушение — локальный
// Rejected, без похода на биржу.
func ValidateQty(rules exchange.InstrumentRules, qty decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return exchange.NewError(exchange.KindRejected, 0,
			fmt.Sprintf("Объём после квантования нулевой (шаг %s).", rules.QtyStep))
	}
	if qty.LessThan(rules.MinQty) {
		return exchange.NewError(exchange.KindRejected, 0,
			fmt.Sprintf("Объём %s меньше минимального %s.", qty, rules.MinQty))
	}
	if rules.MaxQty.Sign() > 0 && qty.GreaterThan(rules.MaxQty) {
		return exchange.NewError(exchange.KindRejected, 0,
			fmt.Sprintf("Объём %s больше максимального %s.", qty, rules.MaxQty))
	}
	return nil
}
