package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
	"trendbot/internal/config"
	"trendbot/internal/exchange"
	"trendbot/internal/executor"
	"trendbot/internal/instruments"
	"trendbot/internal/logger"
	"trendbot/internal/marketdata"
	"trendbot/internal/models"
	"trendbot/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Alerter — канал критических уведомлений (провал авторизации,
// исчерпанные реконнекты, повторные отказы ордеров).
type Alerter interface {
	Critical(msg string)
}

// Engine сверяет локальное состояние ордеров и позиций с биржей и ведёт
// их жизненный цикл: вход, стоп-машина, выход. Биржевое состояние всегда
// авторитетно; локально живут только флаги, которых биржа не отдаёт.
type Engine struct {
	cfg      *config.Config
	client   exchange.Client
	exec     *executor.Executor
	resolver *instruments.Resolver
	cache    *marketdata.Cache
	strategy strategy.Strategy
	tracker  *PerformanceTracker
	alerter  Alerter
	log      *logger.Logger

	rules exchange.InstrumentRules

	mu        sync.Mutex
	positions map[models.OrderSide]*models.Position
	// биржевое представление позиций: засевается REST-снапшотом и
	// дальше ведётся инкрементальными обновлениями приватного стрима
	streamPositions   map[models.OrderSide]models.Position
	streamPositionsAt time.Time
	openOrders        map[string]models.Order
	lastTicker        models.Ticker
	lastATR           decimal.Decimal

	// фоновые закрытия позиций, которые Shutdown обязан дождаться
	closeTasks sync.WaitGroup
	tasks      sync.WaitGroup
	cancel     context.CancelFunc
}

func New(cfg *config.Config, client exchange.Client, exec *executor.Executor, resolver *instruments.Resolver,
	cache *marketdata.Cache, strat strategy.Strategy, tracker *PerformanceTracker, alerter Alerter, log *logger.Logger) *Engine {
	return &Engine{
		cfg:             cfg,
		client:          client,
		exec:            exec,
		resolver:        resolver,
		cache:           cache,
		strategy:        strat,
		tracker:         tracker,
		alerter:         alerter,
		log:             log,
		positions:       make(map[models.OrderSide]*models.Position),
		streamPositions: make(map[models.OrderSide]models.Position),
		openOrders:      make(map[string]models.Order),
	}
}

// Start загружает ограничения инструмента, греет кэш свечей, запускает
// обработку стримов и периодические задачи. Возвращается сразу после
// запуска фона.
func (e *Engine) Start(ctx context.Context, publicEvents, privateEvents <-chan exchange.Event) error {
	ctx, e.cancel = context.WithCancel(ctx)

	rules, err := e.resolver.Rules(ctx, e.cfg.Bot.Symbol)
	if err != nil {
		return err
	}
	e.rules = rules

	intervals := append([]string{e.cfg.Bot.Interval}, e.cfg.Bot.HigherTimeframes...)
	for _, interval := range intervals {
		if err := e.cache.Repair(ctx, interval, e.cfg.Bot.CandleLimit); err != nil {
			return fmt.Errorf("Не удалось прогреть кэш свечей: %w", err)
		}
	}

	if ticker, err := executor.Call(e.exec, ctx, "ticker", func(ctx context.Context) (models.Ticker, error) {
		return e.client.GetTicker(ctx, e.cfg.Bot.Symbol)
	}); err != nil {
		e.logEntry().WithError(err).Warn("Не удалось получить стартовый тикер.")
	} else {
		e.mu.Lock()
		e.lastTicker = ticker
		e.mu.Unlock()
	}

	if err := e.Reconcile(ctx); err != nil {
		return fmt.Errorf("Не удалась стартовая сверка позиций: %w", err)
	}
	if err := e.syncOpenOrders(ctx); err != nil {
		e.logEntry().WithError(err).Warn("Не удалось получить открытые ордера на старте.")
	}

	e.spawn("events_public", func() { e.handleEvents(ctx, publicEvents) })
	e.spawn("events_private", func() { e.handleEvents(ctx, privateEvents) })

	loopDelay := time.Duration(e.cfg.Bot.LoopDelaySec) * time.Second
	e.spawnPeriodic(ctx, "reconcile", loopDelay, func() {
		if err := e.Reconcile(ctx); err != nil {
			e.logEntry().WithError(err).Warn("Сверка позиций не удалась.")
		}
	})
	e.spawnPeriodic(ctx, "risk_rules", loopDelay, func() {
		e.runRiskPass(ctx)
	})
	e.spawnPeriodic(ctx, "strategy", loopDelay, func() {
		e.runStrategyPass(ctx)
	})
	e.spawnPeriodic(ctx, "stale_watch", loopDelay, func() {
		e.repairStaleSeries(ctx)
	})

	e.logEntry().Info("Движок запущен.")
	return nil
}

// Shutdown останавливает периодические задачи, дожидается фоновых
// закрытий позиций и снимает оставшиеся отложенные ордера, чтобы они
// не исполнились без присмотра.
func (e *Engine) Shutdown() {
	if e.cancel != nil {
		e.cancel()
	}
	e.tasks.Wait()
	e.closeTasks.Wait()

	e.mu.Lock()
	pending := len(e.openOrders)
	e.mu.Unlock()
	if pending > 0 && !e.cfg.Runtime.DryRun {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := e.exec.Do(ctx, "order-cancel-all", func(ctx context.Context) error {
			return e.client.CancelAllOrders(ctx, e.cfg.Bot.Symbol)
		})
		cancel()
		if err != nil {
			e.logEntry().WithError(err).Warn("Не удалось снять отложенные ордера при остановке.")
		} else {
			e.logEntry().WithField("count", pending).Info("Отложенные ордера сняты.")
		}
	}

	wins, losses, total := e.tracker.Stats()
	e.logEntry().WithFields(logrus.Fields{
		"wins":      wins,
		"losses":    losses,
		"total_pnl": total.String(),
	}).Info("Движок остановлен.")
}

// spawn запускает фоновую задачу с изоляцией паник: падение одной
// задачи не валит остальные.
func (e *Engine) spawn(name string, fn func()) {
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logEntry().WithField("task", name).
					Error(fmt.Sprintf("Паника в фоновой задаче: %v", r))
			}
		}()
		fn()
	}()
}

func (e *Engine) spawnPeriodic(ctx context.Context, name string, interval time.Duration, fn func()) {
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							e.logEntry().WithField("task", name).
								Error(fmt.Sprintf("Паника в периодической задаче: %v", r))
						}
					}()
					fn()
				}()
			}
		}
	}()
}

func (e *Engine) runRiskPass(ctx context.Context) {
	e.mu.Lock()
	price := e.lastTicker.MarkPrice
	if price.IsZero() {
		price = e.lastTicker.LastPrice
	}
	atr := e.lastATR
	e.mu.Unlock()

	if price.IsZero() {
		return
	}
	e.ApplyRiskRules(ctx, price, atr)
}

func (e *Engine) runStrategyPass(ctx context.Context) {
	candles := e.cache.Snapshot(e.cfg.Bot.Interval, e.cfg.Bot.CandleLimit)
	sig, err := e.strategy.Evaluate(e.cfg.Bot.Symbol, candles)
	if err != nil {
		e.logEntry().WithError(err).Warn("Стратегия не дала сигнал.")
		return
	}

	e.mu.Lock()
	e.lastATR = sig.ATR
	e.mu.Unlock()

	e.OnSignal(ctx, sig)
}

// repairStaleSeries чинит отставшие серии точечным снапшотом,
// не блокируя остальные задачи.
func (e *Engine) repairStaleSeries(ctx context.Context) {
	intervals := append([]string{e.cfg.Bot.Interval}, e.cfg.Bot.HigherTimeframes...)
	for _, interval := range intervals {
		if !e.cache.IsStale(interval) {
			continue
		}
		e.logEntry().WithField("interval", interval).Warn("Серия устарела, запрашиваем снапшот.")
		if err := e.cache.Repair(ctx, interval, e.cfg.Bot.CandleLimit); err != nil {
			e.logEntry().WithError(err).WithField("interval", interval).Warn("Не удалось починить серию.")
		}
	}
}

func (e *Engine) logEntry() *logrus.Entry {
	entry := e.log.WithComponent("engine")
	if e.cfg != nil && e.cfg.Bot.Symbol != "" {
		entry = entry.WithField("symbol", e.cfg.Bot.Symbol)
	}
	return entry
}
