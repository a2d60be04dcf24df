package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
	"trendbot/internal/exchange"
	"trendbot/internal/executor"
	"trendbot/internal/logger"
	"trendbot/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultMaxCandles = 1000

// Cache хранит свечные серии по таймфреймам одного символа.
// Серия создаётся лениво, обновляется инкрементально из стрима и
// чинится точечным REST-снапшотом, когда стрим молчит дольше бара.
type Cache struct {
	symbol      string
	maxCandles  int
	staleBuffer time.Duration
	client      exchange.Client
	exec        *executor.Executor
	log         *logger.Logger

	mu     sync.Mutex
	series map[string]*series
}

// series — одна (symbol, timeframe) серия под собственной блокировкой.
// Инварианты: отметки времени строго возрастают, дубликатов нет,
// подтверждённые свечи не мутируют.
type series struct {
	mu         sync.Mutex
	interval   string
	candles    []models.Candle
	lastUpdate time.Time
}

func NewCache(symbol string, maxCandles int, staleBuffer time.Duration, client exchange.Client, exec *executor.Executor, log *logger.Logger) *Cache {
	if maxCandles <= 0 {
		maxCandles = defaultMaxCandles
	}
	return &Cache{
		symbol:      symbol,
		maxCandles:  maxCandles,
		staleBuffer: staleBuffer,
		client:      client,
		exec:        exec,
		log:         log,
		series:      make(map[string]*series),
	}
}

func (c *Cache) getSeries(interval string) *series {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.series[interval]
	if !ok {
		s = &series{interval: interval}
		c.series[interval] = s
	}
	return s
}

// Upsert применяет свечу по правилам монотонности:
// равная отметка — замена на месте (неподтверждённый бар обновился),
// большая — добавление с обрезкой до maxCandles,
// меньшая — отбрасывание с предупреждением; историю не трогаем.
func (c *Cache) Upsert(interval string, candle models.Candle) {
	s := c.getSeries(interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.candles)
	if n == 0 {
		s.candles = append(s.candles, candle)
		s.lastUpdate = time.Now()
		return
	}

	// lastUpdate двигают только принятые свечи: стрим, застрявший на
	// повторах старых баров, должен выглядеть устаревшим.
	last := s.candles[n-1]
	switch {
	case candle.Timestamp.Equal(last.Timestamp):
		if last.Confirmed && !candle.Confirmed {
			// Подтверждённый бар неподтверждённым не перезаписываем.
			c.logEntry(interval).WithField("ts", candle.Timestamp).
				Warn("Попытка мутации подтверждённой свечи отброшена.")
			return
		}
		s.candles[n-1] = candle
		s.lastUpdate = time.Now()
	case candle.Timestamp.After(last.Timestamp):
		s.candles = append(s.candles, candle)
		if len(s.candles) > c.maxCandles {
			s.candles = s.candles[len(s.candles)-c.maxCandles:]
		}
		s.lastUpdate = time.Now()
	default:
		c.logEntry(interval).WithFields(logrus.Fields{
			"ts":      candle.Timestamp,
			"last_ts": last.Timestamp,
		}).Warn("Свеча пришла не по порядку, отброшена.")
	}
}

// Snapshot отдаёт копию хвоста серии; наружу изменяемые ссылки не выходят.
func (c *Cache) Snapshot(interval string, limit int) []models.Candle {
	s := c.getSeries(interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.candles)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.Candle, limit)
	copy(out, s.candles[n-limit:])
	return out
}

func (c *Cache) Len(interval string) int {
	s := c.getSeries(interval)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candles)
}

// IsStale: серия устарела, если с последнего обновления прошло больше
// одного интервала бара плюс буфер.
func (c *Cache) IsStale(interval string) bool {
	s := c.getSeries(interval)

	s.mu.Lock()
	last := s.lastUpdate
	s.mu.Unlock()

	if last.IsZero() {
		return true
	}
	return time.Since(last) > IntervalDuration(interval)+c.staleBuffer
}

// Repair — разовый REST-снапшот через исполнитель вызовов; свечи
// проходят через тот же Upsert, так что порядок сохраняется.
func (c *Cache) Repair(ctx context.Context, interval string, limit int) error {
	candles, err := executor.Call(c.exec, ctx, "kline-snapshot", func(ctx context.Context) ([]models.Candle, error) {
		return c.client.GetKlines(ctx, c.symbol, interval, limit)
	})
	if err != nil {
		return fmt.Errorf("Не удалось получить снапшот свечей %s/%s: %w", c.symbol, interval, err)
	}

	s := c.getSeries(interval)
	s.mu.Lock()
	if len(s.candles) == 0 {
		s.candles = append(s.candles, candles...)
		if len(s.candles) > c.maxCandles {
			s.candles = s.candles[len(s.candles)-c.maxCandles:]
		}
		s.lastUpdate = time.Now()
		s.mu.Unlock()
		c.logEntry(interval).WithField("count", len(candles)).Info("Серия инициализирована снапшотом.")
		return nil
	}
	s.mu.Unlock()

	for _, candle := range candles {
		c.Upsert(interval, candle)
	}
	c.logEntry(interval).WithField("count", len(candles)).Info("Серия починена снапшотом.")
	return nil
}

func (c *Cache) logEntry(interval string) *logrus.Entry {
	return c.log.WithComponent("marketdata").WithField("symbol", c.symbol).WithField("interval", interval)
}

// IntervalDuration переводит интервал Bybit ("1","5","60","D","W") в длительность.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "D":
		return 24 * time.Hour
	case "W":
		return 7 * 24 * time.Hour
	case "M":
		return 30 * 24 * time.Hour
	}
	minutes, err := strconv.Atoi(interval)
	if err != nil || minutes <= 0 {
		return time.Minute
	}
	return time.Duration(minutes) * time.Minute
}
