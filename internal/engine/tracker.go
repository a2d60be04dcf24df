package engine

import (
	"sync"
	"time"
	"trendbot/internal/logger"
	"trendbot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TradeRecord — одна завершённая сделка.
type TradeRecord struct {
	Symbol     string
	Side       models.OrderSide
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Size       decimal.Decimal
	PnL        decimal.Decimal
	ClosedBy   string
	EntryTime  time.Time
	ExitTime   time.Time
}

// PerformanceTracker копит статистику закрытых сделок и, если настроен
// журнал, дублирует каждую сделку в CSV-файл.
type PerformanceTracker struct {
	log    *logger.Logger
	ledger *Ledger

	mu       sync.Mutex
	trades   []TradeRecord
	totalPnL decimal.Decimal
	wins     int
	losses   int
}

func NewPerformanceTracker(log *logger.Logger, ledger *Ledger) *PerformanceTracker {
	return &PerformanceTracker{log: log, ledger: ledger}
}

func (t *PerformanceTracker) Record(rec TradeRecord) {
	t.mu.Lock()
	t.trades = append(t.trades, rec)
	t.totalPnL = t.totalPnL.Add(rec.PnL)
	if rec.PnL.Sign() >= 0 {
		t.wins++
	} else {
		t.losses++
	}
	wins, losses, total := t.wins, t.losses, t.totalPnL
	t.mu.Unlock()

	t.log.WithComponent("tracker").WithFields(logrus.Fields{
		"symbol":    rec.Symbol,
		"side":      rec.Side,
		"pnl":       rec.PnL.String(),
		"closed_by": rec.ClosedBy,
		"wins":      wins,
		"losses":    losses,
		"total_pnl": total.String(),
	}).Info("Сделка учтена.")

	if t.ledger != nil {
		if err := t.ledger.Append(rec); err != nil {
			t.log.WithComponent("tracker").WithError(err).Warn("Не удалось записать сделку в журнал.")
		}
	}
}

func (t *PerformanceTracker) Stats() (wins, losses int, totalPnL decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wins, t.losses, t.totalPnL
}

// Trades отдаёт копию списка сделок.
func (t *PerformanceTracker) Trades() []TradeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TradeRecord, len(t.trades))
	copy(out, t.trades)
	return out
}
