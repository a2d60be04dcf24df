package engine

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"
)

// Ledger пишет закрытые сделки в CSV-файл, по строке на сделку.
// Файл открывается на дозапись, заголовок пишется только в новый файл.
type Ledger struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

var ledgerHeader = []string{
	"entry_time", "exit_time", "symbol", "side",
	"entry_price", "exit_price", "size", "pnl", "closed_by",
}

func OpenLedger(path string) (*Ledger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("Не удалось открыть файл журнала сделок %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	l := &Ledger{file: file, writer: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := l.writer.Write(ledgerHeader); err != nil {
			file.Close()
			return nil, err
		}
		l.writer.Flush()
	}
	return l, nil
}

func (l *Ledger) Append(rec TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := []string{
		rec.EntryTime.UTC().Format(time.RFC3339),
		rec.ExitTime.UTC().Format(time.RFC3339),
		rec.Symbol,
		string(rec.Side),
		rec.EntryPrice.String(),
		rec.ExitPrice.String(),
		rec.Size.String(),
		rec.PnL.String(),
		rec.ClosedBy,
	}
	if err := l.writer.Write(row); err != nil {
		return err
	}
	l.writer.Flush()
	return l.writer.Error()
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	return l.file.Close()
}
