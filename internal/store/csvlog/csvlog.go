// Package csvlog appends confirmed opportunities to a local CSV file, one
// row per record. The file survives restarts; the header is written only
// when the file is created.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"spreadwatch/internal/domain"
)

var header = []string{
	"timestamp",
	"ticker",
	"lower_exchange",
	"lower_price",
	"lower_latency_ms",
	"higher_exchange",
	"higher_price",
	"higher_latency_ms",
	"spread_percent",
	"rechecked_percent",
	"window_ms",
}

// Appender writes opportunity rows to a CSV file. Safe for concurrent use.
type Appender struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// Open creates the parent directory if needed and opens the file for
// appending, writing the header if the file is new or empty.
func Open(path string) (*Appender, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("csvlog: create dir %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csvlog: open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("csvlog: stat %s: %w", path, err)
	}

	a := &Appender{path: path, file: file, w: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := a.w.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("csvlog: write header: %w", err)
		}
		a.w.Flush()
		if err := a.w.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("csvlog: flush header: %w", err)
		}
	}
	return a, nil
}

// Append writes one record and flushes it to disk.
func (a *Appender) Append(rec domain.OpportunityRecord) error {
	row := []string{
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Ticker,
		rec.LowerExchange,
		strconv.FormatFloat(rec.LowerPrice, 'f', -1, 64),
		strconv.FormatInt(rec.LowerLatency.Milliseconds(), 10),
		rec.HigherExchange,
		strconv.FormatFloat(rec.HigherPrice, 'f', -1, 64),
		strconv.FormatInt(rec.HigherLatency.Milliseconds(), 10),
		strconv.FormatFloat(rec.SpreadPercent, 'f', 4, 64),
		strconv.FormatFloat(rec.RecheckedPercent, 'f', 4, 64),
		strconv.FormatInt(rec.WindowDuration.Milliseconds(), 10),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.w.Write(row); err != nil {
		return fmt.Errorf("csvlog: write row: %w", err)
	}
	a.w.Flush()
	if err := a.w.Error(); err != nil {
		return fmt.Errorf("csvlog: flush: %w", err)
	}
	return nil
}

// Close flushes pending rows and closes the file.
func (a *Appender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.w.Flush()
	if err := a.w.Error(); err != nil {
		a.file.Close()
		return fmt.Errorf("csvlog: flush on close: %w", err)
	}
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("csvlog: close %s: %w", a.path, err)
	}
	return nil
}
