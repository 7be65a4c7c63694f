package expense

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"
)

// Recorder persists parsed expense entries.
type Recorder interface {
	Record(entry Entry) error
}

// CSVLedger appends entries to a local CSV file, one row per entry:
// timestamp, value, description, account, original phrase.
type CSVLedger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewCSVLedger creates a ledger backed by the given file. The file is
// created on first write.
func NewCSVLedger(path string) *CSVLedger {
	return &CSVLedger{
		path: path,
		now:  time.Now,
	}
}

// Record appends an entry to the ledger file.
func (l *CSVLedger) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	timestamp := l.now().UTC().Format("2006-01-02 15:04:05") + " UTC"

	w := csv.NewWriter(f)
	row := []string{
		timestamp,
		fmt.Sprintf("%.2f", entry.Value),
		entry.Description,
		entry.Account,
		entry.Original,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("failed to write ledger row: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush ledger: %w", err)
	}

	return nil
}
