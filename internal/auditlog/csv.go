package auditlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// CSVLog appends one row per record to a CSV file:
// timestamp, query, count, action, method.
type CSVLog struct {
	path string
	mu   sync.Mutex
}

// NewCSVLog returns a CSV sink writing to path. The file and its directory are
// created on first append.
func NewCSVLog(path string) (*CSVLog, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return nil, fmt.Errorf("csv log path must not be empty")
	}
	return &CSVLog{path: filepath.Clean(clean)}, nil
}

// Path returns the file the sink writes to.
func (l *CSVLog) Path() string { return l.path }

// Append writes rec and syncs the file before returning.
func (l *CSVLog) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append csv log: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 - path from config
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	row := []string{
		rec.Timestamp.Local().Format(TimeLayout),
		rec.Query,
		strconv.Itoa(rec.Count),
		rec.Action,
		rec.Method,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv row: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", l.path, err)
	}
	return nil
}

var _ Sink = (*CSVLog)(nil)
