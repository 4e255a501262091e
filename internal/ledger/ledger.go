// Package ledger appends accepted readings to a CSV file and reads them back.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ColumnOrder selects the order of the three value columns.
type ColumnOrder string

const (
	// CreditsBetWin writes Frame,Timestamp,Credits,Bet,Win.
	CreditsBetWin ColumnOrder = "credits,bet,win"
	// CreditsWinBet writes Frame,Timestamp,Credits,Win,Bet.
	CreditsWinBet ColumnOrder = "credits,win,bet"
)

// Valid reports whether the order is supported.
func (o ColumnOrder) Valid() bool {
	return o == CreditsBetWin || o == CreditsWinBet
}

// Header returns the CSV header for the order.
func (o ColumnOrder) Header() []string {
	if o == CreditsWinBet {
		return []string{"Frame", "Timestamp", "Credits", "Win", "Bet"}
	}
	return []string{"Frame", "Timestamp", "Credits", "Bet", "Win"}
}

// Row is one accepted reading.
type Row struct {
	Frame     int    `json:"frame"`
	Timestamp string `json:"timestamp"`
	Credits   string `json:"credits"`
	Bet       string `json:"bet"`
	Win       string `json:"win"`
}

func (r Row) record(o ColumnOrder) []string {
	frame := strconv.Itoa(r.Frame)
	if o == CreditsWinBet {
		return []string{frame, r.Timestamp, r.Credits, r.Win, r.Bet}
	}
	return []string{frame, r.Timestamp, r.Credits, r.Bet, r.Win}
}

// PersistenceError reports a failed append.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to append to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Writer appends rows to one CSV file. The header is written once, when the
// file does not exist yet, and every row is flushed to disk before Append
// returns.
type Writer struct {
	path  string
	order ColumnOrder

	mu   sync.Mutex
	rows int
}

// NewWriter returns a writer for path. An empty order selects CreditsBetWin.
func NewWriter(path string, order ColumnOrder) (*Writer, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}
	if order == "" {
		order = CreditsBetWin
	}
	if !order.Valid() {
		return nil, fmt.Errorf("invalid column order %q (must be %q or %q)", order, CreditsBetWin, CreditsWinBet)
	}
	return &Writer{path: path, order: order}, nil
}

// SessionPath builds dir/prefix_YYYYMMDD_HHMMSS.csv for a session started at t.
func SessionPath(dir, prefix string, t time.Time) string {
	if prefix == "" {
		prefix = "extracted_data"
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.csv", prefix, t.Format("20060102_150405")))
}

// Path returns the file being written.
func (w *Writer) Path() string { return w.path }

// Order returns the column order.
func (w *Writer) Order() ColumnOrder { return w.order }

// Rows returns the number of rows appended by this writer.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Append writes one row. Failures are returned as *PersistenceError and are
// not retried.
func (w *Writer) Append(row Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return &PersistenceError{Path: w.path, Err: err}
		}
	}

	writeHeader := false
	if _, err := os.Stat(w.path); errors.Is(err, os.ErrNotExist) {
		writeHeader = true
	} else if err != nil {
		return &PersistenceError{Path: w.path, Err: err}
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: ledger path is configured
	if err != nil {
		return &PersistenceError{Path: w.path, Err: err}
	}

	cw := csv.NewWriter(f)
	if writeHeader {
		_ = cw.Write(w.order.Header())
	}
	_ = cw.Write(row.record(w.order))
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = f.Close()
		return &PersistenceError{Path: w.path, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return &PersistenceError{Path: w.path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &PersistenceError{Path: w.path, Err: err}
	}
	w.rows++
	return nil
}

// FormatTimestamp renders seconds as H:MM:SS, with a six digit fraction when
// the value is not a whole second.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	micros := int64(math.Round(seconds * 1e6))
	whole := micros / 1_000_000
	frac := micros % 1_000_000

	h := whole / 3600
	m := (whole % 3600) / 60
	s := whole % 60
	if frac == 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d:%02d.%06d", h, m, s, frac)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return float64(h*3600+m*60) + sec, nil
}
