package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadFile loads every row of a ledger file.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path) //nolint:gosec // G304: ledger path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}

// Read parses ledger CSV. Column positions come from the header so files
// written with either column order are accepted.
func Read(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger header: %w", err)
	}

	idx := map[string]int{}
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range []string{"frame", "timestamp", "credits", "bet", "win"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("ledger header is missing column %q", col)
		}
	}

	var rows []Row
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger line %d: %w", line, err)
		}
		if len(rec) < len(header) {
			return nil, fmt.Errorf("ledger line %d has %d fields, want %d", line, len(rec), len(header))
		}
		frame, err := strconv.Atoi(rec[idx["frame"]])
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: invalid frame: %w", line, err)
		}
		rows = append(rows, Row{
			Frame:     frame,
			Timestamp: rec[idx["timestamp"]],
			Credits:   rec[idx["credits"]],
			Bet:       rec[idx["bet"]],
			Win:       rec[idx["win"]],
		})
	}
	return rows, nil
}
