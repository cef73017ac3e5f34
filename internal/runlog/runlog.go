// Package runlog keeps an append-only CSV record of recompute runs.
package runlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Entry is one row of the run log.
type Entry struct {
	Timestamp time.Time
	UserID    int64
	Operation string
	Details   string
	RunID     string
	Duration  time.Duration
}

// Header is the CSV header for run-log.csv.
const Header = "timestamp,user_id,operation,details,run_id,duration_ms"

const (
	numFields   = 6
	logDir      = "logs"
	logFile     = "run-log.csv"
	colTime     = 0
	colUser     = 1
	colOp       = 2
	colDetails  = 3
	colRunID    = 4
	colDuration = 5
)

// Log is the run log of one project directory. It is safe for concurrent
// use within a process.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open returns the log at <root>/logs/run-log.csv. The file is created by
// the first Append.
func Open(root string) *Log {
	return &Log{path: filepath.Join(root, logDir, logFile)}
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Append writes entries, creating the file and header if needed.
func (l *Log) Append(entries ...Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	needsHeader := false
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(marshal(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns every entry in file order, or nil when the log does not
// exist yet.
func (l *Log) Read() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()
	return read(f)
}

// ForUser returns the entries of one user, newest first.
func (l *Log) ForUser(userID int64) ([]Entry, error) {
	all, err := l.Read()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].UserID == userID {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func marshal(e Entry) []string {
	row := make([]string, numFields)
	row[colTime] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colUser] = strconv.FormatInt(e.UserID, 10)
	row[colOp] = e.Operation
	row[colDetails] = e.Details
	row[colRunID] = e.RunID
	row[colDuration] = strconv.FormatInt(e.Duration.Milliseconds(), 10)
	return row
}

func unmarshal(record []string) (Entry, error) {
	ts, err := time.Parse(time.RFC3339, record[colTime])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTime], err)
	}
	userID, err := strconv.ParseInt(record[colUser], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing user_id %q: %w", record[colUser], err)
	}
	ms, err := strconv.ParseInt(record[colDuration], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing duration_ms %q: %w", record[colDuration], err)
	}
	return Entry{
		Timestamp: ts,
		UserID:    userID,
		Operation: record[colOp],
		Details:   record[colDetails],
		RunID:     record[colRunID],
		Duration:  time.Duration(ms) * time.Millisecond,
	}, nil
}

func read(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading run log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := unmarshal(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
