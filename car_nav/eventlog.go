package car_nav

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// EventLog records one row per control cycle.
type EventLog interface {
	Record(LogRecord) error
	Close() error
}

// CSVHeader lists the event log columns in order.
var CSVHeader = []string{
	"timestamp",
	"target_x",
	"target_z",
	"current_x",
	"current_z",
	"current_yaw",
	"distance_error",
	"angle_error",
	"command",
	"duration",
}

// CSVEventLog appends records to a per-run CSV file, flushing every row.
type CSVEventLog struct {
	path   string
	file   *os.File
	writer *csv.Writer
}

// NewCSVEventLog creates log_YYYYMMDD_HHMMSS.csv in dir and writes the header.
// A numeric suffix is appended if a file for the same second already exists.
func NewCSVEventLog(dir string, now time.Time) (*CSVEventLog, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("event log dir: %w", err)
	}
	base := "log_" + now.Format("20060102_150405")

	var (
		f    *os.File
		path string
		err  error
	)
	for i := 0; i < 100; i++ {
		name := base + ".csv"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.csv", base, i)
		}
		path = filepath.Join(dir, name)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil || !errors.Is(err, os.ErrExist) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}

	l := &CSVEventLog{path: path, file: f, writer: csv.NewWriter(f)}
	if err := l.writeRow(CSVHeader); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the log file location.
func (l *CSVEventLog) Path() string {
	return l.path
}

// Record appends one row and flushes it to the file.
func (l *CSVEventLog) Record(r LogRecord) error {
	if l.file == nil {
		return os.ErrClosed
	}
	return l.writeRow([]string{
		strconv.FormatFloat(float64(r.Time.UnixNano())/1e9, 'f', 6, 64),
		formatFloat(r.Target.X),
		formatFloat(r.Target.Z),
		formatFloat(r.Current.X),
		formatFloat(r.Current.Z),
		formatFloat(r.Current.Yaw),
		formatFloat(r.Distance),
		formatFloat(r.AngleError),
		r.Label,
		formatFloat(r.Duration.Seconds()),
	})
}

func (l *CSVEventLog) writeRow(row []string) error {
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("write event log: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("flush event log: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Safe to call repeatedly.
func (l *CSVEventLog) Close() error {
	if l.file == nil {
		return nil
	}
	l.writer.Flush()
	flushErr := l.writer.Error()
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(flushErr, closeErr)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

const createEventsTable = `
CREATE TABLE IF NOT EXISTS nav_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	ts_unix_nanos INTEGER NOT NULL,
	target_x REAL NOT NULL,
	target_z REAL NOT NULL,
	current_x REAL NOT NULL,
	current_z REAL NOT NULL,
	current_yaw REAL NOT NULL,
	distance_error REAL NOT NULL,
	angle_error REAL NOT NULL,
	command TEXT NOT NULL,
	duration_seconds REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nav_events_run ON nav_events (run_id, ts_unix_nanos);
`

// SQLiteEventLog mirrors records into a sqlite table tagged with a run id.
type SQLiteEventLog struct {
	db    *sql.DB
	runID string
}

// NewSQLiteEventLog opens (or creates) the database at path.
func NewSQLiteEventLog(path string) (*SQLiteEventLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createEventsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create event table: %w", err)
	}
	return &SQLiteEventLog{db: db, runID: uuid.NewString()}, nil
}

// RunID identifies this process's rows.
func (l *SQLiteEventLog) RunID() string {
	return l.runID
}

// DB exposes the handle for inspection tools and tests.
func (l *SQLiteEventLog) DB() *sql.DB {
	return l.db
}

// Record inserts one row.
func (l *SQLiteEventLog) Record(r LogRecord) error {
	_, err := l.db.Exec(
		`INSERT INTO nav_events (run_id, ts_unix_nanos, target_x, target_z, current_x, current_z,
			current_yaw, distance_error, angle_error, command, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.runID, r.Time.UnixNano(), r.Target.X, r.Target.Z, r.Current.X, r.Current.Z,
		r.Current.Yaw, r.Distance, r.AngleError, r.Label, r.Duration.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *SQLiteEventLog) Close() error {
	return l.db.Close()
}

// MultiEventLog fans records out to several logs.
type MultiEventLog []EventLog

// Record writes to every log and joins the failures.
func (m MultiEventLog) Record(r LogRecord) error {
	var errs []error
	for _, l := range m {
		if err := l.Record(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every log, attempting all of them.
func (m MultiEventLog) Close() error {
	var errs []error
	for _, l := range m {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openEventLog builds the configured sinks.
func openEventLog(cfg EventLogConfig, now time.Time) (EventLog, error) {
	csvLog, err := NewCSVEventLog(cfg.Dir, now)
	if err != nil {
		return nil, err
	}
	if cfg.SQLitePath == "" {
		return csvLog, nil
	}
	sqlLog, err := NewSQLiteEventLog(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Join(err, csvLog.Close())
	}
	return MultiEventLog{csvLog, sqlLog}, nil
}
