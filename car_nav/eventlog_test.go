package car_nav

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVEventLogWritesHeaderAndRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	l, err := NewCSVEventLog(dir, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "log_20240309_140507.csv"), l.Path())

	// header is on disk before any record
	rows := readCSV(t, l.Path())
	require.Len(t, rows, 1)
	assert.Equal(t, CSVHeader, rows[0])

	require.NoError(t, l.Record(LogRecord{
		Time:       time.Unix(1700000000, 250000000),
		Target:     Target{X: 1, Z: -0.5},
		Current:    Pose{X: 0.25, Z: 0.125, Yaw: -30},
		Distance:   0.9,
		AngleError: 12.5,
		Label:      "FORWARD",
		Duration:   100 * time.Millisecond,
	}))
	require.NoError(t, l.Record(LogRecord{
		Time:    time.Unix(1700000001, 0),
		Target:  Target{X: 1, Z: -0.5},
		Current: Pose{X: 0.99, Z: -0.5},
		Label:   "ARRIVED",
	}))

	rows = readCSV(t, l.Path())
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"1700000000.250000", "1", "-0.5", "0.25", "0.125", "-30", "0.9", "12.5", "FORWARD", "0.1"}, rows[1])
	assert.Equal(t, "ARRIVED", rows[2][8])
	assert.Equal(t, "0", rows[2][9])

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Record(LogRecord{}), os.ErrClosed)
}

func TestCSVEventLogUniqueNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	first, err := NewCSVEventLog(dir, now)
	require.NoError(t, err)
	defer first.Close()
	second, err := NewCSVEventLog(dir, now)
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, first.Path(), second.Path())
	assert.Equal(t, filepath.Join(dir, "log_20240309_140507_1.csv"), second.Path())
}

func TestSQLiteEventLogRecordsByRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.db")
	l, err := NewSQLiteEventLog(path)
	require.NoError(t, err)
	defer l.Close()
	require.NotEmpty(t, l.RunID())

	require.NoError(t, l.Record(LogRecord{
		Time:       time.Unix(10, 0),
		Target:     Target{X: 1, Z: 0},
		Current:    Pose{Yaw: 170},
		Distance:   1,
		AngleError: -170,
		Label:      "LEFT",
		Duration:   50 * time.Millisecond,
	}))
	require.NoError(t, l.Record(LogRecord{Time: time.Unix(11, 0), Label: "LOST"}))

	var (
		count int
		label string
		dur   float64
	)
	require.NoError(t, l.DB().QueryRow(`SELECT COUNT(*) FROM nav_events WHERE run_id = ?`, l.RunID()).Scan(&count))
	assert.Equal(t, 2, count)
	require.NoError(t, l.DB().QueryRow(
		`SELECT command, duration_seconds FROM nav_events WHERE run_id = ? ORDER BY ts_unix_nanos LIMIT 1`, l.RunID(),
	).Scan(&label, &dur))
	assert.Equal(t, "LEFT", label)
	assert.InDelta(t, 0.05, dur, 1e-12)
}

type failingLog struct {
	recordErr error
	closeErr  error
	records   int
	closed    int
}

func (f *failingLog) Record(LogRecord) error {
	f.records++
	return f.recordErr
}

func (f *failingLog) Close() error {
	f.closed++
	return f.closeErr
}

func TestMultiEventLogAttemptsAll(t *testing.T) {
	t.Parallel()

	a := &failingLog{recordErr: errors.New("disk full"), closeErr: errors.New("close a")}
	b := &failingLog{}
	m := MultiEventLog{a, b}

	err := m.Record(LogRecord{})
	require.Error(t, err)
	assert.Equal(t, 1, b.records)

	err = m.Close()
	require.Error(t, err)
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
}

func TestOpenEventLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := openEventLog(EventLogConfig{Dir: dir}, time.Now())
	require.NoError(t, err)
	_, isCSV := l.(*CSVEventLog)
	assert.True(t, isCSV)
	require.NoError(t, l.Close())

	l, err = openEventLog(EventLogConfig{Dir: dir, SQLitePath: filepath.Join(dir, "events.db")}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	multi, ok := l.(MultiEventLog)
	require.True(t, ok)
	assert.Len(t, multi, 2)
	require.NoError(t, l.Record(LogRecord{Time: time.Now(), Label: "STOP"}))
	require.NoError(t, l.Close())
}
