package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/model"

	_ "modernc.org/sqlite"
)

// timeFormat is a fixed-width RFC3339 layout. SQLite compares TEXT
// columns bytewise, so the fractional seconds must never be trimmed:
// "10:00:00.5Z" would sort before "10:00:00Z" under memcmp even though
// it is chronologically later.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Flag selects one of the boolean columns for LatestWhere queries.
type Flag string

const (
	FlagWatered Flag = "watered"
	FlagFanned  Flag = "fanned"
)

// Store wraps the SQLite database connection and schema lifecycle. The
// readings table is append-only: there are no update or delete paths,
// and correcting bad data means appending a corrective reading.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables and indexes exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			temperature REAL NOT NULL,
			air_humidity REAL NOT NULL,
			ground_humidity REAL NOT NULL,
			watered INTEGER NOT NULL,
			fanned INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(time);`,
		`CREATE INDEX IF NOT EXISTS idx_readings_watered_time ON readings(watered, time);`,
		`CREATE INDEX IF NOT EXISTS idx_readings_fanned_time ON readings(fanned, time);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// Append persists a reading and returns its assigned identifier.
// Identifiers are strictly increasing in insertion order.
func (s *Store) Append(ctx context.Context, r model.Reading) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO readings (time, temperature, air_humidity, ground_humidity, watered, fanned)
		 VALUES (?, ?, ?, ?, ?, ?);`,
		r.Time.UTC().Format(timeFormat),
		r.Temperature,
		r.AirHumidity,
		r.GroundHumidity,
		boolToInt(r.Watered),
		boolToInt(r.Fanned),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading insert id: %w", err)
	}
	return id, nil
}

// Latest returns the most recent reading by time, or nil if the store is
// empty.
func (s *Store) Latest(ctx context.Context) (*model.Reading, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, time, temperature, air_humidity, ground_humidity, watered, fanned
		 FROM readings
		 ORDER BY time DESC, id DESC
		 LIMIT 1;`)

	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest reading: %w", err)
	}
	return reading, nil
}

// Range returns readings with from <= time < to, ascending by time.
func (s *Store) Range(ctx context.Context, from, to time.Time) ([]model.Reading, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, time, temperature, air_humidity, ground_humidity, watered, fanned
		 FROM readings
		 WHERE time >= ? AND time < ?
		 ORDER BY time ASC, id ASC;`,
		from.UTC().Format(timeFormat),
		to.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("query readings range: %w", err)
	}
	defer rows.Close()

	var readings []model.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings = append(readings, *reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}

	return readings, nil
}

// LatestWhere returns the most recent reading with the given flag set,
// or nil if the flag has never been true.
func (s *Store) LatestWhere(ctx context.Context, flag Flag) (*model.Reading, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	var query string
	switch flag {
	case FlagWatered:
		query = `SELECT id, time, temperature, air_humidity, ground_humidity, watered, fanned
			 FROM readings WHERE watered = 1 ORDER BY time DESC, id DESC LIMIT 1;`
	case FlagFanned:
		query = `SELECT id, time, temperature, air_humidity, ground_humidity, watered, fanned
			 FROM readings WHERE fanned = 1 ORDER BY time DESC, id DESC LIMIT 1;`
	default:
		return nil, fmt.Errorf("unknown flag %q", flag)
	}

	reading, err := scanReading(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest reading where %s: %w", flag, err)
	}
	return reading, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*model.Reading, error) {
	var (
		r       model.Reading
		timeStr string
		watered int
		fanned  int
	)

	if err := row.Scan(&r.ID, &timeStr, &r.Temperature, &r.AirHumidity, &r.GroundHumidity, &watered, &fanned); err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339Nano, timeStr)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, timeStr)
	}
	if err != nil {
		return nil, fmt.Errorf("parse reading time %q: %w", timeStr, err)
	}

	r.Time = ts
	r.Watered = watered != 0
	r.Fanned = fanned != 0
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
