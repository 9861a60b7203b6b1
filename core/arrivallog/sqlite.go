package arrivallog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS arrivals (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER NOT NULL,
        vehicle_id TEXT NOT NULL,
        dispatch_log_id TEXT NOT NULL,
        geofence TEXT NOT NULL,
        lat REAL,
        lng REAL,
        success INTEGER NOT NULL,
        error TEXT,
        latency_ms REAL
    );`
	index := `CREATE INDEX IF NOT EXISTS arrivals_vehicle_ts ON arrivals (vehicle_id, ts);`
	for _, stmt := range []string{schema, index} {
		if _, err := db.Exec(stmt); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
			}
			return nil, err
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the record to the database.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO arrivals (ts, vehicle_id, dispatch_log_id, geofence, lat, lng, success, error, latency_ms)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixNano(), rec.VehicleID, rec.DispatchLogID, rec.Geofence,
		rec.Lat, rec.Lng, rec.Success, rec.Error, rec.LatencyMS)
	return err
}

// Query returns records matching q ordered by time.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Record, error) {
	var args []any
	query := `SELECT ts, vehicle_id, dispatch_log_id, geofence, lat, lng, success, error, latency_ms FROM arrivals WHERE 1=1`
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.UnixNano())
	}
	if q.VehicleID != "" {
		query += ` AND vehicle_id = ?`
		args = append(args, q.VehicleID)
	}
	if q.DispatchLogID != "" {
		query += ` AND dispatch_log_id = ?`
		args = append(args, q.DispatchLogID)
	}
	if q.Geofence != "" {
		query += ` AND geofence = ?`
		args = append(args, q.Geofence)
	}
	if q.Success != nil {
		query += ` AND success = ?`
		args = append(args, *q.Success)
	}
	query += ` ORDER BY ts, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Record
	for rows.Next() {
		var (
			r      Record
			ts     int64
			errStr sql.NullString
		)
		if err := rows.Scan(&ts, &r.VehicleID, &r.DispatchLogID, &r.Geofence, &r.Lat, &r.Lng, &r.Success, &errStr, &r.LatencyMS); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts)
		r.Error = errStr.String
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return q.limit(res), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
