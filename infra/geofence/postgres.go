package geofence

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	coregeo "github.com/kilianp07/fleetlive/core/geofence"
)

// DefaultTable holds one row per candidate coordinate.
const DefaultTable = "geofence_coordinates"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostgresLoader reads geofences from a table with columns name, lat, lng
// and id. Rows are grouped by name in order of first appearance.
type PostgresLoader struct {
	db    *sql.DB
	table string
}

// OpenPostgres connects using the pgx stdlib driver.
func OpenPostgres(dsn, table string) (*PostgresLoader, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid geofence table name %q", table)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresLoader{db: db, table: table}, nil
}

// Load implements coregeo.Loader.
func (l *PostgresLoader) Load(ctx context.Context) ([]coregeo.Location, error) {
	q := fmt.Sprintf(`SELECT name, lat, lng FROM %s ORDER BY id`, l.table)
	rows, err := l.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query geofences: %w", err)
	}
	defer rows.Close()

	var recs []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.name, &r.lat, &r.lng); err != nil {
			return nil, fmt.Errorf("scan geofence: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	locs := group(recs)
	if err := validate(locs); err != nil {
		return nil, err
	}
	return locs, nil
}

// Close releases the connection pool.
func (l *PostgresLoader) Close() error { return l.db.Close() }

type row struct {
	name     string
	lat, lng float64
}

func group(rows []row) []coregeo.Location {
	idx := make(map[string]int)
	var locs []coregeo.Location
	for _, r := range rows {
		i, ok := idx[r.name]
		if !ok {
			i = len(locs)
			idx[r.name] = i
			locs = append(locs, coregeo.Location{Name: r.name})
		}
		locs[i].Coordinates = append(locs[i].Coordinates, coregeo.Coordinate{Lat: r.lat, Lng: r.lng})
	}
	return locs
}
