package elements

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/signalsfoundry/passtrack/model"
)

// Store persists the last fetched satellites and ground stations so the
// station keeps working while the backend is unreachable.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens (creating if needed) the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS satellite_tle (
		name TEXT PRIMARY KEY,
		norad_id INTEGER NOT NULL,
		line1 TEXT NOT NULL,
		line2 TEXT NOT NULL,
		epoch TEXT NOT NULL,
		tle_group TEXT,
		auto_tracking INTEGER NOT NULL DEFAULT 0,
		orbit_status TEXT,
		created_at TEXT,
		last_updated TEXT
	);

	CREATE TABLE IF NOT EXISTS ground_station (
		name TEXT PRIMARY KEY,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		altitude REAL NOT NULL DEFAULT 0,
		start_tracking_elevation REAL NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize store schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveElements inserts or updates element sets by object ID. The original
// created_at of an existing row is kept.
func (s *Store) SaveElements(ctx context.Context, sets []model.ElementSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO satellite_tle (
			name, norad_id, line1, line2, epoch, tle_group,
			auto_tracking, orbit_status, created_at, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			norad_id = excluded.norad_id,
			line1 = excluded.line1,
			line2 = excluded.line2,
			epoch = excluded.epoch,
			tle_group = excluded.tle_group,
			auto_tracking = excluded.auto_tracking,
			orbit_status = excluded.orbit_status,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, es := range sets {
		if _, err := stmt.ExecContext(ctx,
			es.ObjectID,
			es.NoradID,
			es.Line1,
			es.Line2,
			formatTime(es.Epoch),
			es.Group,
			es.AutoTracking,
			es.OrbitStatus,
			formatTime(es.CreatedAt),
			formatTime(es.UpdatedAt),
		); err != nil {
			return fmt.Errorf("save %s: %w", es.ObjectID, err)
		}
	}
	return tx.Commit()
}

// TrackableElements returns the stored orbiting, auto-tracked element sets
// ordered by object ID.
func (s *Store) TrackableElements(ctx context.Context) ([]model.ElementSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, norad_id, line1, line2, epoch, tle_group,
			auto_tracking, orbit_status, created_at, last_updated
		FROM satellite_tle
		WHERE orbit_status = ? AND auto_tracking = 1
		ORDER BY name
	`, OrbitStatusOrbiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ElementSet
	for rows.Next() {
		var (
			es                            model.ElementSet
			group, status                 sql.NullString
			epoch, createdAt, lastUpdated sql.NullString
		)
		if err := rows.Scan(
			&es.ObjectID, &es.NoradID, &es.Line1, &es.Line2, &epoch, &group,
			&es.AutoTracking, &status, &createdAt, &lastUpdated,
		); err != nil {
			return nil, err
		}
		es.Epoch = parseTimestamp(epoch.String)
		es.Group = group.String
		es.OrbitStatus = status.String
		es.CreatedAt = parseTimestamp(createdAt.String)
		es.UpdatedAt = parseTimestamp(lastUpdated.String)
		out = append(out, es)
	}
	return out, rows.Err()
}

// SaveStations inserts or updates ground stations by name.
func (s *Store) SaveStations(ctx context.Context, stations []model.GroundStation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, gs := range stations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ground_station (
				name, latitude, longitude, altitude, start_tracking_elevation, is_active
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				altitude = excluded.altitude,
				start_tracking_elevation = excluded.start_tracking_elevation,
				is_active = excluded.is_active
		`,
			gs.Name, gs.Latitude, gs.Longitude, gs.Altitude, gs.MinElevation, gs.Active,
		); err != nil {
			return fmt.Errorf("save station %s: %w", gs.Name, err)
		}
	}
	return tx.Commit()
}

// Stations returns every stored ground station ordered by name.
func (s *Store) Stations(ctx context.Context) ([]model.GroundStation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, latitude, longitude, altitude, start_tracking_elevation, is_active
		FROM ground_station
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GroundStation
	for rows.Next() {
		var gs model.GroundStation
		if err := rows.Scan(&gs.Name, &gs.Latitude, &gs.Longitude, &gs.Altitude, &gs.MinElevation, &gs.Active); err != nil {
			return nil, err
		}
		out = append(out, gs)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
