// Package townstore keeps the town directory in SQLite. It is a read model
// for listing, not the authoritative registry: the default DSN is an
// in-memory database that starts empty with the process.
package townstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DefaultDSN keeps the directory entirely in memory, shared across the
// process's connections.
const DefaultDSN = "file:towndir?mode=memory&cache=shared"

type Record struct {
	TownID         string
	FriendlyName   string
	PubliclyListed bool
	Occupancy      int
	Capacity       int
}

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS towns (
			town_id TEXT PRIMARY KEY,
			friendly_name TEXT NOT NULL,
			publicly_listed INTEGER NOT NULL,
			capacity INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_towns_public ON towns(publicly_listed, friendly_name);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Insert(r Record) error {
	_, err := s.db.Exec(
		`INSERT INTO towns(town_id, friendly_name, publicly_listed, capacity) VALUES(?,?,?,?)`,
		r.TownID, r.FriendlyName, boolInt(r.PubliclyListed), r.Capacity,
	)
	return err
}

func (s *Store) Update(townID, friendlyName string, publiclyListed bool) error {
	res, err := s.db.Exec(
		`UPDATE towns SET friendly_name=?, publicly_listed=? WHERE town_id=?`,
		friendlyName, boolInt(publiclyListed), townID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("town %s not in directory", townID)
	}
	return nil
}

func (s *Store) Delete(townID string) error {
	_, err := s.db.Exec(`DELETE FROM towns WHERE town_id=?`, townID)
	return err
}

// ListPublic returns the publicly listed towns ordered by name. Occupancy is
// not stored here; callers overlay the live number.
func (s *Store) ListPublic() ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT town_id, friendly_name, capacity FROM towns WHERE publicly_listed=1 ORDER BY friendly_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r := Record{PubliclyListed: true}
		if err := rows.Scan(&r.TownID, &r.FriendlyName, &r.Capacity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
