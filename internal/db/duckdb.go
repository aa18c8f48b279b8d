package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jcdickinson/rsindex/internal/cas"
	"github.com/jcdickinson/rsindex/internal/index"
	_ "github.com/marcboeker/go-duckdb"
)

type DB struct {
	conn *sql.DB
}

func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	conn, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_save_id START 1;`,

		`CREATE TABLE IF NOT EXISTS contributions (
			trait TEXT NOT NULL,
			module_key TEXT NOT NULL,
			seq INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			PRIMARY KEY (trait, module_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_hash ON contributions (content_hash)`,

		`CREATE TABLE IF NOT EXISTS sidebar_modules (
			module TEXT PRIMARY KEY
		)`,

		`CREATE TABLE IF NOT EXISTS sidebar_items (
			module TEXT NOT NULL,
			category TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			PRIMARY KEY (module, category, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS saves (
			id INTEGER PRIMARY KEY,
			saved_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			traits INTEGER NOT NULL,
			contributions INTEGER NOT NULL,
			sidebars INTEGER NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("executing %q: %w", q, err)
		}
	}
	return nil
}

// --- Snapshot operations ---

type Save struct {
	ID            int
	SavedAt       time.Time
	Traits        int
	Contributions int
	Sidebars      int
}

// SaveSnapshot replaces the stored index with snap. Contribution entries go to
// the CAS; the database only keeps their hashes.
func (db *DB) SaveSnapshot(snap index.Snapshot) (*Save, error) {
	hashes := make(map[string][]string, len(snap.Traits))
	contributions := 0
	for trait, mcs := range snap.Traits {
		for _, mc := range mcs {
			h, err := cas.Write(mc.Entries.Encode())
			if err != nil {
				return nil, fmt.Errorf("storing %s in %s: %w", mc.Module, trait, err)
			}
			hashes[trait] = append(hashes[trait], h)
			contributions++
		}
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM contributions`,
		`DELETE FROM sidebar_items`,
		`DELETE FROM sidebar_modules`,
	} {
		if _, err := tx.Exec(q); err != nil {
			return nil, fmt.Errorf("clearing index: %w", err)
		}
	}

	for trait, mcs := range snap.Traits {
		for i, mc := range mcs {
			if _, err := tx.Exec(
				`INSERT INTO contributions (trait, module_key, seq, content_hash) VALUES (?, ?, ?, ?)`,
				trait, mc.Module, i, hashes[trait][i],
			); err != nil {
				return nil, fmt.Errorf("inserting contribution: %w", err)
			}
		}
	}

	for module, sidebar := range snap.Sidebars {
		if _, err := tx.Exec(`INSERT INTO sidebar_modules (module) VALUES (?)`, module); err != nil {
			return nil, fmt.Errorf("inserting sidebar module: %w", err)
		}
		for category, entries := range sidebar {
			for i, e := range entries {
				if _, err := tx.Exec(
					`INSERT INTO sidebar_items (module, category, seq, name, description) VALUES (?, ?, ?, ?, ?)`,
					module, category, i, e.Name, e.Description,
				); err != nil {
					return nil, fmt.Errorf("inserting sidebar item: %w", err)
				}
			}
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO saves (id, traits, contributions, sidebars) VALUES (nextval('seq_save_id'), ?, ?, ?)`,
		len(snap.Traits), contributions, len(snap.Sidebars),
	); err != nil {
		return nil, fmt.Errorf("recording save: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing snapshot: %w", err)
	}
	return db.LastSave()
}

// LoadSnapshot rebuilds the stored index. Trait modules and sidebar entries come
// back in their stored order.
func (db *DB) LoadSnapshot() (index.Snapshot, error) {
	snap := index.Snapshot{
		State:    index.StateActive,
		Traits:   make(map[string][]index.ModuleContribution),
		Sidebars: make(map[string]index.SidebarIndex),
	}

	rows, err := db.conn.Query(`SELECT trait, module_key, content_hash FROM contributions ORDER BY trait, seq`)
	if err != nil {
		return snap, fmt.Errorf("querying contributions: %w", err)
	}
	defer rows.Close()

	blobs := make(map[string]index.Contribution)
	for rows.Next() {
		var trait, module, hash string
		if err := rows.Scan(&trait, &module, &hash); err != nil {
			return snap, fmt.Errorf("scanning contribution: %w", err)
		}
		entries, ok := blobs[hash]
		if !ok {
			data, err := cas.Read(hash)
			if err != nil {
				return snap, err
			}
			if entries, err = index.DecodeContribution(data); err != nil {
				return snap, fmt.Errorf("contribution %s in %s: %w", module, trait, err)
			}
			blobs[hash] = entries
		}
		snap.Traits[trait] = append(snap.Traits[trait], index.ModuleContribution{Module: module, Entries: entries.Clone()})
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	modules, err := db.conn.Query(`SELECT module FROM sidebar_modules`)
	if err != nil {
		return snap, fmt.Errorf("querying sidebar modules: %w", err)
	}
	defer modules.Close()
	for modules.Next() {
		var module string
		if err := modules.Scan(&module); err != nil {
			return snap, err
		}
		snap.Sidebars[module] = index.SidebarIndex{}
	}
	if err := modules.Err(); err != nil {
		return snap, err
	}

	items, err := db.conn.Query(`SELECT module, category, name, description FROM sidebar_items ORDER BY module, category, seq`)
	if err != nil {
		return snap, fmt.Errorf("querying sidebar items: %w", err)
	}
	defer items.Close()
	for items.Next() {
		var module, category string
		var e index.SidebarEntry
		if err := items.Scan(&module, &category, &e.Name, &e.Description); err != nil {
			return snap, err
		}
		sidebar, ok := snap.Sidebars[module]
		if !ok {
			sidebar = index.SidebarIndex{}
			snap.Sidebars[module] = sidebar
		}
		sidebar[category] = append(sidebar[category], e)
	}
	return snap, items.Err()
}

// LastSave returns the most recent save record, or nil if nothing was saved.
func (db *DB) LastSave() (*Save, error) {
	var s Save
	err := db.conn.QueryRow(
		`SELECT id, saved_at, traits, contributions, sidebars FROM saves ORDER BY id DESC LIMIT 1`,
	).Scan(&s.ID, &s.SavedAt, &s.Traits, &s.Contributions, &s.Sidebars)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CountContributions returns the number of stored (trait, module) pairs.
func (db *DB) CountContributions() (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM contributions`).Scan(&count)
	return count, err
}
