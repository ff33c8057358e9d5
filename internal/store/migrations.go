package store

import (
	"database/sql"
	"fmt"
)

// migration adds a column introduced after a table's first schema.
type migration struct {
	Table  string
	Column string
	Def    string
}

// ledgerMigrations upgrade ledgers created by older releases. The CREATE
// TABLE statements already carry these columns.
var ledgerMigrations = []migration{
	// Samples dropped because fact extraction failed
	{"runs", "skipped", "INTEGER NOT NULL DEFAULT 0"},
	// Exit status of the engine process, -1 when it never ran
	{"evaluations", "exit_code", "INTEGER NOT NULL DEFAULT -1"},
}

// runMigrations applies the missing columns and returns how many it added.
func runMigrations(db *sql.DB) (int, error) {
	applied := 0
	for _, m := range ledgerMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		exists, err := columnExists(db, m.Table, m.Column)
		if err != nil {
			return applied, err
		}
		if exists {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return applied, fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		applied++
	}
	return applied, nil
}

// columnExists checks a column with PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("PRAGMA table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}
