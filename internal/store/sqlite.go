package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS items (
			coleccion TEXT NOT NULL,
			id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			nombre TEXT NOT NULL,
			descripcion TEXT DEFAULT '',
			activo INTEGER NOT NULL DEFAULT 1,
			orden INTEGER,
			creado INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (coleccion, id)
		)`,
		`CREATE INDEX IF NOT EXISTS items_owner_orden
			ON items (coleccion, owner_id, orden)`,
		`CREATE TABLE IF NOT EXISTS leads (
			id TEXT PRIMARY KEY,
			crm_id TEXT NOT NULL,
			etapa_id TEXT NOT NULL,
			nombre TEXT NOT NULL,
			valor_estimado REAL NOT NULL DEFAULT 0,
			movido_en INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS leads_crm
			ON leads (crm_id, movido_en)`,
	},
}

// NewSQLiteStore opens (or creates) the database file at path.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// sqlite serializes writers; one connection avoids SQLITE_BUSY under load
	db.SetMaxOpenConns(1)

	return newSQLStore(db, sqliteDialect)
}
