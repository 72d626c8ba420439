package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"git.sr.ht/~jakintosh/orden/internal/config"
)

var mysqlDialect = dialect{
	name: "mysql",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS items (
			coleccion VARCHAR(32) NOT NULL,
			id VARCHAR(64) NOT NULL,
			owner_id VARCHAR(64) NOT NULL,
			nombre VARCHAR(255) NOT NULL,
			descripcion TEXT NULL,
			activo TINYINT NOT NULL DEFAULT 1,
			orden INT NULL,
			creado BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (coleccion, id),
			INDEX items_owner_orden (coleccion, owner_id, orden)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS leads (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			crm_id VARCHAR(64) NOT NULL,
			etapa_id VARCHAR(64) NOT NULL,
			nombre VARCHAR(255) NOT NULL,
			valor_estimado DOUBLE NOT NULL DEFAULT 0,
			movido_en BIGINT NOT NULL DEFAULT 0,
			INDEX leads_crm (crm_id, movido_en)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
}

// NewMySQLStore connects to MySQL, creating the database when allowed.
func NewMySQLStore(cfg config.MySQLConfig) (*SQLStore, error) {
	db, err := OpenMySQL(cfg)
	if err != nil {
		return nil, err
	}
	return newSQLStore(db, mysqlDialect)
}

func OpenMySQL(cfg config.MySQLConfig) (*sql.DB, error) {
	if err := ensureDatabaseExists(cfg); err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", mysqlDSN(cfg, cfg.DBName))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func mysqlDSN(cfg config.MySQLConfig, dbName string) string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		dbName,
	)
}

func ensureDatabaseExists(cfg config.MySQLConfig) error {
	dbName := strings.TrimSpace(cfg.DBName)
	if dbName == "" {
		return fmt.Errorf("empty DB_NAME")
	}

	adminDB, err := sql.Open("mysql", mysqlDSN(cfg, ""))
	if err != nil {
		return err
	}
	defer adminDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := adminDB.PingContext(ctx); err != nil {
		return err
	}

	stmt := fmt.Sprintf(
		"CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci",
		strings.ReplaceAll(dbName, "`", "``"),
	)
	_, createErr := adminDB.ExecContext(ctx, stmt)
	if createErr == nil {
		return nil
	}

	// without CREATE DATABASE rights, an existing database is still usable
	db, err := sql.Open("mysql", mysqlDSN(cfg, dbName))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("create database %q failed: %v; fallback connection failed: %w", dbName, createErr, err)
	}
	return nil
}
