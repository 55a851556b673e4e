package health

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	config "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Config"
	_ "modernc.org/sqlite"
)

// DatabaseManager handles schema operations on a SQL store
type DatabaseManager struct {
	db *sql.DB
}

// NewDatabaseManager creates a new database manager
func NewDatabaseManager(db *sql.DB) *DatabaseManager {
	return &DatabaseManager{db: db}
}

// ConnectPostgresWithTimeout creates a PostgreSQL connection with a timeout context
func ConnectPostgresWithTimeout(cfg *config.Config, timeout time.Duration) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(cfg.Store.Postgres.MaxConns)
	db.SetMaxIdleConns(cfg.Store.Postgres.MinConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// OpenSQLite opens the embedded SQLite store, creating its directory when needed
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open SQLite database: %w", err)
	}

	// one writer, and :memory: databases are per connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping SQLite: %w", err)
	}

	return db, nil
}

// CreateTables creates the readings table and its history index if they don't exist
func (dm *DatabaseManager) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	createReadingsTable := `
		CREATE TABLE IF NOT EXISTS tds_readings (
			id          BIGINT PRIMARY KEY,
			tds_ppm     DOUBLE PRECISION NOT NULL,
			"timestamp" BIGINT NOT NULL
		)
	`

	createIndexes := `
		CREATE INDEX IF NOT EXISTS idx_tds_readings_timestamp_desc ON tds_readings ("timestamp" DESC, id DESC)
	`

	for _, query := range []string{createReadingsTable, createIndexes} {
		if _, err := dm.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}
