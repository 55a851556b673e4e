package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	tdsmodels "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Models"
	interfaces "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Repository/Interfaces"
)

// Dialect selects the bind-parameter syntax of the underlying driver
type Dialect int

const (
	DialectPostgres Dialect = iota // lib/pq, $1 placeholders
	DialectSQLite                  // modernc.org/sqlite, ? placeholders
)

// rebind rewrites ? placeholders into the dialect's syntax
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type SQLReadingRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLReadingRepository(db *sql.DB, dialect Dialect) *SQLReadingRepository {
	return &SQLReadingRepository{db: db, dialect: dialect}
}

var _ interfaces.ReadingRepository = (*SQLReadingRepository)(nil)

func (r *SQLReadingRepository) InsertReading(ctx context.Context, reading tdsmodels.Reading) error {
	query := r.dialect.rebind(`INSERT INTO tds_readings (id, tds_ppm, "timestamp") VALUES (?, ?, ?)`)

	if _, err := r.db.ExecContext(ctx, query, reading.ID, reading.ValuePPM, reading.ObservedAt); err != nil {
		return fmt.Errorf("insert reading %d: %w", reading.ID, err)
	}
	return nil
}

func (r *SQLReadingRepository) GetLatestReading(ctx context.Context) (*tdsmodels.Reading, error) {
	// ids grow with insertion order, so the highest id is the last insert
	query := `SELECT id, tds_ppm, "timestamp" FROM tds_readings ORDER BY id DESC LIMIT 1`

	var reading tdsmodels.Reading
	err := r.db.QueryRowContext(ctx, query).Scan(&reading.ID, &reading.ValuePPM, &reading.ObservedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest reading: %w", err)
	}

	return &reading, nil
}

func (r *SQLReadingRepository) GetRecentReadings(ctx context.Context, limit int) ([]tdsmodels.Reading, error) {
	query := r.dialect.rebind(`
		SELECT id, tds_ppm, "timestamp"
		FROM tds_readings
		ORDER BY "timestamp" DESC, id DESC
		LIMIT ?
	`)

	rows, err := r.db.QueryContext(ctx, query, interfaces.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent readings: %w", err)
	}
	defer rows.Close()

	return r.scanReadings(rows)
}

func (r *SQLReadingRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLReadingRepository) scanReadings(rows *sql.Rows) ([]tdsmodels.Reading, error) {
	readings := make([]tdsmodels.Reading, 0)

	for rows.Next() {
		var reading tdsmodels.Reading
		if err := rows.Scan(&reading.ID, &reading.ValuePPM, &reading.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings = append(readings, reading)
	}

	return readings, rows.Err()
}
