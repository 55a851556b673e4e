package interfaces

import (
	"context"

	tdsmodels "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Models"
)

// MaxHistory is the upper bound on readings returned by GetRecentReadings
const MaxHistory = 60

// ReadingRepository is the append-only reading store shared by the ingestor and the read API
type ReadingRepository interface {
	// InsertReading writes one reading atomically. Failures are returned, not retried.
	InsertReading(ctx context.Context, reading tdsmodels.Reading) error

	// GetLatestReading returns the most recently inserted reading, or nil when the store is empty.
	GetLatestReading(ctx context.Context) (*tdsmodels.Reading, error)

	// GetRecentReadings returns at most MaxHistory readings, newest timestamp first,
	// ties broken by id descending.
	GetRecentReadings(ctx context.Context, limit int) ([]tdsmodels.Reading, error)

	Ping(ctx context.Context) error
}

// ClampLimit maps a requested history size onto 1..MaxHistory
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxHistory {
		return MaxHistory
	}
	return limit
}
