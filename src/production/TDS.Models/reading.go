package tdsmodels

// Reading is one persisted TDS measurement
type Reading struct {
	ID         int64   `bson:"_id" json:"id"`
	ValuePPM   float64 `bson:"tds_ppm" json:"tds_ppm"`
	ObservedAt int64   `bson:"timestamp" json:"timestamp"` // unix seconds, set at ingestion
}
