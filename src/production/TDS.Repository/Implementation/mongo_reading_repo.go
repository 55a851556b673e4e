package implementation

import (
	"context"
	"errors"
	"fmt"
	"time"

	tdsmodels "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Models"
	interfaces "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type MongoReadingRepository struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoReadingRepository(coll *mongo.Collection, timeout time.Duration) *MongoReadingRepository {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MongoReadingRepository{coll: coll, timeout: timeout}
}

var _ interfaces.ReadingRepository = (*MongoReadingRepository)(nil)

// EnsureIndexes creates the history index used by GetRecentReadings
func (r *MongoReadingRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}},
	})
	return err
}

func (r *MongoReadingRepository) InsertReading(ctx context.Context, reading tdsmodels.Reading) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, reading); err != nil {
		return fmt.Errorf("insert reading %d: %w", reading.ID, err)
	}
	return nil
}

func (r *MongoReadingRepository) GetLatestReading(ctx context.Context) (*tdsmodels.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})

	var reading tdsmodels.Reading
	if err := r.coll.FindOne(ctx, bson.D{}, opts).Decode(&reading); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest reading: %w", err)
	}

	return &reading, nil
}

func (r *MongoReadingRepository) GetRecentReadings(ctx context.Context, limit int) ([]tdsmodels.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(interfaces.ClampLimit(limit)))

	cur, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("query recent readings: %w", err)
	}
	defer cur.Close(ctx)

	readings := make([]tdsmodels.Reading, 0)
	if err := cur.All(ctx, &readings); err != nil {
		return nil, fmt.Errorf("decode recent readings: %w", err)
	}

	return readings, nil
}

func (r *MongoReadingRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.coll.Database().Client().Ping(ctx, readpref.Primary())
}
