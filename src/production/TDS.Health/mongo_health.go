package health

import (
	"context"
	"fmt"
	"time"

	config "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectMongoWithTimeout creates a MongoDB connection with a timeout context
func ConnectMongoWithTimeout(cfg *config.MongoConfig, timeout time.Duration) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("MONGODB_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)
	clientOptions.SetServerSelectionTimeout(timeout)
	clientOptions.SetConnectTimeout(timeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	// Test the connection
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	return client, nil
}

// GetCollection returns the readings collection
func GetCollection(client *mongo.Client, cfg *config.MongoConfig) *mongo.Collection {
	return client.Database(cfg.Database).Collection(cfg.Collection)
}
