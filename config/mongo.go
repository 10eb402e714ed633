package config

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InitMongo connects to the document store that keeps durable analysis
// history. The returned client must be disconnected on shutdown.
func InitMongo(ctx context.Context, s Settings) (*mongo.Client, error) {
	if s.MongoURI == "" {
		return nil, errors.New("MONGO_URI environment variable is not set")
	}

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(s.MongoURI).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(15 * time.Second).
		SetSocketTimeout(45 * time.Second).
		SetMaxPoolSize(10).
		SetMinPoolSize(1)

	client, err := mongo.Connect(cctx, clientOpts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(cctx)
		return nil, err
	}
	return client, nil
}
