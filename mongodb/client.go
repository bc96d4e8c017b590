package mongodb

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

// UsersCollection is the default collection for local user records.
const UsersCollection = "users"

// Connect opens an instrumented MongoDB connection and verifies it with
// a ping.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	log.Info().Str("db", dbName).Msg("MongoDB client initialized")
	return client.Database(dbName), nil
}

// NewObjectID generates a new MongoDB ObjectID as a string.
func NewObjectID() string {
	return primitive.NewObjectID().Hex()
}
