package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultMongoURI = "mongodb://localhost:27017"
	DefaultMongoDB  = "otpauth"

	AccountsCollection = "users"
	OTPCollection      = "otps"
)

// ConnectMongoDB establishes a connection to MongoDB and returns the client.
func ConnectMongoDB(ctx context.Context, uri string, logger *log.Logger) (*mongo.Client, error) {
	if uri == "" {
		uri = DefaultMongoURI
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	// Ping the database to verify connection.
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	if logger != nil {
		logger.Println("Connected to MongoDB")
	}
	return client, nil
}

// Collection returns a collection in dbName, falling back to DefaultMongoDB.
func Collection(client *mongo.Client, dbName, name string) *mongo.Collection {
	if dbName == "" {
		dbName = DefaultMongoDB
	}
	return client.Database(dbName).Collection(name)
}
