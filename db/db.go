package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collections groups the handles the service works with.
type Collections struct {
	Client   *mongo.Client
	Orders   *mongo.Collection
	Canteens *mongo.Collection
	Dishes   *mongo.Collection
	Reviews  *mongo.Collection
	Counters *mongo.Collection
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, uri, dbName string) (*Collections, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	database := client.Database(dbName)
	return &Collections{
		Client:   client,
		Orders:   database.Collection("orders"),
		Canteens: database.Collection("canteens"),
		Dishes:   database.Collection("dishes"),
		Reviews:  database.Collection("reviews"),
		Counters: database.Collection("counters"),
	}, nil
}

func (c *Collections) Close(ctx context.Context) error {
	return c.Client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the queries rely on. Existing indexes are left alone.
func (c *Collections) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		c.Orders: {
			{Keys: bson.D{{Key: "orderNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "canteen", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "student", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		c.Reviews: {
			{Keys: bson.D{{Key: "dish", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "canteen", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "reviewer", Value: 1}}},
		},
		c.Dishes: {
			{Keys: bson.D{{Key: "canteen", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}
