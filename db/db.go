package db

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewMongoStorage connects to MongoDB using MONGO_URL/MONGO_DB and returns
// the store plus the raw client for shutdown.
func NewMongoStorage() (Store, *mongo.Client, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	uri := getenv("MONGO_URL", "mongodb://localhost:27017")
	database := getenv("MONGO_DB", "zispr")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetMaxPoolSize(25))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, err
	}

	return NewMongoStore(client, database), client, nil
}

// EnsureIndexes creates the indexes the queries rely on. Draft listing and
// timeline ordering deliberately need none: those sorts happen in memory.
func EnsureIndexes(ctx context.Context, client *mongo.Client, database string) error {
	d := client.Database(database)

	indexes := map[string][]mongo.IndexModel{
		"users": {
			{Keys: bson.D{{Key: "handle", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"posts": {
			{Keys: bson.D{{Key: "authorId", Value: 1}, {Key: "status", Value: 1}}},
		},
		"comments": {
			{Keys: bson.D{{Key: "postId", Value: 1}}},
		},
		"messages": {
			{Keys: bson.D{{Key: "conversationId", Value: 1}}},
		},
		"notifications": {
			{Keys: bson.D{{Key: "toUserId", Value: 1}}},
		},
		"devices": {
			{Keys: bson.D{{Key: "userId", Value: 1}}},
		},
		"reset_tokens": {
			{Keys: bson.D{{Key: "token", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := d.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}
