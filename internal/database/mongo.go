package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// コレクション名
const (
	UsersCollection = "users"
	TasksCollection = "tasks"
)

// ConnectMongo はMongoDBクライアントを生成し、プライマリへの疎通を確認する。
func ConnectMongo(ctx context.Context, uri string, pool PoolConfig) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(uint64(pool.MaxOpenConns)).
		SetMaxConnIdleTime(pool.ConnMaxLifetime).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, nil
}

// MongoIndexes はコレクションごとのインデックス定義を返す。
// usersのgoogleIdは値が存在するドキュメントのみ一意とする。
func MongoIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		UsersCollection: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetName("email_unique").SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "googleId", Value: 1}},
				Options: options.Index().
					SetName("googleId_unique").
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "googleId", Value: bson.D{{Key: "$type", Value: "string"}}}}),
			},
		},
		TasksCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("userId_createdAt")},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "isCompleted", Value: 1}}, Options: options.Index().SetName("userId_isCompleted")},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "dueDate", Value: 1}}, Options: options.Index().SetName("userId_dueDate")},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "priority", Value: 1}}, Options: options.Index().SetName("userId_priority")},
		},
	}
}

// EnsureMongoIndexes はインデックスを作成する。既存の同名インデックスはそのまま残る。
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	for collection, models := range MongoIndexes() {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return nil
}
