package mongo

import (
	"context"
	"fmt"
	"time"

	"agendapro/agenda-api/internal/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Default connection timeout
const defaultTimeout = 10 * time.Second

// ConnectDB connects to MongoDB and pings the primary.
func ConnectDB(ctx context.Context, uri string) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		if derr := DisconnectDB(client); derr != nil {
			logger.Log.Warnf("Disconnect after failed ping: %v", derr)
		}
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// DisconnectDB gracefully disconnects the MongoDB client.
func DisconnectDB(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return client.Disconnect(ctx)
}

// EnsureIndexes creates every index this package relies on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) {
	EnsurePlanIndexes(ctx, db.Collection(PlanCollectionName))
	EnsureContactIndexes(ctx, db.Collection(ContactCollectionName))
	EnsurePendingIndexes(ctx, db.Collection(PlanApprovalCollectionName))
	EnsurePendingIndexes(ctx, db.Collection(ClassSignatureCollectionName))
	logger.Log.Info("Mongo index creation completed")
}
