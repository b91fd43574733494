package mongo

import (
	"context"
	"errors"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/pending"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names for the two pending kinds.
const (
	PlanApprovalCollectionName   = "pending_plan_approvals"
	ClassSignatureCollectionName = "pending_class_signatures"
)

// mongoPendingStore implements pending.Store on a TTL-indexed collection.
// Status transitions are single-document atomic updates.
type mongoPendingStore[T any] struct {
	collection *mongo.Collection
}

func NewMongoPendingStore[T any](db *mongo.Database, collectionName string) pending.Store[T] {
	return &mongoPendingStore[T]{collection: db.Collection(collectionName)}
}

func (s *mongoPendingStore[T]) Insert(ctx context.Context, rec pending.Record[T]) error {
	if _, err := s.collection.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return pending.ErrDuplicateID
		}
		return err
	}
	return nil
}

func (s *mongoPendingStore[T]) Get(ctx context.Context, id string) (pending.Record[T], error) {
	var rec pending.Record[T]
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return pending.Record[T]{}, pending.ErrNotFound
		}
		return pending.Record[T]{}, err
	}
	return rec, nil
}

func (s *mongoPendingStore[T]) CompareAndSetStatus(ctx context.Context, id string, from, to domain.PendingStatus, resolvedAt *time.Time) (pending.Record[T], error) {
	set := bson.M{"status": to}
	update := bson.M{"$set": set}
	if resolvedAt != nil {
		set["resolvedAt"] = *resolvedAt
	} else {
		update["$unset"] = bson.M{"resolvedAt": ""}
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var rec pending.Record[T]
	err := s.collection.FindOneAndUpdate(ctx, bson.M{"_id": id, "status": from}, update, opts).Decode(&rec)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return pending.Record[T]{}, err
	}
	// no match: either the id is gone or its status moved on
	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return pending.Record[T]{}, getErr
	}
	return current, pending.ErrAlreadyResolved
}

func (s *mongoPendingStore[T]) Delete(ctx context.Context, id string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *mongoPendingStore[T]) List(ctx context.Context) ([]pending.Record[T], error) {
	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []pending.Record[T]
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// DeleteExpired removes records past expiresAt. The TTL index does the same
// eventually; sweeping here lets callers repair what referenced them.
func (s *mongoPendingStore[T]) DeleteExpired(ctx context.Context, now time.Time) ([]pending.Record[T], error) {
	filter := bson.M{"expiresAt": bson.M{"$lte": now}}
	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var expired []pending.Record[T]
	if err := cursor.All(ctx, &expired); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}
	ids := make(bson.A, 0, len(expired))
	for _, rec := range expired {
		ids = append(ids, rec.ID)
	}
	if _, err := s.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, err
	}
	return expired, nil
}

// EnsurePendingIndexes creates the TTL index. Call during startup.
func EnsurePendingIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{Keys: bson.D{{Key: "payload.planId", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		logger.Log.Warnf("Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
