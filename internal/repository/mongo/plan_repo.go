// internal/repository/mongo/plan_repo.go
package mongo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const PlanCollectionName = "plans"

// mongoPlanRepository implements repository.PlanRepository
type mongoPlanRepository struct {
	collection *mongo.Collection
}

// NewMongoPlanRepository creates a new Plan repository.
func NewMongoPlanRepository(db *mongo.Database) repository.PlanRepository {
	return &mongoPlanRepository{
		collection: db.Collection(PlanCollectionName),
	}
}

// Create inserts a new plan. Plan IDs are ObjectID hex strings.
func (r *mongoPlanRepository) Create(ctx context.Context, plan *domain.Plan) error {
	if plan.StudentName == "" || plan.PlanType <= 0 {
		return errors.New("plan requires studentName and planType")
	}
	plan.ID = primitive.NewObjectID().Hex()
	now := time.Now().UTC()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	plan.PhoneDigits = domain.DigitsOnly(plan.GuardianPhone)

	if _, err := r.collection.InsertOne(ctx, plan); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return err
	}
	return nil
}

// GetByID retrieves a single plan by its ID.
func (r *mongoPlanRepository) GetByID(ctx context.Context, id string) (*domain.Plan, error) {
	var plan domain.Plan
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&plan)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// Search matches the student name (case-insensitive) or the phone digits, newest first.
func (r *mongoPlanRepository) Search(ctx context.Context, term string) (*domain.Plan, error) {
	term = strings.TrimSpace(term)
	or := bson.A{
		bson.M{"studentName": primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}},
	}
	if digits := domain.DigitsOnly(term); digits != "" {
		or = append(or, bson.M{"phoneDigits": primitive.Regex{Pattern: regexp.QuoteMeta(digits)}})
	}
	findOptions := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	var plan domain.Plan
	err := r.collection.FindOne(ctx, bson.M{"$or": or}, findOptions).Decode(&plan)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// List returns every plan, oldest first.
func (r *mongoPlanRepository) List(ctx context.Context) ([]domain.Plan, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	plans := []domain.Plan{}
	if err = cursor.All(ctx, &plans); err != nil {
		return nil, err
	}
	return plans, nil
}

// ReplaceClasses swaps the class array in a single document update.
func (r *mongoPlanRepository) ReplaceClasses(ctx context.Context, id string, classes []domain.ClassSession) error {
	update := bson.M{
		"$set": bson.M{
			"classes":   classes,
			"updatedAt": time.Now().UTC(),
		},
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *mongoPlanRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsurePlanIndexes creates necessary indexes. Call during startup.
func EnsurePlanIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "phoneDigits", Value: 1}}},
		{Keys: bson.D{{Key: "classes.signaturePendingId", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		logger.Log.Warnf("Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
