package mongo

import (
	"context"
	"errors"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ContactCollectionName = "contacts"

// mongoContactRepository implements repository.ContactRepository. The
// normalized phone is the document _id.
type mongoContactRepository struct {
	collection *mongo.Collection
}

func NewMongoContactRepository(db *mongo.Database) repository.ContactRepository {
	return &mongoContactRepository{
		collection: db.Collection(ContactCollectionName),
	}
}

// Upsert replaces the channel data while keeping the original createdAt.
func (r *mongoContactRepository) Upsert(ctx context.Context, c *domain.Contact) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"channel":       c.Channel,
			"push":          c.Push,
			"whatsappTo":    c.WhatsAppTo,
			"whatsappOptIn": c.WhatsAppOpt,
			"telegramChat":  c.TelegramChat,
			"email":         c.Email,
			"updatedAt":     now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored domain.Contact
	if err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": c.Phone}, update, opts).Decode(&stored); err != nil {
		return err
	}
	c.CreatedAt = stored.CreatedAt
	c.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *mongoContactRepository) GetByPhone(ctx context.Context, phone string) (*domain.Contact, error) {
	return r.findOne(ctx, bson.M{"_id": phone})
}

func (r *mongoContactRepository) GetByTelegramChat(ctx context.Context, chatID int64) (*domain.Contact, error) {
	return r.findOne(ctx, bson.M{"channel": domain.ChannelTelegram, "telegramChat": chatID})
}

func (r *mongoContactRepository) findOne(ctx context.Context, filter bson.M) (*domain.Contact, error) {
	var c domain.Contact
	if err := r.collection.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *mongoContactRepository) Delete(ctx context.Context, phone string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": phone})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureContactIndexes creates necessary indexes. Call during startup.
func EnsureContactIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "telegramChat", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(bson.M{"channel": domain.ChannelTelegram}),
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		logger.Log.Warnf("Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
