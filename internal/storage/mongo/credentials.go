package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const credentialsCollection = "credentials"

type credentialDocument struct {
	ID              string                `bson:"id"`
	UserID          string                `bson:"user_id"`
	Provider        domain.Provider       `bson:"provider"`
	Type            domain.CredentialType `bson:"type"`
	Name            string                `bson:"name"`
	EncryptedSecret string                `bson:"encrypted_secret"`
	Config          map[string]any        `bson:"config,omitempty"`
	ExpiresAt       *time.Time            `bson:"expires_at,omitempty"`
	CreatedAt       time.Time             `bson:"created_at"`
	UpdatedAt       time.Time             `bson:"updated_at"`
}

func (d credentialDocument) toDomain() domain.Credential {
	return domain.Credential{
		ID:              d.ID,
		UserID:          d.UserID,
		Provider:        d.Provider,
		Type:            d.Type,
		Name:            d.Name,
		EncryptedSecret: d.EncryptedSecret,
		Config:          d.Config,
		ExpiresAt:       d.ExpiresAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// CredentialRepository stores credentials in MongoDB. A user's credentials are
// unique by name; re-storing the same name overwrites the secret in place only
// when provider and type also match, otherwise the write is rejected.
type CredentialRepository struct {
	database *mongo.Database
}

func NewCredentialRepository(database *mongo.Database) *CredentialRepository {
	repository := &CredentialRepository{database: database}
	repository.ensureIndexes()

	return repository
}

func (r *CredentialRepository) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	collection := r.database.Collection(credentialsCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "name", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "provider", Value: 1},
			},
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Warn().Err(err).Msg("Failed to create credential indexes")
	}
}

func (r *CredentialRepository) Upsert(ctx context.Context, credential domain.Credential) (domain.Credential, error) {
	collection := r.database.Collection(credentialsCollection)

	now := time.Now().UTC()

	// Provider and type are part of the match. A colliding name with a
	// different provider or type misses the filter, falls through to an
	// insert and trips the unique (user_id, name) index instead of silently
	// rewriting the existing credential.
	filter := bson.M{
		"user_id":  credential.UserID,
		"name":     credential.Name,
		"provider": credential.Provider,
		"type":     credential.Type,
	}

	update := bson.M{
		"$set": bson.M{
			"encrypted_secret": credential.EncryptedSecret,
			"config":           credential.Config,
			"expires_at":       credential.ExpiresAt,
			"updated_at":       now,
		},
		"$setOnInsert": bson.M{
			"id":         credential.ID,
			"created_at": now,
		},
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var document credentialDocument
	if err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&document); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Credential{}, &domain.ValidationError{
				Field:  "name",
				Reason: fmt.Sprintf("credential %q already exists with a different provider or type", credential.Name),
			}
		}

		return domain.Credential{}, fmt.Errorf("failed to upsert credential: %w", err)
	}

	return document.toDomain(), nil
}

func (r *CredentialRepository) Get(ctx context.Context, credentialID string) (domain.Credential, error) {
	collection := r.database.Collection(credentialsCollection)

	var document credentialDocument
	err := collection.FindOne(ctx, bson.M{"id": credentialID}).Decode(&document)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Credential{}, domain.ErrCredentialNotFound
		}

		return domain.Credential{}, fmt.Errorf("failed to find credential: %w", err)
	}

	return document.toDomain(), nil
}

func (r *CredentialRepository) ListByUser(ctx context.Context, userID string) ([]domain.Credential, error) {
	collection := r.database.Collection(credentialsCollection)

	findOptions := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := collection.Find(ctx, bson.M{"user_id": userID}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find credentials: %w", err)
	}
	defer cursor.Close(ctx)

	var documents []credentialDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}

	credentials := make([]domain.Credential, 0, len(documents))
	for _, document := range documents {
		credentials = append(credentials, document.toDomain())
	}

	return credentials, nil
}

func (r *CredentialRepository) UpdateSecret(ctx context.Context, credentialID string, encryptedSecret string, expiresAt *time.Time) error {
	collection := r.database.Collection(credentialsCollection)

	update := bson.M{
		"$set": bson.M{
			"encrypted_secret": encryptedSecret,
			"expires_at":       expiresAt,
			"updated_at":       time.Now().UTC(),
		},
	}

	result, err := collection.UpdateOne(ctx, bson.M{"id": credentialID}, update)
	if err != nil {
		return fmt.Errorf("failed to update credential secret: %w", err)
	}

	if result.MatchedCount == 0 {
		return domain.ErrCredentialNotFound
	}

	return nil
}

func (r *CredentialRepository) Delete(ctx context.Context, credentialID string) error {
	collection := r.database.Collection(credentialsCollection)

	result, err := collection.DeleteOne(ctx, bson.M{"id": credentialID})
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	if result.DeletedCount == 0 {
		return domain.ErrCredentialNotFound
	}

	return nil
}
