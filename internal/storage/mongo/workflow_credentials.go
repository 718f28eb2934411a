package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const workflowCredentialsCollection = "workflow_credentials"

type workflowCredentialDocument struct {
	WorkflowID   string    `bson:"workflow_id"`
	CredentialID string    `bson:"credential_id"`
	CreatedAt    time.Time `bson:"created_at"`
}

// WorkflowCredentialRepository stores the many-to-many links between workflows
// and credentials. Linking is idempotent.
type WorkflowCredentialRepository struct {
	database *mongo.Database
}

func NewWorkflowCredentialRepository(database *mongo.Database) *WorkflowCredentialRepository {
	repository := &WorkflowCredentialRepository{database: database}
	repository.ensureIndexes()

	return repository
}

func (r *WorkflowCredentialRepository) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	collection := r.database.Collection(workflowCredentialsCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "workflow_id", Value: 1},
				{Key: "credential_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "credential_id", Value: 1},
			},
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Warn().Err(err).Msg("Failed to create workflow credential indexes")
	}
}

func (r *WorkflowCredentialRepository) Link(ctx context.Context, workflowID, credentialID string) error {
	collection := r.database.Collection(workflowCredentialsCollection)

	filter := bson.M{
		"workflow_id":   workflowID,
		"credential_id": credentialID,
	}

	update := bson.M{
		"$setOnInsert": workflowCredentialDocument{
			WorkflowID:   workflowID,
			CredentialID: credentialID,
			CreatedAt:    time.Now().UTC(),
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to link credential to workflow: %w", err)
	}

	return nil
}

func (r *WorkflowCredentialRepository) UnlinkCredential(ctx context.Context, credentialID string) error {
	collection := r.database.Collection(workflowCredentialsCollection)

	if _, err := collection.DeleteMany(ctx, bson.M{"credential_id": credentialID}); err != nil {
		return fmt.Errorf("failed to unlink credential: %w", err)
	}

	return nil
}

func (r *WorkflowCredentialRepository) CredentialIDs(ctx context.Context, workflowID string) ([]string, error) {
	collection := r.database.Collection(workflowCredentialsCollection)

	cursor, err := collection.Find(ctx, bson.M{"workflow_id": workflowID})
	if err != nil {
		return nil, fmt.Errorf("failed to find workflow credentials: %w", err)
	}
	defer cursor.Close(ctx)

	var documents []workflowCredentialDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, fmt.Errorf("failed to decode workflow credentials: %w", err)
	}

	ids := make([]string, 0, len(documents))
	for _, document := range documents {
		ids = append(ids, document.CredentialID)
	}

	return ids, nil
}
