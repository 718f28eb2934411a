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

const workflowRunsCollection = "workflow_runs"

type workflowRunDocument struct {
	ID             string           `bson:"id"`
	WorkflowID     string           `bson:"workflow_id"`
	UserID         string           `bson:"user_id"`
	EngineRunID    string           `bson:"engine_run_id"`
	Status         domain.RunStatus `bson:"status"`
	IdempotencyKey string           `bson:"idempotency_key"`
	StartedAt      time.Time        `bson:"started_at"`
	CompletedAt    *time.Time       `bson:"completed_at,omitempty"`
	Error          string           `bson:"error,omitempty"`
}

func runDocumentFromDomain(run domain.WorkflowRun) workflowRunDocument {
	return workflowRunDocument{
		ID:             run.ID,
		WorkflowID:     run.WorkflowID,
		UserID:         run.UserID,
		EngineRunID:    run.EngineRunID,
		Status:         run.Status,
		IdempotencyKey: run.IdempotencyKey,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
		Error:          run.Error,
	}
}

func (d workflowRunDocument) toDomain() domain.WorkflowRun {
	return domain.WorkflowRun{
		ID:             d.ID,
		WorkflowID:     d.WorkflowID,
		UserID:         d.UserID,
		EngineRunID:    d.EngineRunID,
		Status:         d.Status,
		IdempotencyKey: d.IdempotencyKey,
		StartedAt:      d.StartedAt,
		CompletedAt:    d.CompletedAt,
		Error:          d.Error,
	}
}

// RunRepository stores workflow runs in MongoDB. A partial unique index over
// RUNNING rows enforces the dedup triple at the storage layer, so concurrent
// admissions with the same idempotency key collapse to one run even across
// processes.
type RunRepository struct {
	database *mongo.Database
}

func NewRunRepository(database *mongo.Database) *RunRepository {
	repository := &RunRepository{database: database}
	repository.ensureIndexes()

	return repository
}

func (r *RunRepository) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	collection := r.database.Collection(workflowRunsCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "workflow_id", Value: 1},
				{Key: "user_id", Value: 1},
				{Key: "idempotency_key", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": string(domain.RunStatusRunning)}),
		},
		{
			Keys: bson.D{
				{Key: "engine_run_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "workflow_id", Value: 1},
				{Key: "user_id", Value: 1},
				{Key: "started_at", Value: -1},
			},
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Warn().Err(err).Msg("Failed to create workflow run indexes")
	}
}

func (r *RunRepository) InsertRunning(ctx context.Context, run domain.WorkflowRun) (domain.WorkflowRun, bool, error) {
	collection := r.database.Collection(workflowRunsCollection)

	if _, err := collection.InsertOne(ctx, runDocumentFromDomain(run)); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return domain.WorkflowRun{}, false, fmt.Errorf("failed to insert run: %w", err)
		}

		filter := bson.M{
			"workflow_id":     run.WorkflowID,
			"user_id":         run.UserID,
			"idempotency_key": run.IdempotencyKey,
			"status":          domain.RunStatusRunning,
		}

		var existing workflowRunDocument
		lookupErr := collection.FindOne(ctx, filter).Decode(&existing)
		if lookupErr == nil {
			return existing.toDomain(), false, nil
		}
		if !errors.Is(lookupErr, mongo.ErrNoDocuments) {
			return domain.WorkflowRun{}, false, fmt.Errorf("failed to find deduplicated run: %w", lookupErr)
		}

		// No RUNNING row matched the dedup triple, so the conflict came from
		// the engine_run_id index: the engine redelivered a trigger for a run
		// that already terminated. Hand back the stored run as a no-op.
		lookupErr = collection.FindOne(ctx, bson.M{"engine_run_id": run.EngineRunID}).Decode(&existing)
		if lookupErr == nil {
			return existing.toDomain(), false, nil
		}
		if !errors.Is(lookupErr, mongo.ErrNoDocuments) {
			return domain.WorkflowRun{}, false, fmt.Errorf("failed to find run by engine run id: %w", lookupErr)
		}

		// the conflicting run terminated between insert and lookup
		return domain.WorkflowRun{}, false, fmt.Errorf("run admission raced with termination: %w", err)
	}

	return run, true, nil
}

func (r *RunRepository) Terminate(ctx context.Context, engineRunID string, to domain.RunStatus, runErr string, completedAt time.Time) (domain.WorkflowRun, bool, error) {
	collection := r.database.Collection(workflowRunsCollection)

	filter := bson.M{
		"engine_run_id": engineRunID,
		"status":        domain.RunStatusRunning,
	}

	update := bson.M{
		"$set": bson.M{
			"status":       to,
			"error":        runErr,
			"completed_at": completedAt,
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var document workflowRunDocument
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&document)
	if err == nil {
		return document.toDomain(), true, nil
	}

	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.WorkflowRun{}, false, fmt.Errorf("failed to terminate run: %w", err)
	}

	// distinguish an already-terminal run from one that never existed
	var terminal workflowRunDocument
	err = collection.FindOne(ctx, bson.M{"engine_run_id": engineRunID}).Decode(&terminal)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.WorkflowRun{}, false, domain.ErrRunNotFound
		}

		return domain.WorkflowRun{}, false, fmt.Errorf("failed to find run: %w", err)
	}

	return terminal.toDomain(), false, nil
}

func (r *RunRepository) TerminateCurrent(ctx context.Context, workflowID, userID string, to domain.RunStatus, completedAt time.Time) (domain.WorkflowRun, bool, error) {
	collection := r.database.Collection(workflowRunsCollection)

	filter := bson.M{
		"workflow_id": workflowID,
		"user_id":     userID,
		"status":      domain.RunStatusRunning,
	}

	update := bson.M{
		"$set": bson.M{
			"status":       to,
			"completed_at": completedAt,
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var document workflowRunDocument
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&document)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.WorkflowRun{}, false, nil
		}

		return domain.WorkflowRun{}, false, fmt.Errorf("failed to terminate current run: %w", err)
	}

	return document.toDomain(), true, nil
}

func (r *RunRepository) ListByWorkflow(ctx context.Context, workflowID, userID string, limit int) ([]domain.WorkflowRun, error) {
	collection := r.database.Collection(workflowRunsCollection)

	filter := bson.M{
		"workflow_id": workflowID,
		"user_id":     userID,
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find runs: %w", err)
	}
	defer cursor.Close(ctx)

	var documents []workflowRunDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}

	runs := make([]domain.WorkflowRun, 0, len(documents))
	for _, document := range documents {
		runs = append(runs, document.toDomain())
	}

	return runs, nil
}
