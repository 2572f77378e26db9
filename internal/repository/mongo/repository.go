// Package mongo implements the MetadataRepository over a MongoDB collection.
//
// Write semantics follow the pipeline's at-least-once contract: inserts use
// $setOnInsert so redeliveries never clobber existing state, the in-progress
// transition is conditional on a non-terminal status, and terminal writes are
// unconditional (the processor's short-circuit keeps stale redeliveries away
// from terminal records).
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Pragya1904/HTTP-Inventory/internal/backoff"
	"github.com/Pragya1904/HTTP-Inventory/internal/domain"
)

// Repository is the MongoDB-backed MetadataRepository.
type Repository struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    zerolog.Logger
}

// Connect dials MongoDB with the shared backoff schedule and pings it.
// Exhausting the schedule is fatal at startup.
func Connect(ctx context.Context, uri, db, coll string, sched backoff.Schedule, log zerolog.Logger) (*Repository, error) {
	log = log.With().Str("component", "mongo_repository").Logger()

	var lastErr error
	for attempt := 1; attempt <= sched.MaxAttempts; attempt++ {
		log.Info().
			Str("event", "mongo_connect_attempt").
			Int("attempt", attempt).
			Dur("delay", sched.Delay(attempt)).
			Msg("connecting to store")

		client, err := mongo.Connect(ctx, options.Client().
			ApplyURI(uri).
			SetServerSelectionTimeout(5*time.Second))
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = client.Ping(pingCtx, readpref.Primary())
			cancel()
			if err == nil {
				log.Info().Str("event", "mongo_connected").Msg("store connected")
				return &Repository{
					client: client,
					coll:   client.Database(db).Collection(coll),
					log:    log,
				}, nil
			}
			_ = client.Disconnect(ctx)
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("store connect failed")
		if attempt == sched.MaxAttempts {
			break
		}
		if err := sched.Sleep(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("store connect exhausted %d attempts: %w", sched.MaxAttempts, lastErr)
}

// EnsureIndexes creates the unique url index and the created_at index.
// Idempotent; called at startup by both processes.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uq_metadata_url"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_metadata_created_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// pendingUpdate only inserts; an existing record keeps its state and gets a
// fresh updated_at.
func pendingUpdate(url, requestID string, now time.Time) bson.M {
	return bson.M{
		"$setOnInsert": bson.M{
			"url":      url,
			"status":   domain.StatusPending,
			"metadata": domain.EmptyMetadata(),
			"processing": bson.M{
				"attempt_number":  0,
				"error_msg":       "",
				"last_attempt_at": now,
				"last_request_id": requestID,
			},
			"created_at": now,
		},
		"$set": bson.M{"updated_at": now},
	}
}

func (r *Repository) EnsurePending(ctx context.Context, url, requestID string) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"url": url},
		pendingUpdate(url, requestID, time.Now().UTC()),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("ensure pending: %w", err)
	}
	return nil
}

// inProgressStatuses are the states MarkInProgress may transition from.
var inProgressStatuses = []domain.ProcessingStatus{
	domain.StatusPending,
	domain.StatusQueued,
	domain.StatusInProgress,
	domain.StatusFailedRetryable,
}

func inProgressFilter(url string) bson.M {
	return bson.M{
		"url":    url,
		"status": bson.M{"$in": inProgressStatuses},
	}
}

func inProgressUpdate(requestID string, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"status":                     domain.StatusInProgress,
			"processing.error_msg":       "",
			"processing.last_attempt_at": now,
			"processing.last_request_id": requestID,
			"updated_at":                 now,
		},
		"$inc": bson.M{"processing.attempt_number": 1},
	}
}

func (r *Repository) MarkInProgress(ctx context.Context, url, requestID string) (int, bool, error) {
	now := time.Now().UTC()

	var rec domain.Record
	err := r.coll.FindOneAndUpdate(ctx,
		inProgressFilter(url),
		inProgressUpdate(requestID, now),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&rec)
	if err == nil {
		return rec.Processing.AttemptNumber, false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, fmt.Errorf("mark in progress: %w", err)
	}

	// No matching non-terminal record: either the record is terminal (stale
	// redelivery) or it vanished. Distinguish with a plain read.
	existing, getErr := r.Get(ctx, url)
	if getErr != nil {
		return 0, false, getErr
	}
	if existing == nil {
		return 0, false, fmt.Errorf("mark in progress: record for %q not found", url)
	}
	return existing.Processing.AttemptNumber, true, nil
}

func completedUpdate(url, requestID string, attempt int, meta domain.Metadata, now time.Time) bson.M {
	return bson.M{
		"$setOnInsert": bson.M{
			"url":        url,
			"created_at": now,
		},
		"$set": bson.M{
			"status":                     domain.StatusCompleted,
			"metadata":                   meta,
			"processing.attempt_number":  attempt,
			"processing.error_msg":       "",
			"processing.last_attempt_at": now,
			"processing.last_request_id": requestID,
			"updated_at":                 now,
		},
	}
}

func (r *Repository) MarkCompleted(ctx context.Context, url, requestID string, attempt int, meta domain.Metadata) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"url": url},
		completedUpdate(url, requestID, attempt, meta, time.Now().UTC()),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (r *Repository) MarkRetryableFailure(ctx context.Context, url, requestID string, attempt int, errMsg string) error {
	return r.markFailure(ctx, url, requestID, attempt, errMsg, domain.StatusFailedRetryable)
}

func (r *Repository) MarkPermanentFailure(ctx context.Context, url, requestID string, attempt int, errMsg string) error {
	return r.markFailure(ctx, url, requestID, attempt, errMsg, domain.StatusFailedPermanent)
}

func failureUpdate(url, requestID string, attempt int, errMsg string, status domain.ProcessingStatus, now time.Time) bson.M {
	return bson.M{
		"$setOnInsert": bson.M{
			"url":        url,
			"metadata":   domain.EmptyMetadata(),
			"created_at": now,
		},
		"$set": bson.M{
			"status":                     status,
			"processing.attempt_number":  attempt,
			"processing.error_msg":       errMsg,
			"processing.last_attempt_at": now,
			"processing.last_request_id": requestID,
			"updated_at":                 now,
		},
	}
}

func (r *Repository) markFailure(ctx context.Context, url, requestID string, attempt int, errMsg string, status domain.ProcessingStatus) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"url": url},
		failureUpdate(url, requestID, attempt, errMsg, status, time.Now().UTC()),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, url string) (*domain.Record, error) {
	var rec domain.Record
	err := r.coll.FindOne(ctx, bson.M{"url": url}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &rec, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the underlying client.
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
