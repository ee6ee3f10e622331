package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"flowsync/internal/database"
	"flowsync/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is the production ContextStore backed by MongoDB. Conditional
// updates use FindOneAndUpdate with the claimability predicate in the
// filter, so a lost race surfaces as ErrNoDocuments and maps to
// ErrClaimConflict.
type MongoStore struct {
	records *mongo.Collection
	failed  *mongo.Collection
}

// NewMongoStore creates a ContextStore over the given MongoDB connection.
func NewMongoStore(mongodb *database.MongoDB) *MongoStore {
	return &MongoStore{
		records: mongodb.Collection(database.CollectionContextRecords),
		failed:  mongodb.Collection(database.CollectionFailedEvents),
	}
}

// Insert persists a new record, mapping the unique-index violation on
// sourceEventId to ErrDuplicateEvent.
func (s *MongoStore) Insert(ctx context.Context, rec *models.ContextRecord) error {
	_, err := s.records.InsertOne(ctx, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert context record: %w", err)
	}
	return nil
}

func (s *MongoStore) FindByContextID(ctx context.Context, projectID, contextID string) (*models.ContextRecord, error) {
	var rec models.ContextRecord
	err := s.records.FindOne(ctx, bson.M{"projectId": projectID, "contextId": contextID}).Decode(&rec)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find context record: %w", err)
	}
	return &rec, nil
}

func (s *MongoStore) FindBySourceEventID(ctx context.Context, eventID string) (*models.ContextRecord, error) {
	var rec models.ContextRecord
	err := s.records.FindOne(ctx, bson.M{"sourceEventId": eventID}).Decode(&rec)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find record by event id: %w", err)
	}
	return &rec, nil
}

// FindClaimableUncommitted range-queries the (projectId, branch, author,
// status, loggedAt) index instead of scanning branch history.
func (s *MongoStore) FindClaimableUncommitted(ctx context.Context, projectID, branch, author string, around time.Time, window time.Duration) ([]models.ContextRecord, error) {
	filter := bson.M{
		"projectId": projectID,
		"branch":    branch,
		"author":    author,
		"status":    models.StatusUncommitted,
		"loggedAt":  bson.M{"$gte": around.Add(-window), "$lte": around.Add(window)},
	}
	return s.findRecords(ctx, filter, nil, 0)
}

func (s *MongoStore) CompleteUncommitted(ctx context.Context, contextID string, upd CompletionUpdate) (*models.ContextRecord, error) {
	now := time.Now().UTC()
	set := bson.M{
		"status":               models.StatusComplete,
		"commitHash":           upd.CommitHash,
		"sourceEventId":        upd.SourceEventID,
		"extracted":            upd.Extracted,
		"embedding":            upd.Embedding,
		"eventTimestamp":       upd.EventTimestamp,
		"extractedAt":          upd.ExtractedAt,
		"processingDurationMs": upd.ProcessingDurationMs,
		"updatedAt":            now,
	}
	if upd.ParentBranch != "" {
		set["parentBranch"] = upd.ParentBranch
	}

	// Conditional on the record still being uncommitted: a concurrent push
	// racing for the same reasoning-only record loses here.
	result := s.records.FindOneAndUpdate(
		ctx,
		bson.M{"contextId": contextID, "status": models.StatusUncommitted},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var rec models.ContextRecord
	if err := result.Decode(&rec); err != nil {
		return nil, promotionError(err)
	}
	return &rec, nil
}

// promotionError maps driver errors from the conditional promotion to the
// store's sentinels: a filter miss is a lost claim, and a unique-index
// violation on sourceEventId means another worker already processed the
// event.
func promotionError(err error) error {
	if err == mongo.ErrNoDocuments {
		return ErrClaimConflict
	}
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEvent
	}
	return fmt.Errorf("failed to complete uncommitted record: %w", err)
}

func (s *MongoStore) FindAwaitingReasoning(ctx context.Context, projectID, branch, author string, around time.Time, window time.Duration) ([]models.ContextRecord, error) {
	filter := bson.M{
		"projectId":      projectID,
		"branch":         branch,
		"author":         author,
		"status":         models.StatusComplete,
		"agentReasoning": bson.M{"$exists": false},
		"eventTimestamp": bson.M{"$gte": around.Add(-window), "$lte": around.Add(window)},
	}
	return s.findRecords(ctx, filter, nil, 0)
}

func (s *MongoStore) AttachReasoning(ctx context.Context, contextID string, bundle *models.AgentReasoning, at time.Time) (*models.ContextRecord, error) {
	result := s.records.FindOneAndUpdate(
		ctx,
		bson.M{"contextId": contextID, "agentReasoning": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{
			"agentReasoning": bundle,
			"loggedAt":       at,
			"updatedAt":      time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var rec models.ContextRecord
	if err := result.Decode(&rec); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrClaimConflict
		}
		return nil, fmt.Errorf("failed to attach reasoning: %w", err)
	}
	return &rec, nil
}

func (s *MongoStore) ListBranch(ctx context.Context, projectID, branch string, includeStale bool, limit int64) ([]models.ContextRecord, error) {
	filter := bson.M{
		"projectId": projectID,
		"$or": []bson.M{
			{"branch": branch},
			{"mergedInto": branch},
		},
	}
	if !includeStale {
		filter["status"] = bson.M{"$ne": models.StatusStale}
	}

	sort := bson.D{{Key: "extractedAt", Value: -1}, {Key: "loggedAt", Value: -1}}
	return s.findRecords(ctx, filter, sort, limit)
}

func (s *MongoStore) MarkMerged(ctx context.Context, projectID, sourceBranch, targetBranch string, at time.Time) (int64, error) {
	result, err := s.records.UpdateMany(
		ctx,
		bson.M{
			"projectId":  projectID,
			"branch":     sourceBranch,
			"mergedInto": bson.M{"$exists": false},
		},
		bson.M{"$set": bson.M{
			"mergedInto": targetBranch,
			"mergedAt":   at,
			"updatedAt":  time.Now().UTC(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to tag merged records: %w", err)
	}
	return result.ModifiedCount, nil
}

func (s *MongoStore) MarkStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.records.UpdateMany(
		ctx,
		bson.M{
			"status":   models.StatusUncommitted,
			"loggedAt": bson.M{"$lt": olderThan},
		},
		bson.M{"$set": bson.M{
			"status":    models.StatusStale,
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale records: %w", err)
	}
	if result.ModifiedCount > 0 {
		log.Printf("🧹 [CONTEXT-STORE] Marked %d uncommitted records stale", result.ModifiedCount)
	}
	return result.ModifiedCount, nil
}

func (s *MongoStore) InsertFailedEvent(ctx context.Context, fe *models.FailedEvent) error {
	_, err := s.failed.InsertOne(ctx, fe)
	if err != nil {
		return fmt.Errorf("failed to insert failed event: %w", err)
	}
	return nil
}

func (s *MongoStore) ListFailedEvents(ctx context.Context, projectID string, limit int64) ([]models.FailedEvent, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "failedAt", Value: -1}})
	if limit > 0 {
		findOptions.SetLimit(limit)
	}

	cursor, err := s.failed.Find(ctx, bson.M{"projectId": projectID}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find failed events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []models.FailedEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode failed events: %w", err)
	}
	return events, nil
}

func (s *MongoStore) CountByStatus(ctx context.Context, projectID string) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"projectId": projectID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := s.records.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate status counts: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[string]int64)
	for cursor.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int64  `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode status count: %w", err)
		}
		counts[row.Status] = row.Count
	}
	return counts, cursor.Err()
}

func (s *MongoStore) findRecords(ctx context.Context, filter bson.M, sort bson.D, limit int64) ([]models.ContextRecord, error) {
	findOptions := options.Find()
	if sort != nil {
		findOptions.SetSort(sort)
	}
	if limit > 0 {
		findOptions.SetLimit(limit)
	}

	cursor, err := s.records.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find context records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.ContextRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode context records: %w", err)
	}
	return records, nil
}
