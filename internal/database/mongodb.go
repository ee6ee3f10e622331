package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB wraps the MongoDB client and database
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	dbName   string
}

// Collection names
const (
	CollectionContextRecords = "context_records"
	CollectionFailedEvents   = "failed_events"
)

// Failed events are diagnostic only; expire them after 30 days.
const failedEventTTLSeconds = 30 * 24 * 3600

// NewMongoDB creates a new MongoDB connection with connection pooling
func NewMongoDB(uri string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := extractDBName(uri)
	if dbName == "" {
		dbName = "flowsync"
	}

	db := &MongoDB{
		client:   client,
		database: client.Database(dbName),
		dbName:   dbName,
	}

	log.Printf("✅ Connected to MongoDB database: %s", dbName)

	return db, nil
}

// extractDBName extracts the database name from MongoDB URI
func extractDBName(uri string) string {
	// mongodb://localhost:27017/flowsync?authSource=admin -> flowsync
	lastSlash := -1
	questionMark := -1

	for i, c := range uri {
		if c == '/' {
			lastSlash = i
		}
		if c == '?' && questionMark == -1 {
			questionMark = i
		}
	}

	if lastSlash != -1 {
		start := lastSlash + 1
		end := len(uri)
		if questionMark != -1 && questionMark > lastSlash {
			end = questionMark
		}
		if start < end {
			dbName := uri[start:end]
			if dbName != "" {
				return dbName
			}
		}
	}

	return "flowsync"
}

// Initialize creates indexes for all collections
func (m *MongoDB) Initialize(ctx context.Context) error {
	log.Println("📦 Initializing MongoDB indexes...")

	// Context records: one unique record per processed push; the two
	// secondary access patterns the linking and resolution paths query by.
	if err := m.createIndexes(ctx, CollectionContextRecords, []mongo.IndexModel{
		// Idempotency: at most one record per source push event. Partial so
		// uncommitted records (no sourceEventId yet) don't collide.
		{
			Keys: bson.D{{Key: "sourceEventId", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"sourceEventId": bson.M{"$exists": true}}),
		},
		{Keys: bson.D{{Key: "contextId", Value: 1}}, Options: options.Index().SetUnique(true)},
		// Fuzzy-match range queries: (project, branch, author) + time window
		{Keys: bson.D{{Key: "projectId", Value: 1}, {Key: "branch", Value: 1}, {Key: "author", Value: 1}, {Key: "status", Value: 1}, {Key: "loggedAt", Value: 1}}},
		{Keys: bson.D{{Key: "projectId", Value: 1}, {Key: "branch", Value: 1}, {Key: "author", Value: 1}, {Key: "status", Value: 1}, {Key: "eventTimestamp", Value: 1}}},
		// Branch history listing, newest first
		{Keys: bson.D{{Key: "projectId", Value: 1}, {Key: "branch", Value: 1}, {Key: "extractedAt", Value: -1}}},
		// Merge-tag resolution on the target branch
		{Keys: bson.D{{Key: "projectId", Value: 1}, {Key: "mergedInto", Value: 1}, {Key: "extractedAt", Value: -1}}},
		// Staleness sweep scan
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "loggedAt", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create context_records indexes: %w", err)
	}

	// Failed events: inspection by project, TTL cleanup
	if err := m.createIndexes(ctx, CollectionFailedEvents, []mongo.IndexModel{
		{Keys: bson.D{{Key: "projectId", Value: 1}, {Key: "failedAt", Value: -1}}},
		{Keys: bson.D{{Key: "eventId", Value: 1}}},
		{Keys: bson.D{{Key: "failedAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(failedEventTTLSeconds)},
	}); err != nil {
		return fmt.Errorf("failed to create failed_events indexes: %w", err)
	}

	log.Println("✅ MongoDB indexes initialized successfully")
	return nil
}

// createIndexes creates indexes for a collection
func (m *MongoDB) createIndexes(ctx context.Context, collectionName string, indexes []mongo.IndexModel) error {
	collection := m.database.Collection(collectionName)
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Collection returns a collection handle
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Client returns the underlying MongoDB client
func (m *MongoDB) Client() *mongo.Client {
	return m.client
}

// Database returns the underlying MongoDB database
func (m *MongoDB) Database() *mongo.Database {
	return m.database
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	log.Println("🔌 Closing MongoDB connection...")
	return m.client.Disconnect(ctx)
}

// Ping checks if the database connection is alive
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}
