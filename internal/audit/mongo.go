package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"syncgate/internal/model"
)

// MongoLog stores audit events in an append-only collection.
type MongoLog struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoLog connects to uri and uses database.audit_events.
func NewMongoLog(ctx context.Context, uri, database string) (*MongoLog, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	m := NewMongoLogWithDatabase(client.Database(database))
	m.client = client
	return m, nil
}

func NewMongoLogWithDatabase(db *mongo.Database) *MongoLog {
	return &MongoLog{collection: db.Collection("audit_events")}
}

// EnsureIndexes creates the (integrationId, timestamp) index used by ListEvents.
func (m *MongoLog) EnsureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "integrationId", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create audit index: %w", err)
	}
	return nil
}

func (m *MongoLog) LogEvent(ctx context.Context, evt model.AuditEvent) error {
	if _, err := m.collection.InsertOne(ctx, evt); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (m *MongoLog) ListEvents(ctx context.Context, integrationID string, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(limit))
	cursor, err := m.collection.Find(ctx, bson.M{"integrationId": integrationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find audit events: %w", err)
	}
	defer cursor.Close(ctx)
	var out []model.AuditEvent
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode audit events: %w", err)
	}
	return out, nil
}

func (m *MongoLog) Ping(ctx context.Context) error {
	return m.collection.Database().Client().Ping(ctx, nil)
}

func (m *MongoLog) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}
