package notify

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/repository"
)

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.Int64("post_id", e.PostID),
		zap.Int64("account_id", e.AccountID),
		zap.String("platform", e.Platform),
		zap.String("status", string(e.Status)),
		zap.Int("retry_count", e.RetryCount),
	}
	if e.Timezone != "" {
		fields = append(fields, zap.String("timezone", e.Timezone))
	}
	if e.PlatformPostID != "" {
		fields = append(fields, zap.String("platform_post_id", e.PlatformPostID))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	s.log.Info("Post event", fields...)
	return nil
}

// HistorySink appends events to the posting_history table.
type HistorySink struct {
	history repository.PostingHistoryRepository
}

func NewHistorySink(history repository.PostingHistoryRepository) *HistorySink {
	return &HistorySink{history: history}
}

func (s *HistorySink) Name() string { return "history" }

func (s *HistorySink) Handle(ctx context.Context, e Event) error {
	if _, err := s.history.Create(ctx, e.History()); err != nil {
		return fmt.Errorf("write posting history: %w", err)
	}
	return nil
}

const DefaultEventsCollection = "post_events"

// MongoSink stores events as documents for downstream consumers.
type MongoSink struct {
	coll *mongo.Collection
}

func NewMongoSink(db *mongo.Database, collection string) *MongoSink {
	if collection == "" {
		collection = DefaultEventsCollection
	}
	return &MongoSink{coll: db.Collection(collection)}
}

func (s *MongoSink) Name() string { return "mongo" }

func (s *MongoSink) Handle(ctx context.Context, e Event) error {
	if _, err := s.coll.InsertOne(ctx, e.History()); err != nil {
		return fmt.Errorf("insert post event: %w", err)
	}
	return nil
}

// ConnectMongo opens a client and verifies the server is reachable.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}
