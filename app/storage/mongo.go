package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	e "github.com/Elon-F/Discord-scraper/pkg/entities"
)

const (
	databaseName       = "discord_db"
	messagesCollection = "messages"
)

type Mongo struct {
	client   *mongo.Client
	messages *mongo.Collection
}

func NewMongo(ctx context.Context, host string, port int) (*Mongo, error) {
	uri := fmt.Sprintf("mongodb://%s:%d", host, port)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	store := &Mongo{
		client:   client,
		messages: client.Database(databaseName).Collection(messagesCollection),
	}

	if err := store.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing mongodb indexes: %w", err)
	}

	return store, nil
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// SaveMessage upserts a single message keyed by its snowflake. A re-fetch of
// an already stored message overwrites the previous copy.
func (s *Mongo) SaveMessage(ctx context.Context, msg e.Message) error {
	_, err := s.messages.ReplaceOne(
		ctx,
		bson.M{"message_id": msg.ID},
		toDocument(msg),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upserting message %d: %w", msg.ID, err)
	}

	return nil
}

// SaveMessages bulk-upserts a page of messages. An empty page is a no-op.
func (s *Mongo) SaveMessages(ctx context.Context, msgs []e.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(msgs))
	for _, msg := range msgs {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"message_id": msg.ID}).
			SetReplacement(toDocument(msg)).
			SetUpsert(true))
	}

	_, err := s.messages.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("bulk upserting %d messages: %w", len(msgs), err)
	}

	return nil
}

// LatestMessageID returns the highest message snowflake stored for the given
// channel, or 0 when the channel has no stored messages.
func (s *Mongo) LatestMessageID(ctx context.Context, channelID int64) (int64, error) {
	var doc messageDocument
	err := s.messages.FindOne(
		ctx,
		bson.M{"channel_id": channelID},
		options.FindOne().SetSort(bson.D{{Key: "message_id", Value: -1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}

		return 0, fmt.Errorf("querying latest message for channel %d: %w", channelID, err)
	}

	return doc.MessageID, nil
}

func (s *Mongo) MessageExists(ctx context.Context, messageID int64) (bool, error) {
	err := s.messages.FindOne(ctx, bson.M{"message_id": messageID}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}

		return false, fmt.Errorf("querying message %d: %w", messageID, err)
	}

	return true, nil
}

// ListMessagesSince returns all stored messages with a timestamp at or after
// the given cutoff, oldest first.
func (s *Mongo) ListMessagesSince(ctx context.Context, from time.Time) ([]e.Message, error) {
	cursor, err := s.messages.Find(
		ctx,
		bson.M{"timestamp": bson.M{"$gte": from}},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages since %s: %w", from.Format(time.RFC3339), err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var msgs []e.Message
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding message document: %w", err)
		}
		msgs = append(msgs, fromDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return msgs, nil
}

func (s *Mongo) init(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "timestamp", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "channel_id", Value: 1}, {Key: "message_id", Value: -1}},
		},
	})

	return err
}
