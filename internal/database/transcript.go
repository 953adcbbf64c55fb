package repository

import (
	"ShopChat/entity"
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// messageFilter keys an archived message by conversation and id, since ids
// are only guaranteed unique within a conversation.
func messageFilter(m entity.Message) bson.D {
	return bson.D{
		{Key: "conversation_id", Value: m.ConversationID.String()},
		{Key: "message_id", Value: m.ID.String()},
	}
}

// messageUpdate never clears the read flag: $max keeps true once stored.
func messageUpdate(m entity.Message) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "content", Value: m.Content},
			{Key: "sender_is_counterparty", Value: m.SenderIsCounterparty},
			{Key: "created_at", Value: m.CreatedAt},
		}},
		{Key: "$max", Value: bson.D{{Key: "read", Value: m.Read}}},
	}
}

type archivedMessage struct {
	MessageID            string    `bson:"message_id"`
	ConversationID       string    `bson:"conversation_id"`
	Content              string    `bson:"content"`
	SenderIsCounterparty bool      `bson:"sender_is_counterparty"`
	CreatedAt            time.Time `bson:"created_at"`
	Read                 bool      `bson:"read"`
}

func (a archivedMessage) message() entity.Message {
	return entity.Message{
		ID:                   entity.ID(a.MessageID),
		ConversationID:       entity.ID(a.ConversationID),
		Content:              a.Content,
		SenderIsCounterparty: a.SenderIsCounterparty,
		CreatedAt:            a.CreatedAt.UTC(),
		Read:                 a.Read,
	}
}

// SaveMessage upserts one message. Saving the same message twice leaves a
// single document.
func (m *MongoDB) SaveMessage(ctx context.Context, message entity.Message) error {
	if message.ID.IsZero() || message.ConversationID.IsZero() {
		return fmt.Errorf("message id and conversation are required")
	}
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)
	opts := options.Update().SetUpsert(true)
	_, err = collection.UpdateOne(ctx, messageFilter(message), messageUpdate(message), opts)
	if err != nil {
		return fmt.Errorf("mongodb upsert message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit archived messages of conv, oldest first.
func (m *MongoDB) ListMessages(ctx context.Context, conv entity.ID, limit int) ([]entity.Message, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	filter := bson.D{{Key: "conversation_id", Value: conv.String()}}
	// newest window, reversed below
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, m.findError(err)
	}
	defer cursor.Close(ctx)

	var docs []archivedMessage
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb decode messages: %w", err)
	}

	messages := make([]entity.Message, len(docs))
	for i, doc := range docs {
		messages[len(docs)-1-i] = doc.message()
	}
	m.log.With(
		slog.String("conversation", conv.String()),
		slog.Int("count", len(messages)),
	).Debug("archived transcript loaded")
	return messages, nil
}

// EnsureIndexes creates the unique message key and the listing index.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)
	_, err = collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("mongodb create indexes: %w", err)
	}
	return nil
}
