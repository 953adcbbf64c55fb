package repository

import (
	"testing"
	"time"

	"ShopChat/entity"
	"ShopChat/internal/config"
	"ShopChat/internal/lib/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNewMongoClientDisabled(t *testing.T) {
	conf := &config.Config{}
	db, err := NewMongoClient(conf, logger.Discard())
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestNewMongoClientRequiresDatabase(t *testing.T) {
	conf := &config.Config{}
	conf.Mongo.Enabled = true
	_, err := NewMongoClient(conf, logger.Discard())
	assert.Error(t, err)

	conf.Mongo.Database = "shopchat"
	db, err := NewMongoClient(conf, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "shopchat", db.database)
}

func TestMessageUpdateKeepsReadMonotonic(t *testing.T) {
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	m := entity.Message{ID: "7", ConversationID: "42", Content: "hi", SenderIsCounterparty: true, CreatedAt: at}

	assert.Equal(t, bson.D{{Key: "conversation_id", Value: "42"}, {Key: "message_id", Value: "7"}}, messageFilter(m))

	update := messageUpdate(m)
	require.Len(t, update, 2)
	assert.Equal(t, "$set", update[0].Key)
	set := update[0].Value.(bson.D)
	for _, e := range set {
		assert.NotEqual(t, "read", e.Key)
	}
	assert.Equal(t, bson.D{{Key: "read", Value: false}}, update[1].Value)
	assert.Equal(t, "$max", update[1].Key)
}

func TestArchivedMessageConversion(t *testing.T) {
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	doc := archivedMessage{MessageID: "7", ConversationID: "42", Content: "hi", CreatedAt: at, Read: true}
	m := doc.message()
	assert.Equal(t, entity.ID("7"), m.ID)
	assert.Equal(t, entity.ID("42"), m.ConversationID)
	assert.True(t, m.Read)
	assert.Equal(t, at, m.CreatedAt)
}
