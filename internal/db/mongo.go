package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	DefaultMongoDatabase = "dnd_campaigns"

	collectionMessages  = "messages"
	collectionLog       = "campaign_log"
	collectionCampaigns = "campaigns"
)

// MongoStore is the MongoDB backend. Game state documents live in one
// collection per kind and carry their campaign id.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore connects to uri and pings the primary
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongodb uri is required")
	}
	if database == "" {
		database = DefaultMongoDatabase
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoStore{client: client, db: client.Database(database)}, nil
}

// Ping checks the primary
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// documentID uses the native ObjectID when id is one
func documentID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

// FindByCampaign returns every document of a collection for a campaign
func (s *MongoStore) FindByCampaign(ctx context.Context, collection, campaignID string) ([]Document, error) {
	cur, err := s.db.Collection(collection).Find(ctx, bson.M{KeyCampaign: campaignID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []Document
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		docs = append(docs, toDocument(raw))
	}
	return docs, cur.Err()
}

// Get returns one document or ErrNotFound
func (s *MongoStore) Get(ctx context.Context, collection, campaignID, id string) (Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).
		FindOne(ctx, bson.M{KeyID: documentID(id), KeyCampaign: campaignID}).
		Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDocument(raw), nil
}

// Upsert applies fields with $set, inserting the document when absent
func (s *MongoStore) Upsert(ctx context.Context, collection, campaignID, id string, fields Document) error {
	set := bson.M{KeyCampaign: campaignID}
	for k, v := range fields {
		if k == KeyID {
			continue
		}
		set[k] = v
	}

	_, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.M{KeyID: documentID(id), KeyCampaign: campaignID},
		bson.M{"$set": set},
		options.Update().SetUpsert(true),
	)
	return err
}

// AppendLog inserts a campaign log entry
func (s *MongoStore) AppendLog(ctx context.Context, entry CampaignLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.UpdatesApplied == nil {
		entry.UpdatesApplied = []string{}
	}
	_, err := s.db.Collection(collectionLog).InsertOne(ctx, entry)
	return err
}

// ListLog returns the campaign log oldest first
func (s *MongoStore) ListLog(ctx context.Context, campaignID string) ([]CampaignLogEntry, error) {
	cur, err := s.db.Collection(collectionLog).Find(ctx,
		bson.M{KeyCampaign: campaignID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}

	var entries []CampaignLogEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// mongoMessage is a chat message as stored. Message ids are only unique within
// a campaign, so _id is the campaign id joined with the message id.
type mongoMessage struct {
	Key        string    `bson:"_id"`
	ID         string    `bson:"id"`
	CampaignID string    `bson:"campaignId"`
	Role       string    `bson:"role"`
	Content    string    `bson:"content"`
	Timestamp  time.Time `bson:"timestamp"`
}

func messageKey(campaignID, id string) string {
	return campaignID + ":" + id
}

func toMongoMessage(m ChatMessage) mongoMessage {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return mongoMessage{
		Key:        messageKey(m.CampaignID, m.ID),
		ID:         m.ID,
		CampaignID: m.CampaignID,
		Role:       m.Role,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
	}
}

func (m mongoMessage) chatMessage() ChatMessage {
	return ChatMessage{
		ID:         m.ID,
		CampaignID: m.CampaignID,
		Role:       m.Role,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
	}
}

// SaveMessages replaces messages by campaign and id, inserting new ones
func (s *MongoStore) SaveMessages(ctx context.Context, msgs []ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(msgs))
	for _, m := range msgs {
		doc := toMongoMessage(m)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{KeyID: doc.Key, KeyCampaign: doc.CampaignID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	_, err := s.db.Collection(collectionMessages).BulkWrite(ctx, models)
	return err
}

// ListMessages returns the chat history ordered by timestamp ascending
func (s *MongoStore) ListMessages(ctx context.Context, campaignID string) ([]ChatMessage, error) {
	cur, err := s.db.Collection(collectionMessages).Find(ctx,
		bson.M{KeyCampaign: campaignID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}

	var stored []mongoMessage
	if err := cur.All(ctx, &stored); err != nil {
		return nil, err
	}
	msgs := make([]ChatMessage, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, m.chatMessage())
	}
	return msgs, nil
}

// CreateCampaign inserts a campaign or returns ErrConflict when the id is taken
func (s *MongoStore) CreateCampaign(ctx context.Context, c Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.Collection(collectionCampaigns).InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("campaign %s: %w", c.ID, ErrConflict)
	}
	return err
}

// GetCampaign returns a campaign or ErrNotFound
func (s *MongoStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	var c Campaign
	err := s.db.Collection(collectionCampaigns).FindOne(ctx, bson.M{KeyID: id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCampaigns returns all campaigns, newest first
func (s *MongoStore) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	cur, err := s.db.Collection(collectionCampaigns).Find(ctx,
		bson.M{},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}

	campaigns := []Campaign{}
	if err := cur.All(ctx, &campaigns); err != nil {
		return nil, err
	}
	return campaigns, nil
}

// toDocument converts driver types into plain Go values
func toDocument(raw bson.M) Document {
	doc := make(Document, len(raw))
	for k, v := range raw {
		doc[k] = plain(v)
	}
	return doc
}

func plain(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case bson.M:
		return map[string]any(toDocument(t))
	case map[string]any:
		return map[string]any(toDocument(bson.M(t)))
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
