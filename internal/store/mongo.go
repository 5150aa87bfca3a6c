package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore implements Store on a MongoDB "conversations" collection.
// Messages are embedded in the conversation document; append uses a single
// update with $push/$slice so the push and the cap are one atomic operation.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	mu     sync.RWMutex
	closed bool
}

// MongoConfig holds MongoDB connection configuration.
type MongoConfig struct {
	// URI is the MongoDB connection string.
	URI string
	// Database is the database name (default: "atlastalk").
	Database string
	// Collection is the collection name (default: "conversations").
	Collection string
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo URI is required")
	}
	db := cfg.Database
	if db == "" {
		db = "atlastalk"
	}
	coll := cfg.Collection
	if coll == "" {
		coll = "conversations"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("%w: mongo connect: %v", ErrUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: mongo ping: %v", ErrUnavailable, err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(db).Collection(coll),
	}, nil
}

// conversationDoc is the persisted document shape.
type conversationDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Agent     string             `bson:"agent,omitempty"`
	Owner     string             `bson:"owner,omitempty"`
	Metadata  map[string]any     `bson:"metadata,omitempty"`
	Messages  []Message          `bson:"messages"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func (s *MongoStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Create inserts a new conversation document.
func (s *MongoStore) Create(ctx context.Context, agent string, initial []Message, metadata map[string]any) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	msgs := make([]Message, len(initial))
	for i, m := range initial {
		msgs[i] = normalize(m, now)
	}

	doc := conversationDoc{
		Agent:     agent,
		Metadata:  metadata,
		Messages:  msgs,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("%w: insert conversation: %v", ErrUnavailable, err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// Append pushes one message, caps history at maxHistory, and refreshes
// updated_at, all in one update.
func (s *MongoStore) Append(ctx context.Context, conversationID string, msg Message, maxHistory int) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if maxHistory <= 0 {
		maxHistory = DefaultRetention
	}

	oid, err := parseObjectID(conversationID)
	if err != nil {
		return ErrNotFound
	}

	now := time.Now().UTC()
	update := bson.M{
		"$push": bson.M{
			"messages": bson.M{
				"$each":  []Message{normalize(msg, now)},
				"$slice": -maxHistory,
			},
		},
		"$set": bson.M{"updated_at": now},
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ReadTail returns at most the last n messages. A missing conversation yields
// an empty slice.
func (s *MongoStore) ReadTail(ctx context.Context, conversationID string, n int) ([]Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []Message{}, nil
	}

	oid, err := parseObjectID(conversationID)
	if err != nil {
		return []Message{}, nil
	}

	opts := options.FindOne().SetProjection(bson.M{
		"messages": bson.M{"$slice": -n},
	})

	var doc conversationDoc
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("read tail: %w", err)
	}

	if doc.Messages == nil {
		return []Message{}, nil
	}
	return doc.Messages, nil
}

// Find retrieves a conversation by id.
func (s *MongoStore) Find(ctx context.Context, conversationID string) (*Conversation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	oid, err := parseObjectID(conversationID)
	if err != nil {
		return nil, ErrNotFound
	}

	var doc conversationDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	return docToConversation(&doc), nil
}

// SetOwner attaches an owner id to an existing conversation.
func (s *MongoStore) SetOwner(ctx context.Context, conversationID, owner string) error {
	return s.setField(ctx, conversationID, bson.M{"owner": owner})
}

// SetMetadata sets a single metadata key on an existing conversation.
func (s *MongoStore) SetMetadata(ctx context.Context, conversationID, key string, value any) error {
	return s.setField(ctx, conversationID, bson.M{"metadata." + key: value})
}

func (s *MongoStore) setField(ctx context.Context, conversationID string, fields bson.M) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	oid, err := parseObjectID(conversationID)
	if err != nil {
		return ErrNotFound
	}

	fields["updated_at"] = time.Now().UTC()
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns conversations matching the filter options, newest first.
func (s *MongoStore) List(ctx context.Context, opts ListOptions) ([]*Conversation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	filter := bson.M{}
	if opts.Owner != "" {
		filter["owner"] = opts.Owner
	}

	findOpts := options.Find().SetSort(bson.M{"updated_at": -1})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cur, err := s.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var conversations []*Conversation
	for cur.Next(ctx) {
		var doc conversationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
		conversations = append(conversations, docToConversation(&doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	return conversations, nil
}

// Ping verifies the MongoDB connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func docToConversation(doc *conversationDoc) *Conversation {
	return &Conversation{
		ID:        doc.ID.Hex(),
		Agent:     doc.Agent,
		Owner:     doc.Owner,
		Metadata:  doc.Metadata,
		Messages:  doc.Messages,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func parseObjectID(id string) (primitive.ObjectID, error) {
	return primitive.ObjectIDFromHex(id)
}
