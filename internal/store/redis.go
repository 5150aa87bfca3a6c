package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis. Conversation metadata lives in a
// JSON value, message history in a Redis list keyed per conversation; RPUSH
// plus LTRIM inside one transaction gives the append-with-cap atomicity the
// router relies on.
type RedisStore struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all conversation keys (default: "atlastalk:conv:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore creates a new Redis-backed conversation store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "atlastalk:conv:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping failed: %v", ErrUnavailable, err)
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisStoreFromClient creates a store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "atlastalk:conv:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// convMeta is the persisted metadata record, stored separately from the
// message list so listing never loads full histories.
type convMeta struct {
	ID        string         `json:"id"`
	Agent     string         `json:"agent,omitempty"`
	Owner     string         `json:"owner,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Key helpers
func (s *RedisStore) metaKey(id string) string {
	return s.prefix + "meta:" + id
}

func (s *RedisStore) messagesKey(id string) string {
	return s.prefix + "messages:" + id
}

func (s *RedisStore) ownerIndexKey(owner string) string {
	return s.prefix + "owner:" + owner
}

func (s *RedisStore) allIndexKey() string {
	return s.prefix + "all"
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Create inserts a new conversation record.
func (s *RedisStore) Create(ctx context.Context, agent string, initial []Message, metadata map[string]any) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	meta := convMeta{
		ID:        uuid.New().String(),
		Agent:     agent,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal conversation: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.metaKey(meta.ID), data, 0)
	pipe.SAdd(ctx, s.allIndexKey(), meta.ID)
	for _, m := range initial {
		md, err := json.Marshal(normalize(m, now))
		if err != nil {
			return "", fmt.Errorf("marshal message: %w", err)
		}
		pipe.RPush(ctx, s.messagesKey(meta.ID), md)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: create conversation: %v", ErrUnavailable, err)
	}

	return meta.ID, nil
}

// Append pushes one message and trims history to the last maxHistory entries.
func (s *RedisStore) Append(ctx context.Context, conversationID string, msg Message, maxHistory int) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if maxHistory <= 0 {
		maxHistory = DefaultRetention
	}

	meta, err := s.loadMeta(ctx, conversationID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	data, err := json.Marshal(normalize(msg, now))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	meta.UpdatedAt = now
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	// RPUSH and LTRIM execute atomically inside the transaction, so a
	// concurrent append can neither be lost nor observe a half-trimmed list.
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.messagesKey(conversationID), data)
	pipe.LTrim(ctx, s.messagesKey(conversationID), int64(-maxHistory), -1)
	pipe.Set(ctx, s.metaKey(conversationID), metaData, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	return nil
}

// ReadTail returns at most the last n messages. A missing conversation yields
// an empty slice.
func (s *RedisStore) ReadTail(ctx context.Context, conversationID string, n int) ([]Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []Message{}, nil
	}

	data, err := s.client.LRange(ctx, s.messagesKey(conversationID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read tail: %w", err)
	}

	messages := make([]Message, 0, len(data))
	for _, d := range data {
		var m Message
		if err := json.Unmarshal([]byte(d), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// Find retrieves a conversation with its full retained history.
func (s *RedisStore) Find(ctx context.Context, conversationID string) (*Conversation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	meta, err := s.loadMeta(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	messages, err := s.ReadTail(ctx, conversationID, DefaultRetention)
	if err != nil {
		return nil, err
	}

	return &Conversation{
		ID:        meta.ID,
		Agent:     meta.Agent,
		Owner:     meta.Owner,
		Metadata:  meta.Metadata,
		Messages:  messages,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	}, nil
}

// SetOwner attaches an owner id to an existing conversation.
func (s *RedisStore) SetOwner(ctx context.Context, conversationID, owner string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	meta, err := s.loadMeta(ctx, conversationID)
	if err != nil {
		return err
	}

	prev := meta.Owner
	meta.Owner = owner
	meta.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.metaKey(conversationID), data, 0)
	if prev != "" && prev != owner {
		pipe.SRem(ctx, s.ownerIndexKey(prev), conversationID)
	}
	if owner != "" {
		pipe.SAdd(ctx, s.ownerIndexKey(owner), conversationID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set owner: %w", err)
	}

	return nil
}

// SetMetadata sets a single metadata key on an existing conversation.
func (s *RedisStore) SetMetadata(ctx context.Context, conversationID, key string, value any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	meta, err := s.loadMeta(ctx, conversationID)
	if err != nil {
		return err
	}

	if meta.Metadata == nil {
		meta.Metadata = make(map[string]any)
	}
	meta.Metadata[key] = value
	meta.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	if err := s.client.Set(ctx, s.metaKey(conversationID), data, 0).Err(); err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}

	return nil
}

// List returns conversations matching the filter options.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*Conversation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var ids []string
	var err error
	if opts.Owner != "" {
		ids, err = s.client.SMembers(ctx, s.ownerIndexKey(opts.Owner)).Result()
	} else {
		ids, err = s.client.SMembers(ctx, s.allIndexKey()).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	// Redis sets are unordered; sort for deterministic pagination.
	sort.Strings(ids)

	start := opts.Offset
	if start >= len(ids) {
		return []*Conversation{}, nil
	}
	end := len(ids)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	ids = ids[start:end]

	conversations := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.Find(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Conversation was deleted, clean up index
				s.client.SRem(ctx, s.allIndexKey(), id)
				continue
			}
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})

	return conversations, nil
}

// Close releases resources held by the store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.client.Close()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) loadMeta(ctx context.Context, conversationID string) (*convMeta, error) {
	data, err := s.client.Get(ctx, s.metaKey(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	var meta convMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}

	return &meta, nil
}

// normalize fills in a zero timestamp with the append time.
func normalize(m Message, now time.Time) Message {
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	return m
}
