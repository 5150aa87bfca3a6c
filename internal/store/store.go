// Package store persists conversations and their bounded message history.
// Two backends are provided: Redis (list-per-conversation) and MongoDB
// (embedded message array with $push/$slice capping).
package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	// ErrNotFound is returned when a conversation doesn't exist.
	ErrNotFound = errors.New("conversation not found")
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("store unavailable")
	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. Messages have no lifecycle of their
// own; they exist only inside a conversation's history.
type Message struct {
	Role      Role      `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Conversation is the persistent conversation record. Agent is the logical
// agent name; empty means a plain conversation with no upstream model.
type Conversation struct {
	ID        string         `json:"id" bson:"-"`
	Agent     string         `json:"agent,omitempty" bson:"agent,omitempty"`
	Owner     string         `json:"owner,omitempty" bson:"owner,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Messages  []Message      `json:"messages" bson:"messages"`
	CreatedAt time.Time      `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time      `json:"updatedAt" bson:"updated_at"`
}

// ListOptions filters conversation listing.
type ListOptions struct {
	// Owner filters conversations by owner id.
	Owner string
	// Limit caps the number of results.
	Limit int
	// Offset skips the first N results.
	Offset int
}

// Store abstracts conversation persistence.
// Implementations must be safe for concurrent use, and appends to the same
// conversation must not lose messages: concurrent Append calls both land, in
// whatever order the backend's atomic push assigns.
type Store interface {
	// Create inserts a new conversation and returns its id.
	// The initial messages and metadata are stored as given.
	Create(ctx context.Context, agent string, initial []Message, metadata map[string]any) (string, error)

	// Append atomically pushes one message, retains only the last maxHistory
	// entries, and refreshes the conversation's updated_at.
	Append(ctx context.Context, conversationID string, msg Message, maxHistory int) error

	// ReadTail returns at most the last n messages, oldest first.
	// A missing conversation yields an empty slice, not ErrNotFound; callers
	// that need existence checks use Find. This asymmetry is intentional and
	// matches how the router consumes history.
	ReadTail(ctx context.Context, conversationID string, n int) ([]Message, error)

	// Find retrieves a conversation by id.
	// Returns ErrNotFound if the conversation doesn't exist.
	Find(ctx context.Context, conversationID string) (*Conversation, error)

	// SetOwner attaches an owner to an existing conversation.
	// Returns ErrNotFound if the conversation doesn't exist.
	SetOwner(ctx context.Context, conversationID, owner string) error

	// SetMetadata sets a single metadata key on an existing conversation.
	// Returns ErrNotFound if the conversation doesn't exist.
	SetMetadata(ctx context.Context, conversationID, key string, value any) error

	// List returns conversations matching the filter options, newest first.
	List(ctx context.Context, opts ListOptions) ([]*Conversation, error)

	// Close releases resources held by the store.
	Close() error
}

// DefaultRetention is the per-conversation history cap. It is deliberately
// larger than the router's context window so that storage trimming and
// provider-context trimming never interact.
const DefaultRetention = 200
