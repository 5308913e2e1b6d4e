package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a conversation id does not exist in the store.
var ErrNotFound = errors.New("conversation not found")

// Store is the persistence adapter for conversation records. A completed Save
// is durable before it returns; the conversation manager relies on that to
// order durability ahead of downstream side effects.
// Implementations: the SQLite store in this package and *postgres.Store.
type Store interface {
	// Save upserts the full conversation record.
	Save(ctx context.Context, c *Conversation) error
	// Load returns the conversation or (nil, nil) if the id is unknown.
	Load(ctx context.Context, id string) (*Conversation, error)
	// List returns summaries of all non-archived conversations.
	List(ctx context.Context) ([]Summary, error)
	// Archive marks the record archived; ErrNotFound if the id is unknown.
	Archive(ctx context.Context, id string) error
	// Search matches the query against indexed title/phase/metadata and
	// returns summaries; callers hydrate full records via Load.
	Search(ctx context.Context, q SearchQuery) ([]Summary, error)
	Close() error
}
