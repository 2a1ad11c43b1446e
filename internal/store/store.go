package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// User is the author of a persisted item.
type User struct {
	ID   string
	Name string
}

// Item is one persisted document. UID is unique across the store; Type is the
// discriminator (a command or event kind).
type Item struct {
	Type      string
	UID       string
	Timestamp int64
	User      User
	Payload   json.RawMessage
}

// ItemStore handles uid-keyed items.
type ItemStore interface {
	// Insert stores item. A duplicate uid is a no-op and reports false.
	Insert(ctx context.Context, item Item) (bool, error)
	Exists(ctx context.Context, uid string) (bool, error)
	Get(ctx context.Context, uid string) (*Item, error)
	// Latest returns the newest item of a type by timestamp.
	Latest(ctx context.Context, itemType string) (*Item, error)
	// ListByType returns items of a type with timestamp >= since, oldest first.
	ListByType(ctx context.Context, itemType string, since int64) ([]Item, error)
}

// SnapshotStore keeps one ordered uid list per owner type.
type SnapshotStore interface {
	// SaveSnapshot replaces the snapshot for ownerType.
	SaveSnapshot(ctx context.Context, ownerType string, uids []string) error
	// LoadSnapshot returns the saved uids, or nil when none was saved.
	LoadSnapshot(ctx context.Context, ownerType string) ([]string, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ItemStore
	SnapshotStore
	Close() error
}
