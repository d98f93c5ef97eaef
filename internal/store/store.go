//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
package store

import (
	"context"
	"time"

	"github.com/vovakirdan/relaychat/internal/errs"
)

// DefaultListLimit caps list queries when the caller passes a non-positive limit.
const DefaultListLimit = 50

// MaxListLimit is the largest page a list query will return.
const MaxListLimit = 500

// Message represents a persisted direct message.
type Message struct {
	ID        int64      `json:"id"`
	Sender    string     `json:"sender"`
	Receiver  string     `json:"receiver"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	IsRead    bool       `json:"isRead"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

// MessageStore handles message persistence.
//
// Implementations must make CreateMessage and MarkRead atomic per message id:
// once IsRead is true it never returns to false, and ReadAt is set exactly
// when IsRead is true.
type MessageStore interface {
	// CreateMessage validates and persists a new unread message.
	// Returns *errs.ValidationError if any field is empty.
	CreateMessage(ctx context.Context, sender, receiver, content string) (*Message, error)

	// MarkRead flags a message as read and returns it.
	// The first read timestamp wins; repeated calls do not advance ReadAt.
	// Returns *errs.NotFoundError if the id is unknown.
	MarkRead(ctx context.Context, id int64) (*Message, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// ListConversation retrieves messages exchanged between two users, newest first.
	// If beforeID is provided, returns messages older than that ID.
	ListConversation(ctx context.Context, userA, userB string, limit int, beforeID *int64) ([]*Message, error)

	// ListUnread retrieves unread messages addressed to receiver, oldest first.
	ListUnread(ctx context.Context, receiver string, limit int) ([]*Message, error)

	// Close closes the underlying database.
	Close() error
}

// ValidateNew checks the fields required to create a message.
func ValidateNew(sender, receiver, content string) error {
	switch {
	case sender == "":
		return errs.Required("sender")
	case receiver == "":
		return errs.Required("receiver")
	case content == "":
		return errs.Required("content")
	}
	return nil
}

// NormalizeLimit clamps a caller supplied page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
