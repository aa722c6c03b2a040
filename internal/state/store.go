package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable wraps every persistence failure. A turn that cannot
// load or save its state fails.
var ErrUnavailable = errors.New("state store unavailable")

// Store persists conversation states keyed by thread id.
type Store interface {
	// Load returns the latest state for threadID, or a fresh state at
	// defaults when none has been saved.
	Load(ctx context.Context, threadID string) (*ConversationState, error)

	// Save projects st to its content-only form, assigns the next
	// version and persists it. The persisted copy is returned.
	Save(ctx context.Context, st *ConversationState) (*ConversationState, error)

	// Versions lists saved versions for threadID, newest first.
	Versions(ctx context.Context, threadID string, limit int) ([]VersionInfo, error)

	// LoadVersion returns one saved version of threadID.
	LoadVersion(ctx context.Context, threadID string, version int) (*ConversationState, error)

	// Threads lists every thread id with at least one saved version.
	Threads(ctx context.Context) ([]string, error)

	Close() error
}

// VersionInfo describes one saved snapshot without its payload.
type VersionInfo struct {
	ThreadID     string    `json:"thread_id"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	ByteSize     int64     `json:"byte_size"`
	MessageCount int       `json:"message_count"`
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
