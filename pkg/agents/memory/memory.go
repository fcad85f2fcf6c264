// Package memory keeps the sliding window of conversation turns and the
// stores that persist it across processes.
package memory

import (
	"context"
	"time"
)

// Turn is one exchange between the user and the agent.
type Turn struct {
	Input  string    `json:"input"`
	Output string    `json:"output"`
	Time   time.Time `json:"time"`
}

// StoreOption defines options for Append operations
type StoreOption func(*StoreOptions)

// StoreOptions contains configuration for Append operations
type StoreOptions struct {
	TTL time.Duration
}

// WithTTL creates an option to expire a session's turns after ttl. The
// expiry covers the whole session; an Append without it clears the expiry.
func WithTTL(ttl time.Duration) StoreOption {
	return func(options *StoreOptions) {
		options.TTL = ttl
	}
}

// TurnStore persists conversation turns per session.
type TurnStore interface {
	// Append adds turn to the session and keeps only the newest window turns.
	Append(ctx context.Context, sessionID string, turn Turn, window int, opts ...StoreOption) error

	// Load returns up to limit of the newest turns, oldest first.
	Load(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// Clear removes every turn of the session.
	Clear(ctx context.Context, sessionID string) error

	// CleanExpired removes all expired turns.
	CleanExpired(ctx context.Context) (int64, error)

	// Close releases resources used by the store.
	Close() error
}
