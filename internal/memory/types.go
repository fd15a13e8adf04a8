package memory

import (
	"context"
	"errors"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotConfigured marks a store that has no external backend to probe.
var ErrNotConfigured = errors.New("memory: store not configured")

// Message is a single conversational turn as fed to the language model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store persists per-user conversation history. Implementations cap stored
// history per user and evict the oldest messages first.
type Store interface {
	// AppendExchange records one user message and the assistant reply that
	// answered it, in that order.
	AppendExchange(ctx context.Context, userID, userMsg, assistantMsg string) error
	// Recent returns up to n of the newest messages in chronological order.
	Recent(ctx context.Context, userID string, n int) ([]Message, error)
	// Clear removes all stored history for the user.
	Clear(ctx context.Context, userID string) error
	// Ping reports backend reachability. Stores without an external backend
	// return ErrNotConfigured.
	Ping(ctx context.Context) error
	Close() error
}
