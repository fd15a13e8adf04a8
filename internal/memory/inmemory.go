package memory

import (
	"context"
	"sync"
)

// InMemoryStore is a simple in-process history store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	limit    int
	messages map[string][]Message
}

func NewInMemoryStore(limit int) *InMemoryStore {
	if limit <= 0 {
		limit = 20
	}
	return &InMemoryStore{
		limit:    limit,
		messages: make(map[string][]Message),
	}
}

func (s *InMemoryStore) AppendExchange(_ context.Context, userID, userMsg, assistantMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	arr := append(s.messages[userID],
		Message{Role: RoleUser, Content: userMsg},
		Message{Role: RoleAssistant, Content: assistantMsg},
	)
	if over := len(arr) - s.limit; over > 0 {
		arr = append(arr[:0:0], arr[over:]...)
	}
	s.messages[userID] = arr
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, userID string, n int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	arr := s.messages[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	out := make([]Message, n)
	copy(out, arr[len(arr)-n:])
	return out, nil
}

func (s *InMemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, userID)
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return ErrNotConfigured }

func (s *InMemoryStore) Close() error { return nil }
