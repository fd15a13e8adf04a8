package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Conn is the live connection handle owned by a session. The production
// implementation wraps a websocket connection; tests substitute fakes.
type Conn interface {
	Send(v any) error
	Close() error
}

// Session pairs one user with exactly one live connection plus the small
// metadata record exposed by the stats endpoints.
type Session struct {
	UserID       string    `json:"-"`
	Conn         Conn      `json:"-"`
	ConnectedAt  time.Time `json:"connected_at"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	TotalConnections int                 `json:"total_connections"`
	Users            []string            `json:"users"`
	Metadata         map[string]*Session `json:"metadata"`
}

// Registry maps user ids to live sessions. It is the only cross-session
// shared mutable state in the service; the mutex is never held across
// connection I/O.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	onExpire    func(*Session)
}

// NewRegistry builds an empty registry. idleTimeout <= 0 disables the
// reaper: sessions then live until disconnect, matching default behavior.
func NewRegistry(idleTimeout time.Duration) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
}

func (r *Registry) SetExpireHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Register installs conn as the live connection for userID, replacing any
// prior one. The displaced handle is closed so its read loop terminates.
// Registration always succeeds; the registry never grows on reconnect.
func (r *Registry) Register(userID string, conn Conn) {
	now := time.Now().UTC()
	s := &Session{
		UserID:       userID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
	}

	r.mu.Lock()
	prev := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()

	if prev != nil && prev.Conn != nil && prev.Conn != conn {
		_ = prev.Conn.Close()
	}
}

// Unregister removes the session for userID if present. The connection
// handle is not closed here; callers that force a disconnect close it.
func (r *Registry) Unregister(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[userID]; !ok {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// Drop removes the session only when conn is still the registered handle.
// A handler tearing down a replaced connection must not evict its successor.
func (r *Registry) Drop(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok || s.Conn != conn {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// Lookup returns the live connection handle for userID.
func (r *Registry) Lookup(userID string) (Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Conn, nil
}

// Get returns a copy of the session record for status reporting.
func (r *Registry) Get(userID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Touch records one content-bearing inbound message.
func (r *Registry) Touch(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return ErrNotFound
	}
	s.MessageCount++
	s.LastActivity = time.Now().UTC()
	return nil
}

// MarkActivity refreshes the last-activity timestamp without counting a
// message. Used for pings and successful outbound sends.
func (r *Registry) MarkActivity(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = time.Now().UTC()
	return nil
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot copies the registry state for the stats endpoint. Only reference
// copies happen under the lock.
func (r *Registry) Snapshot() Stats {
	r.mu.RLock()
	users := make([]string, 0, len(r.sessions))
	meta := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		users = append(users, id)
		meta[id] = clone(s)
	}
	r.mu.RUnlock()

	sort.Strings(users)
	return Stats{
		TotalConnections: len(users),
		Users:            users,
		Metadata:         meta,
	}
}

// CloseAll drains the registry on shutdown: every session is removed and
// its connection closed.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	drained := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		drained = append(drained, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range drained {
		if s.Conn != nil {
			_ = s.Conn.Close()
		}
	}
}

// StartReaper expires idle sessions in the background. No-op when the
// registry was built without an idle timeout.
func (r *Registry) StartReaper(ctx context.Context, interval time.Duration) {
	if r.idleTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireIdle()
			}
		}
	}()
}

func (r *Registry) expireIdle() {
	now := time.Now().UTC()
	var expired []*Session

	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity) < r.idleTimeout {
			continue
		}
		delete(r.sessions, id)
		expired = append(expired, s)
	}
	hook := r.onExpire
	r.mu.Unlock()

	for _, s := range expired {
		if s.Conn != nil {
			_ = s.Conn.Close()
		}
		if hook != nil {
			hook(clone(s))
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
