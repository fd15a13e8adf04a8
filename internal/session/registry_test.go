package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []any
	closed bool
}

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("conn closed")
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestRegisterThenLookupReturnsSameHandle(t *testing.T) {
	r := NewRegistry(0)
	conn := &fakeConn{}
	r.Register("u1", conn)

	got, err := r.Lookup("u1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != Conn(conn) {
		t.Fatalf("Lookup() = %v, want the registered handle", got)
	}
}

func TestUnregisterThenLookupReturnsNotFound(t *testing.T) {
	r := NewRegistry(0)
	r.Register("u1", &fakeConn{})

	if !r.Unregister("u1") {
		t.Fatalf("Unregister() = false, want true")
	}
	if _, err := r.Lookup("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup() error = %v, want ErrNotFound", err)
	}
	if r.Unregister("u1") {
		t.Fatalf("second Unregister() = true, want no-op false")
	}
}

func TestReregisterReplacesWithoutGrowing(t *testing.T) {
	r := NewRegistry(0)
	first := &fakeConn{}
	second := &fakeConn{}

	r.Register("u1", first)
	r.Register("u1", second)

	if got := r.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", got)
	}
	if !first.isClosed() {
		t.Fatalf("displaced connection was not closed")
	}
	got, err := r.Lookup("u1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != Conn(second) {
		t.Fatalf("Lookup() returned the displaced handle")
	}
}

func TestDropOnlyEvictsMatchingConn(t *testing.T) {
	r := NewRegistry(0)
	stale := &fakeConn{}
	current := &fakeConn{}

	r.Register("u1", stale)
	r.Register("u1", current)

	if r.Drop("u1", stale) {
		t.Fatalf("Drop(stale) = true, want false")
	}
	if got := r.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d after stale drop, want 1", got)
	}
	if !r.Drop("u1", current) {
		t.Fatalf("Drop(current) = false, want true")
	}
	if _, err := r.Lookup("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup() error = %v after drop, want ErrNotFound", err)
	}
}

func TestTouchCountsMessagesAndMarkActivityDoesNot(t *testing.T) {
	r := NewRegistry(0)
	r.Register("u1", &fakeConn{})

	before, err := r.Get("u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := r.Touch("u1"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	afterTouch, _ := r.Get("u1")
	if afterTouch.MessageCount != before.MessageCount+1 {
		t.Fatalf("MessageCount = %d, want %d", afterTouch.MessageCount, before.MessageCount+1)
	}
	if !afterTouch.LastActivity.After(before.LastActivity) {
		t.Fatalf("Touch() did not refresh LastActivity")
	}

	time.Sleep(5 * time.Millisecond)
	if err := r.MarkActivity("u1"); err != nil {
		t.Fatalf("MarkActivity() error = %v", err)
	}
	afterMark, _ := r.Get("u1")
	if afterMark.MessageCount != afterTouch.MessageCount {
		t.Fatalf("MarkActivity() changed MessageCount: %d -> %d", afterTouch.MessageCount, afterMark.MessageCount)
	}
	if !afterMark.LastActivity.After(afterTouch.LastActivity) {
		t.Fatalf("MarkActivity() did not refresh LastActivity")
	}

	if err := r.Touch("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Touch(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestSnapshotCopiesState(t *testing.T) {
	r := NewRegistry(0)
	r.Register("bob", &fakeConn{})
	r.Register("alice", &fakeConn{})
	_ = r.Touch("alice")

	snap := r.Snapshot()
	if snap.TotalConnections != 2 {
		t.Fatalf("TotalConnections = %d, want 2", snap.TotalConnections)
	}
	if len(snap.Users) != 2 || snap.Users[0] != "alice" || snap.Users[1] != "bob" {
		t.Fatalf("Users = %v, want [alice bob]", snap.Users)
	}
	if snap.Metadata["alice"].MessageCount != 1 {
		t.Fatalf("alice MessageCount = %d, want 1", snap.Metadata["alice"].MessageCount)
	}

	// Mutating the snapshot must not touch registry state.
	snap.Metadata["alice"].MessageCount = 99
	cur, _ := r.Get("alice")
	if cur.MessageCount != 1 {
		t.Fatalf("snapshot mutation leaked into registry: MessageCount = %d", cur.MessageCount)
	}
}

func TestCloseAllDrainsEverySession(t *testing.T) {
	r := NewRegistry(0)
	conns := []*fakeConn{{}, {}, {}}
	for i, c := range conns {
		r.Register(string(rune('a'+i)), c)
	}

	r.CloseAll()

	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d after CloseAll, want 0", got)
	}
	for i, c := range conns {
		if !c.isClosed() {
			t.Fatalf("conn %d not closed by CloseAll", i)
		}
	}
}

func TestReaperExpiresIdleSessions(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	conn := &fakeConn{}
	r.Register("u1", conn)

	var mu sync.Mutex
	var expired []string
	r.SetExpireHook(func(s *Session) {
		mu.Lock()
		expired = append(expired, s.UserID)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartReaper(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.ActiveCount() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0 after reaping", got)
	}
	if !conn.isClosed() {
		t.Fatalf("reaped connection was not closed")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != "u1" {
		t.Fatalf("expire hook saw %v, want [u1]", expired)
	}
}

func TestReaperDisabledWithoutIdleTimeout(t *testing.T) {
	r := NewRegistry(0)
	r.Register("u1", &fakeConn{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartReaper(ctx, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	if got := r.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1 with reaper disabled", got)
	}
}
