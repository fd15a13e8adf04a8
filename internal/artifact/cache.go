// Package artifact caches rendered avatar video URLs keyed by the exact
// response content that produced them, so repeated prompts skip the
// synthesis and render stages entirely.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	// ErrNotFound means no artifact is cached under the key.
	ErrNotFound = errors.New("artifact: not found")
	// ErrNotConfigured marks a cache that has no external backend to probe.
	ErrNotConfigured = errors.New("artifact: cache not configured")
)

// Cache stores rendered video URLs by content key.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, videoURL string) error
	// Ping reports backend reachability. Caches without an external backend
	// return ErrNotConfigured.
	Ping(ctx context.Context) error
	Close() error
}

// Key derives the cache key for a rendered response. Identical text spoken
// by the same voice through the same avatar style always maps to the same
// key.
func Key(text, voice, avatarType string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(avatarType))
	return hex.EncodeToString(h.Sum(nil))
}
