// Package cache stores computed analysis responses keyed by a content hash of
// the input plus the operation's variant parameters. The primary store is an
// in-process map with TTL; a Redis backing is used instead when configured and
// reachable at startup.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/constructsafe/constructsafe/internal/utils"
)

// Store is the capability interface selected once at startup.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Key derives the deterministic cache key for an analysis request.
func Key(image []byte, mode string, includeLaws bool) string {
	h := sha256.Sum256(image)
	laws := 0
	if includeLaws {
		laws = 1
	}
	return fmt.Sprintf("analyze:%s:%d:%s", mode, laws, hex.EncodeToString(h[:]))
}

// Select picks the backing store. An empty redisURL, or any failure reaching
// Redis, falls back permanently to the in-process map for this process.
func Select(redisURL string) Store {
	if redisURL == "" {
		return NewMemory()
	}
	r, err := NewRedis(redisURL)
	if err != nil {
		utils.Log.Warnf("redis cache unavailable, using in-memory cache: %v", err)
		return NewMemory()
	}
	utils.Log.Debug("response cache backed by redis")
	return r
}
