// Package keys caches the per-sphere encryption keys needed for radio commands.
package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/sphere-bridge/internal/cloud"
)

// ErrKeyFetch is returned when the keys of a sphere cannot be fetched.
var ErrKeyFetch = errors.New("keys: fetch failed")

// KeySet holds the three key tiers of a sphere.
type KeySet struct {
	Admin  string
	Member string
	Basic  string
}

// Complete reports whether all three keys are present.
func (k KeySet) Complete() bool {
	return k.Admin != "" && k.Member != "" && k.Basic != ""
}

// Logger defines the logging interface used by the Cache.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Cache fetches and keeps KeySets by sphere id.
//
// Concurrent callers for the same sphere share one remote call. Complete
// sets are kept for the process lifetime; incomplete sets are re-fetched.
type Cache struct {
	cloud cloud.Client
	group singleflight.Group

	mu   sync.RWMutex
	sets map[string]KeySet

	logger Logger
}

// NewCache creates an empty key cache.
func NewCache(client cloud.Client) *Cache {
	return &Cache{
		cloud:  client,
		sets:   make(map[string]KeySet),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	c.logger = logger
}

// Ensure returns the keys of a sphere, fetching them unless a complete set
// is cached. On failure it returns whatever is cached (possibly empty)
// together with an error wrapping ErrKeyFetch.
func (c *Cache) Ensure(ctx context.Context, sphereID string) (KeySet, error) {
	if set, ok := c.cached(sphereID); ok && set.Complete() {
		return set, nil
	}

	v, err, shared := c.group.Do(sphereID, func() (any, error) {
		// A caller that just finished may have completed the set.
		if set, ok := c.cached(sphereID); ok && set.Complete() {
			return set, nil
		}

		keys, err := c.cloud.Keys(ctx, sphereID)
		if err != nil {
			return nil, fmt.Errorf("%w: sphere %s: %w", ErrKeyFetch, sphereID, err)
		}

		set := partition(keys)
		c.mu.Lock()
		c.sets[sphereID] = set
		c.mu.Unlock()

		if !set.Complete() {
			c.logger.Warn("incomplete key set", "sphere_id", sphereID)
		}
		return set, nil
	})
	if err != nil {
		c.logger.Warn("key fetch failed", "sphere_id", sphereID, "error", err)
		set, _ := c.cached(sphereID)
		return set, err
	}

	c.logger.Debug("keys ensured", "sphere_id", sphereID, "shared", shared)
	return v.(KeySet), nil
}

func (c *Cache) cached(sphereID string) (KeySet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.sets[sphereID]
	return set, ok
}

func partition(keys []cloud.SphereKey) KeySet {
	var set KeySet
	for _, k := range keys {
		switch k.KeyType {
		case cloud.KeyTypeAdmin:
			set.Admin = k.Key
		case cloud.KeyTypeMember:
			set.Member = k.Key
		case cloud.KeyTypeBasic:
			set.Basic = k.Key
		}
	}
	return set
}
