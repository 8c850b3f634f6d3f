// Package cache keeps recently resolved streams so replaying the same
// content skips provider fetches.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/mo"

	"cinefetch/internal/media"
)

const (
	// DefaultTTL is how long a resolved stream stays playable.
	DefaultTTL = 2 * time.Hour

	// DefaultSize caps the number of entries kept.
	DefaultSize = 512
)

// Key identifies one resolved stream.
type Key struct {
	TMDBID     string
	Type       media.MediaType
	ProviderID string
	Season     int
	Episode    int
}

// KeyFor builds the key for a media item resolved by a provider.
func KeyFor(m media.MediaDescriptor, providerID string) Key {
	return Key{
		TMDBID:     m.TMDBID,
		Type:       m.Type,
		ProviderID: providerID,
		Season:     m.SeasonNumber(),
		Episode:    m.EpisodeNumber(),
	}
}

func (k Key) String() string {
	if k.Type == media.Show {
		return fmt.Sprintf("%s:%s:%s:%d:%d", k.Type, k.TMDBID, k.ProviderID, k.Season, k.Episode)
	}
	return fmt.Sprintf("%s:%s:%s", k.Type, k.TMDBID, k.ProviderID)
}

// Entry is a cached stream and when it was stored.
type Entry struct {
	Data      media.CanonicalStream
	CreatedAt time.Time
}

// Cache is a TTL-bounded, count-capped stream cache. Expiry is checked on
// read only; there is no background sweeper.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[Key, Entry]
	ttl time.Duration
	now func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache. Non-positive ttl or size use the defaults.
func New(ttl time.Duration, size int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New[Key, Entry](size)
	if err != nil {
		// only fails for a non-positive size, ruled out above
		panic(err)
	}
	c := &Cache{lru: l, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the stream for key unless it is absent or older
// than the TTL. Expired entries are removed by the read.
func (c *Cache) Get(key Key) (media.CanonicalStream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		return media.CanonicalStream{}, false
	}
	if c.now().Sub(e.CreatedAt) > c.ttl {
		c.lru.Remove(key)
		return media.CanonicalStream{}, false
	}
	return e.Data.Clone(), true
}

// Lookup is Get as an option value.
func (c *Cache) Lookup(key Key) mo.Option[media.CanonicalStream] {
	if s, ok := c.Get(key); ok {
		return mo.Some(s)
	}
	return mo.None[media.CanonicalStream]()
}

// Set stores a copy of stream under key, replacing any previous entry.
func (c *Cache) Set(key Key, stream media.CanonicalStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, Entry{Data: stream.Clone(), CreatedAt: c.now()})
}

// ClearOne evicts a single key.
func (c *Cache) ClearOne(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Clear evicts everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
