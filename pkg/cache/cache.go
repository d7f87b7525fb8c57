// Package cache holds rendered API responses for a short time so repeated
// dashboard polls do not each hit Home Assistant.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/levenlabs/go-lflag"

	"github.com/lightearth/lightearth-proxy/pkg/metrics"
)

// Entry is a cached response body.
type Entry struct {
	Body        []byte
	ContentType string
	ExpiresAt   time.Time
}

// Cache is a size-bounded response cache where every entry carries its own
// expiry. MaxTTL caps how long anything is kept regardless of what Set asks.
type Cache struct {
	entries *expirable.LRU[string, Entry]
	maxTTL  time.Duration
	now     func() time.Time
}

// New returns a cache holding up to size entries.
func New(size int, maxTTL time.Duration) *Cache {
	c := &Cache{}
	c.setup(size, maxTTL)
	return c
}

func (c *Cache) setup(size int, maxTTL time.Duration) {
	if size <= 0 {
		size = 1024
	}
	if maxTTL <= 0 {
		maxTTL = time.Hour
	}
	c.entries = expirable.NewLRU[string, Entry](size, nil, maxTTL)
	c.maxTTL = maxTTL
	c.now = time.Now
}

// Configured registers the cache flags.
func Configured() *Cache {
	size := 1024
	lflag.JSON(&size, "response-cache-size", size, "Number of API responses to keep cached")
	maxTTL := lflag.Duration("response-cache-max-ttl", time.Hour, "Longest time any API response is cached")

	c := &Cache{}
	lflag.Do(func() {
		c.setup(size, *maxTTL)
	})
	return c
}

// Get returns the entry for key if it has not expired.
func (c *Cache) Get(key string) (Entry, bool) {
	e, ok := c.entries.Get(key)
	if ok && !c.now().Before(e.ExpiresAt) {
		c.entries.Remove(key)
		ok = false
	}
	metrics.CacheLookup(ok)
	if !ok {
		return Entry{}, false
	}
	return e, true
}

// Set stores body under key for ttl. A non-positive ttl is a no-op.
func (c *Cache) Set(key string, body []byte, contentType string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	c.entries.Add(key, Entry{
		Body:        body,
		ContentType: contentType,
		ExpiresAt:   c.now().Add(ttl),
	})
}

// Len returns the number of stored entries, including ones that expired but
// were not yet purged.
func (c *Cache) Len() int {
	return c.entries.Len()
}
