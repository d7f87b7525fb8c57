// Package ratelimit keeps one token bucket per caller key. Idle keys are
// evicted after a TTL so the store stays bounded no matter how many distinct
// clients show up.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/levenlabs/go-lflag"
	"golang.org/x/time/rate"
)

// Config describes a limiter: one token every Interval, up to Burst at once.
type Config struct {
	Interval time.Duration
	Burst    int
	// MaxKeys bounds how many keys are tracked at once. The least recently
	// seen key is evicted first.
	MaxKeys int
	// TTL is how long an idle key is remembered.
	TTL time.Duration
}

// Store is a keyed set of token buckets.
type Store struct {
	cfg Config

	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
}

// New returns a Store for cfg. A zero Interval disables limiting.
func New(cfg Config) *Store {
	s := &Store{}
	s.setup(cfg)
	return s
}

func (s *Store) setup(cfg Config) {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	if cfg.TTL <= 0 {
		// long enough for an empty bucket to refill
		cfg.TTL = cfg.Interval * time.Duration(cfg.Burst+1)
		if cfg.TTL < time.Minute {
			cfg.TTL = time.Minute
		}
	}
	s.cfg = cfg
	s.limiters = expirable.NewLRU[string, *rate.Limiter](cfg.MaxKeys, nil, cfg.TTL)
}

// Configured registers flags prefixed with name and returns the Store they
// describe, seeded with defaults.
func Configured(name string, defaults Config) *Store {
	interval := lflag.Duration(name+"-rate-interval", defaults.Interval, fmt.Sprintf("Time to earn one %s request token per client (0 disables limiting)", name))
	burst := defaults.Burst
	lflag.JSON(&burst, name+"-rate-burst", burst, fmt.Sprintf("Number of %s requests a client can make at once", name))

	s := &Store{}
	lflag.Do(func() {
		cfg := defaults
		cfg.Interval = *interval
		cfg.Burst = burst
		if cfg.Burst < 1 {
			panic(fmt.Sprintf("%s-rate-burst must be at least 1", name))
		}
		s.setup(cfg)
	})
	return s
}

// Allow reports whether key may make a request now and consumes a token if so.
func (s *Store) Allow(key string) bool {
	return s.AllowAt(key, time.Now())
}

// AllowAt is Allow at a given instant.
func (s *Store) AllowAt(key string, now time.Time) bool {
	if s.cfg.Interval <= 0 {
		return true
	}
	return s.limiter(key).AllowN(now, 1)
}

// Len returns the number of keys currently tracked.
func (s *Store) Len() int {
	return s.limiters.Len()
}

func (s *Store) limiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters.Get(key)
	if !ok {
		l = rate.NewLimiter(rate.Every(s.cfg.Interval), s.cfg.Burst)
	}
	// re-adding refreshes the expiry so active keys are never evicted
	s.limiters.Add(key, l)
	return l
}
