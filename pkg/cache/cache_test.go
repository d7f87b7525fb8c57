package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	c := New(10, time.Hour)
	now := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("today", []byte(`{"a":1}`), "application/json", time.Minute)
	c.Set("past", []byte(`{"b":2}`), "application/json", 2*time.Hour)
	c.Set("ignored", []byte(`{}`), "application/json", 0)

	e, ok := c.Get("today")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(e.Body))
	assert.Equal(t, "application/json", e.ContentType)

	_, ok = c.Get("ignored")
	assert.False(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get("today")
	assert.False(t, ok, "expires exactly at its ttl")

	e, ok = c.Get("past")
	require.True(t, ok)
	assert.Equal(t, now.Add(-time.Minute).Add(time.Hour), e.ExpiresAt, "ttl capped at max")
}

func TestCacheBounded(t *testing.T) {
	c := New(3, time.Hour)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprint(i), []byte("x"), "text/plain", time.Minute)
	}
	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("0")
	assert.False(t, ok)
	_, ok = c.Get("9")
	assert.True(t, ok)
}
