package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryCount(c *Cache) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.catalog)
}

func TestGetReturnsFreshEntry(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("genres", []byte(`[{"id":"1"}]`))

	data, found := c.Get("genres")
	require.True(t, found)
	assert.Equal(t, []byte(`[{"id":"1"}]`), data)
}

func TestGetEvictsExpiredEntries(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("listing?p=%d", i), []byte("payload"))
	}
	require.Equal(t, 50, entryCount(c))

	time.Sleep(25 * time.Millisecond)

	for i := 0; i < 50; i++ {
		_, found := c.Get(fmt.Sprintf("listing?p=%d", i))
		assert.False(t, found)
	}
	assert.Zero(t, entryCount(c), "expired entries must not linger after access")
}

func TestInvalidateRemovesSingleEntry(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	c.Invalidate("a")

	_, found := c.Get("a")
	assert.False(t, found)
	_, found = c.Get("b")
	assert.True(t, found)
}

func TestClearIfNeededDropsStaleStore(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	c.ClearIfNeeded()
	assert.Equal(t, 2, entryCount(c), "nothing cleared inside the TTL window")

	time.Sleep(25 * time.Millisecond)

	c.ClearIfNeeded()
	assert.Zero(t, entryCount(c))
}
