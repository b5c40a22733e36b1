package entry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheEntry(id, name string) *Entry {
	return New(KindAccount, id, "uid="+id+",dc=example,dc=com", name, nil)
}

func TestCache_PutAndGet(t *testing.T) {
	c := NewCache(10, time.Minute)
	e := cacheEntry("id-1", "a@example.com")
	c.Put(e)

	got, ok := c.GetByID("id-1")
	require.True(t, ok)
	assert.Same(t, e, got)

	got, ok = c.GetByName("a@example.com")
	require.True(t, ok)
	assert.Same(t, e, got)

	_, ok = c.GetByID("id-2")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestCache_RemoveClearsBothIndexes(t *testing.T) {
	c := NewCache(10, time.Minute)
	e := cacheEntry("id-1", "a@example.com")
	c.Put(e)
	c.Remove(e)

	_, ok := c.GetByID("id-1")
	assert.False(t, ok)
	_, ok = c.GetByName("a@example.com")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_TTLExpiry(t *testing.T) {
	c := NewCache(10, time.Minute)
	lru := c.(*lruCache)
	now := time.Now()
	lru.now = func() time.Time { return now }

	c.Put(cacheEntry("id-1", "a@example.com"))

	now = now.Add(30 * time.Second)
	_, ok := c.GetByID("id-1")
	assert.True(t, ok)

	now = now.Add(31 * time.Second)
	_, ok = c.GetByID("id-1")
	assert.False(t, ok)
	_, ok = c.GetByName("a@example.com")
	assert.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(3, time.Minute)
	for i := 1; i <= 3; i++ {
		c.Put(cacheEntry(fmt.Sprintf("id-%d", i), fmt.Sprintf("u%d@example.com", i)))
	}

	// Touch id-1 so id-2 becomes the eviction candidate.
	_, ok := c.GetByID("id-1")
	require.True(t, ok)

	c.Put(cacheEntry("id-4", "u4@example.com"))

	_, ok = c.GetByID("id-2")
	assert.False(t, ok)
	_, ok = c.GetByID("id-1")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestCache_PutDisplacesStaleMapping(t *testing.T) {
	c := NewCache(10, time.Minute)
	c.Put(cacheEntry("id-1", "old@example.com"))

	// Same id, renamed entry: the old name mapping must go away.
	c.Put(cacheEntry("id-1", "new@example.com"))

	_, ok := c.GetByName("old@example.com")
	assert.False(t, ok)
	got, ok := c.GetByName("new@example.com")
	require.True(t, ok)
	assert.Equal(t, "id-1", got.ID())
	assert.Equal(t, 1, c.Len())
}

func TestCache_Clear(t *testing.T) {
	c := NewCache(10, time.Minute)
	c.Put(cacheEntry("id-1", "a@example.com"))
	c.Put(cacheEntry("id-2", "b@example.com"))
	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.GetByID("id-1")
	assert.False(t, ok)
}

func TestNewCache_ZeroSizeIsNop(t *testing.T) {
	c := NewCache(0, time.Minute)
	c.Put(cacheEntry("id-1", "a@example.com"))
	_, ok := c.GetByID("id-1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.IsType(t, NopCache{}, c)
}
