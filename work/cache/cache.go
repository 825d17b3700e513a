package cache

import (
	"sync"
	"time"
)

// Cache provides a thread-safe in-memory cache with time-based expiration for
// portal catalog payloads (channel lists, genres, VOD/series categories).
// Catalog responses are large and the portal rate-limits aggressive pollers,
// so repeated UI loads are served from here within the TTL.
type Cache struct {
	catalog   map[string]cacheEntry // Cached catalog payloads keyed by portal action
	mu        sync.RWMutex          // Read-write mutex for concurrent safe access
	duration  time.Duration         // Expiration duration for each cache entry
	lastClear time.Time             // Timestamp when the cache was last fully cleared
}

// cacheEntry represents a single cached item with its payload and creation
// timestamp.
type cacheEntry struct {
	data      []byte    // Raw JSON payload as returned by the portal
	timestamp time.Time // When this entry was inserted into the cache
}

// NewCache creates and returns a new Cache instance with the specified
// expiration duration, ready for immediate use.
func NewCache(duration time.Duration) *Cache {
	return &Cache{
		catalog:   make(map[string]cacheEntry),
		duration:  duration,
		lastClear: time.Now(),
	}
}

// Get retrieves a catalog payload from the cache by key.
//
// Behavior:
//   - If the key exists and the entry has not expired, returns the cached
//     payload and true.
//   - If the key is missing, returns nil and false.
//   - If the key has expired, the entry is dropped and nil and false are
//     returned. Keys carry page and search parameters, so without eviction
//     on access the store would grow with every distinct listing request.
func (c *Cache) Get(key string) ([]byte, bool) {

	// acquire read lock for safe concurrent access
	c.mu.RLock()
	entry, exists := c.catalog[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	// Validate expiration and evict stale entries
	if time.Since(entry.timestamp) > c.duration {
		c.Invalidate(key)
		return nil, false
	}

	return entry.data, true
}

// Set stores a catalog payload in the cache with the specified key. The entry
// is stamped with the current time for expiration tracking.
func (c *Cache) Set(key string, value []byte) {

	// acquire write lock for mutation and ensure it's released
	c.mu.Lock()
	defer c.mu.Unlock()

	c.catalog[key] = cacheEntry{
		data:      value,
		timestamp: time.Now(),
	}
}

// Invalidate removes a single entry, whether expired or still live.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.catalog, key)
}

// ClearIfNeeded performs periodic cache clearance if the configured duration
// has elapsed since the last clearance. This completely clears the store and
// resets the last clearance timestamp.
func (c *Cache) ClearIfNeeded() {

	// acquire write lock since we are resetting state and release it
	c.mu.Lock()
	defer c.mu.Unlock()

	// If enough time has passed since last clear, reset the cache
	if time.Since(c.lastClear) > c.duration {
		c.catalog = make(map[string]cacheEntry)
		c.lastClear = time.Now()
	}
}
