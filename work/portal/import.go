package portal

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"stalker-player/work/logger"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// Catalog holds the imported live TV listing in memory. Channel lookups by ID
// happen on the playback path, so channels live in a concurrent map while the
// genre list, which is only ever replaced wholesale, sits behind a mutex.
type Catalog struct {
	portal *Portal
	pool   *ants.Pool

	channels *xsync.MapOf[string, *Channel]

	mu     sync.RWMutex
	genres []Genre

	lastImport atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

// NewCatalog creates an empty catalog backed by the given portal client and
// worker pool.
func NewCatalog(portal *Portal, pool *ants.Pool) *Catalog {
	return &Catalog{
		portal:   portal,
		pool:     pool,
		channels: xsync.NewMapOf[string, *Channel](),
		stop:     make(chan struct{}),
	}
}

// Import fetches genres and the full channel list from the portal and
// replaces the in-memory catalog. The two fetches run concurrently on the
// worker pool. A failed channel fetch keeps the previous listing.
func (c *Catalog) Import(ctx context.Context) error {
	logger.Info("{portal/import - Import} Starting catalog import")
	start := time.Now()

	var wg sync.WaitGroup
	var genres []Genre
	var channels []Channel
	var genresErr, channelsErr error

	wg.Add(1)
	if err := c.pool.Submit(func() {
		defer wg.Done()
		genres, genresErr = c.portal.Genres(ctx)
	}); err != nil {
		wg.Done()
		genresErr = err
	}

	wg.Add(1)
	if err := c.pool.Submit(func() {
		defer wg.Done()
		channels, channelsErr = c.portal.Channels(ctx)
	}); err != nil {
		wg.Done()
		channelsErr = err
	}

	// warm the category caches alongside; failures here are non-fatal
	wg.Add(1)
	if err := c.pool.Submit(func() {
		defer wg.Done()
		if _, err := c.portal.VODCategories(ctx); err != nil {
			logger.Warn("{portal/import - Import} VOD category warm-up failed: %v", err)
		}
		if _, err := c.portal.SeriesCategories(ctx); err != nil {
			logger.Warn("{portal/import - Import} Series category warm-up failed: %v", err)
		}
	}); err != nil {
		wg.Done()
	}

	wg.Wait()

	if genresErr != nil {
		logger.Warn("{portal/import - Import} Genre fetch failed: %v", genresErr)
	} else {
		c.mu.Lock()
		c.genres = genres
		c.mu.Unlock()
	}

	if channelsErr != nil {
		logger.Error("{portal/import - Import} Channel fetch failed: %v", channelsErr)
		return channelsErr
	}

	// replace the channel map contents
	c.channels.Clear()
	for i := range channels {
		ch := channels[i]
		c.channels.Store(ch.ID, &ch)
	}
	c.lastImport.Store(time.Now().UnixNano())

	logger.Info("{portal/import - Import} Imported %d channels across %d genres in %v",
		len(channels), len(genres), time.Since(start).Round(time.Millisecond))
	return nil
}

// StartRefresh re-imports the catalog on the given interval until Stop is
// called. Runs in its own goroutine.
func (c *Catalog) StartRefresh(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				// drop cached catalog payloads past their TTL so the
				// re-import fetches fresh listings
				c.portal.cache.ClearIfNeeded()
				if err := c.Import(context.Background()); err != nil {
					logger.Warn("{portal/import - StartRefresh} Scheduled import failed: %v", err)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the refresh loop. Safe to call more than once.
func (c *Catalog) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// Channel returns the channel with the given ID, or nil.
func (c *Catalog) Channel(id string) *Channel {
	ch, _ := c.channels.Load(id)
	return ch
}

// Channels returns the full listing sorted by channel number, then name.
func (c *Catalog) Channels() []Channel {
	result := make([]Channel, 0, c.channels.Size())
	c.channels.Range(func(_ string, ch *Channel) bool {
		result = append(result, *ch)
		return true
	})

	sort.Slice(result, func(i, j int) bool {
		if result[i].Number != result[j].Number {
			return result[i].Number < result[j].Number
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// ChannelsByGenre returns the channels belonging to one genre, sorted the
// same way as Channels.
func (c *Catalog) ChannelsByGenre(genreID string) []Channel {
	result := make([]Channel, 0)
	c.channels.Range(func(_ string, ch *Channel) bool {
		if ch.TvGenreID == genreID {
			result = append(result, *ch)
		}
		return true
	})

	sort.Slice(result, func(i, j int) bool {
		if result[i].Number != result[j].Number {
			return result[i].Number < result[j].Number
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Genres returns a copy of the imported genre list.
func (c *Catalog) Genres() []Genre {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Genre, len(c.genres))
	copy(result, c.genres)
	return result
}

// LastImport reports when the catalog last imported successfully, zero time
// if never.
func (c *Catalog) LastImport() time.Time {
	ns := c.lastImport.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
