package conflict

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c0deZ3R0/collab-kit/logging"
)

// versionCache is a process-local read-through cache over the version store,
// keyed "page:contentKey". Entries are invalidated only by Clear, never by
// TTL: callers must treat it as a performance hint, not a staleness
// guarantee. Lookup failures are swallowed and reported as "no version",
// which downstream reads as new content.
type versionCache struct {
	store  VersionStore
	logger *logging.Logger

	mu      sync.Mutex
	entries map[string]*VersionInfo
}

func newVersionCache(store VersionStore, logger *logging.Logger) *versionCache {
	return &versionCache{
		store:   store,
		logger:  logger,
		entries: make(map[string]*VersionInfo),
	}
}

func cacheKey(pageName, contentKey string) string {
	return pageName + ":" + contentKey
}

func (c *versionCache) Get(ctx context.Context, pageName, contentKey string) *VersionInfo {
	key := cacheKey(pageName, contentKey)

	c.mu.Lock()
	if info, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return info
	}
	c.mu.Unlock()

	info, err := c.store.GetVersion(ctx, pageName, contentKey)
	if err != nil {
		c.logger.LogError(ctx, err, "version lookup failed, treating as new content",
			slog.String("page", pageName),
			slog.String("content_key", contentKey),
		)
		return nil
	}
	if info == nil {
		return nil
	}

	c.mu.Lock()
	c.entries[key] = info
	c.mu.Unlock()
	return info
}

func (c *versionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*VersionInfo)
}
