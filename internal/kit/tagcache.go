package kit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
)

const (
	defaultTagCacheSize = 16
	defaultTagCacheTTL  = 5 * time.Minute
)

// TagLister is the subset of Client the tag cache needs.
type TagLister interface {
	ListTags(ctx context.Context) ([]models.Tag, error)
}

type tagEntry struct {
	tags     []models.Tag
	storedAt time.Time
}

// TagCache keeps the account tag list for the settings screen. Concurrent
// misses for the same key share one ListTags call.
type TagCache struct {
	cache *lru.Cache[string, tagEntry]
	ttl   time.Duration
	group singleflight.Group

	mu  sync.Mutex
	now func() time.Time
}

// NewTagCache creates a cache whose entries expire after ttl.
func NewTagCache(ttl time.Duration) *TagCache {
	if ttl <= 0 {
		ttl = defaultTagCacheTTL
	}
	cache, err := lru.New[string, tagEntry](defaultTagCacheSize)
	if err != nil {
		// lru.New only errors on non-positive size.
		panic(err)
	}
	return &TagCache{cache: cache, ttl: ttl, now: time.Now}
}

// CacheKey derives a cache key from a credential set so that switching
// accounts never serves another account's tags.
func CacheKey(creds models.Credentials) string {
	var secret string
	switch creds.Scheme() {
	case models.SchemeOAuth:
		secret = creds.OAuth.RefreshToken
	case models.SchemeAPIKey:
		secret = creds.APIKey
	}
	sum := sha256.Sum256([]byte(string(creds.Scheme()) + ":" + secret))
	return hex.EncodeToString(sum[:8])
}

// Get returns cached tags for key, loading them through lister on a miss or
// after expiry.
func (c *TagCache) Get(ctx context.Context, key string, lister TagLister) ([]models.Tag, error) {
	if entry, ok := c.cache.Get(key); ok {
		if c.clock().Sub(entry.storedAt) < c.ttl {
			return entry.tags, nil
		}
		c.cache.Remove(key)
	}
	return c.load(ctx, key, lister)
}

// Refresh discards any cached entry for key and reloads it.
func (c *TagCache) Refresh(ctx context.Context, key string, lister TagLister) ([]models.Tag, error) {
	c.cache.Remove(key)
	return c.load(ctx, key, lister)
}

// Invalidate drops the entry for key.
func (c *TagCache) Invalidate(key string) {
	c.cache.Remove(key)
}

func (c *TagCache) load(ctx context.Context, key string, lister TagLister) ([]models.Tag, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		tags, err := lister.ListTags(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, tagEntry{tags: tags, storedAt: c.clock()})
		return tags, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Tag), nil
}

func (c *TagCache) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}
