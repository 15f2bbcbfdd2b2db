package kit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
)

type countingLister struct {
	calls int32
	tags  []models.Tag
	err   error
	gate  chan struct{}
}

func (l *countingLister) ListTags(ctx context.Context) ([]models.Tag, error) {
	atomic.AddInt32(&l.calls, 1)
	if l.gate != nil {
		<-l.gate
	}
	return l.tags, l.err
}

func TestTagCacheServesFromCacheUntilExpiry(t *testing.T) {
	cache := NewTagCache(time.Minute)
	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return current }

	lister := &countingLister{tags: []models.Tag{{ID: 1, Name: "Gold"}}}

	for i := 0; i < 3; i++ {
		tags, err := cache.Get(context.Background(), "k", lister)
		require.NoError(t, err)
		assert.Len(t, tags, 1)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&lister.calls))

	current = current.Add(2 * time.Minute)
	_, err := cache.Get(context.Background(), "k", lister)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&lister.calls))
}

func TestTagCacheRefreshForcesReload(t *testing.T) {
	cache := NewTagCache(time.Hour)
	lister := &countingLister{tags: []models.Tag{{ID: 1}}}

	_, err := cache.Get(context.Background(), "k", lister)
	require.NoError(t, err)
	_, err = cache.Refresh(context.Background(), "k", lister)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&lister.calls))
}

func TestTagCacheDoesNotCacheErrors(t *testing.T) {
	cache := NewTagCache(time.Hour)
	lister := &countingLister{err: errors.New("boom")}

	_, err := cache.Get(context.Background(), "k", lister)
	require.Error(t, err)
	_, err = cache.Get(context.Background(), "k", lister)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&lister.calls))
}

func TestTagCacheCoalescesConcurrentMisses(t *testing.T) {
	cache := NewTagCache(time.Hour)
	lister := &countingLister{tags: []models.Tag{{ID: 1}}, gate: make(chan struct{})}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.Get(context.Background(), "k", lister)
		}()
	}
	// Let the goroutines pile up on the in-flight load before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(lister.gate)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&lister.calls))
	tags, err := cache.Get(context.Background(), "k", lister)
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}

func TestCacheKeyDependsOnCredentials(t *testing.T) {
	a := CacheKey(models.Credentials{APIKey: "one"})
	b := CacheKey(models.Credentials{APIKey: "two"})
	c := CacheKey(models.Credentials{APIKey: "one"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}
