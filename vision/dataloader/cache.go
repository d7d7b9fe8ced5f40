package dataloader

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheManager is a size bounded LRU cache of preprocessed images keyed by
// path. Cached slices must not be modified by callers.
type CacheManager struct {
	cache   *lru.Cache[string, []float64]
	maxSize int

	// Statistics
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCacheManager creates a new cache manager holding at most maxSize images
func NewCacheManager(maxSize int) (*CacheManager, error) {
	cache, err := lru.New[string, []float64](maxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}
	return &CacheManager{cache: cache, maxSize: maxSize}, nil
}

// Get retrieves an item from the cache
func (cm *CacheManager) Get(key string) ([]float64, bool) {
	data, ok := cm.cache.Get(key)
	if ok {
		cm.hits.Add(1)
	} else {
		cm.misses.Add(1)
	}
	return data, ok
}

// Put adds an item to the cache, evicting the least recently used one when full
func (cm *CacheManager) Put(key string, data []float64) {
	cm.cache.Add(key, data)
}

// Len returns the number of cached items
func (cm *CacheManager) Len() int {
	return cm.cache.Len()
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	hits, misses := cm.hits.Load(), cm.misses.Load()
	stats := CacheStats{
		Size:    cm.cache.Len(),
		MaxSize: cm.maxSize,
		Hits:    hits,
		Misses:  misses,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total) * 100
	}
	return stats
}

// Clear empties the cache; statistics stay cumulative
func (cm *CacheManager) Clear() {
	cm.cache.Purge()
}

// ResetStats resets the statistics
func (cm *CacheManager) ResetStats() {
	cm.hits.Store(0)
	cm.misses.Store(0)
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
