package dataloader

import (
	"strings"
	"testing"
)

func TestCacheManager(t *testing.T) {
	cm, err := NewCacheManager(2)
	if err != nil {
		t.Fatalf("NewCacheManager failed: %v", err)
	}

	if _, ok := cm.Get("a"); ok {
		t.Error("Expected miss on empty cache")
	}
	cm.Put("a", []float64{1})
	cm.Put("b", []float64{2})
	if data, ok := cm.Get("a"); !ok || data[0] != 1 {
		t.Errorf("Expected hit for a, got %v (%v)", data, ok)
	}

	// b is now the least recently used entry
	cm.Put("c", []float64{3})
	if _, ok := cm.Get("b"); ok {
		t.Error("Expected b to be evicted")
	}
	if cm.Len() != 2 {
		t.Errorf("Expected 2 items, got %d", cm.Len())
	}

	stats := cm.Stats()
	if stats.Hits != 1 || stats.Misses != 2 || stats.MaxSize != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if !strings.Contains(stats.String(), "2/2 items") {
		t.Errorf("Unexpected stats string %q", stats.String())
	}

	cm.Clear()
	if cm.Len() != 0 {
		t.Error("Expected empty cache after Clear")
	}
	if cm.Stats().Hits != 1 {
		t.Error("Expected statistics to survive Clear")
	}
	cm.ResetStats()
	if s := cm.Stats(); s.Hits != 0 || s.Misses != 0 || s.HitRate != 0 {
		t.Errorf("Expected zeroed statistics, got %+v", s)
	}
}

func TestCacheManagerInvalidSize(t *testing.T) {
	if _, err := NewCacheManager(0); err == nil {
		t.Error("Expected error for zero size cache")
	}
}
