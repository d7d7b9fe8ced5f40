package dataloader

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/tsawler/go-uncertainty/vision/preprocessing"
)

// MockDataset implements the Dataset interface for testing
type MockDataset struct {
	paths  []string
	labels []int
}

func (md *MockDataset) Len() int {
	return len(md.paths)
}

func (md *MockDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(md.paths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(md.paths))
	}
	return md.paths[index], md.labels[index], nil
}

// newImageDataset writes n solid gray PNGs whose shade encodes their index
func newImageDataset(t *testing.T, n int) *MockDataset {
	t.Helper()
	dir := t.TempDir()
	ds := &MockDataset{}
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("image_%d.png", i))
		shade := uint8(i * 10)
		img := image.NewRGBA(image.Rect(0, 0, 6, 6))
		for y := 0; y < 6; y++ {
			for x := 0; x < 6; x++ {
				img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
			}
		}
		f, err := os.Create(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatal(err)
		}
		f.Close()
		ds.paths = append(ds.paths, path)
		ds.labels = append(ds.labels, i%3)
	}
	return ds
}

func testConfig() Config {
	return Config{
		BatchSize:  4,
		Transform:  preprocessing.Transform{Size: 4},
		NumWorkers: 2,
	}
}

// shadeIndex recovers the image index from the first pixel of sample i
func shadeIndex(batch *Batch, i int) int {
	data := batch.Images.Data().([]float64)
	per := 3 * 4 * 4
	return int(math.Round(data[i*per] * 255 / 10))
}

func TestNewDataLoaderValidation(t *testing.T) {
	ds := newImageDataset(t, 1)
	cfg := testConfig()
	cfg.BatchSize = 0
	if _, err := NewDataLoader(ds, cfg); err == nil {
		t.Error("Expected error for zero batch size")
	}
	cfg = testConfig()
	cfg.Transform.Size = 0
	if _, err := NewDataLoader(ds, cfg); err == nil {
		t.Error("Expected error for zero image size")
	}
	if _, err := NewDataLoader(nil, testConfig()); err == nil {
		t.Error("Expected error for nil dataset")
	}
}

func TestNextBatch(t *testing.T) {
	ds := newImageDataset(t, 10)
	dl, err := NewDataLoader(ds, testConfig())
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	if dl.Len() != 10 || dl.NumBatches() != 3 {
		t.Errorf("Expected 10 samples in 3 batches, got %d in %d", dl.Len(), dl.NumBatches())
	}

	var sizes []int
	seen := 0
	for {
		batch, err := dl.NextBatch()
		if err != nil {
			t.Fatalf("NextBatch failed: %v", err)
		}
		if batch == nil {
			break
		}
		shape := batch.Images.Shape()
		if shape[0] != batch.Size() || shape[1] != 3 || shape[2] != 4 || shape[3] != 4 {
			t.Errorf("Unexpected batch shape %v", shape)
		}
		for i := 0; i < batch.Size(); i++ {
			// without shuffling samples come in dataset order
			if got := shadeIndex(batch, i); got != seen {
				t.Errorf("Expected image %d, got %d", seen, got)
			}
			if batch.Labels[i] != seen%3 {
				t.Errorf("Expected label %d, got %d", seen%3, batch.Labels[i])
			}
			seen++
		}
		sizes = append(sizes, batch.Size())
	}
	if fmt.Sprint(sizes) != "[4 4 2]" {
		t.Errorf("Expected batch sizes [4 4 2], got %v", sizes)
	}

	if current, total := dl.Progress(); current != 10 || total != 10 {
		t.Errorf("Expected progress 10/10, got %d/%d", current, total)
	}

	// the second pass is served from the cache
	dl.Reset()
	if _, err := dl.NextBatch(); err != nil {
		t.Fatal(err)
	}
	if stats := dl.GetCacheManager().Stats(); stats.Hits != 4 {
		t.Errorf("Expected 4 cache hits, got %+v", stats)
	}
}

func TestNextBatchShuffle(t *testing.T) {
	ds := newImageDataset(t, 8)
	cfg := testConfig()
	cfg.BatchSize = 8
	cfg.Shuffle = true
	cfg.Seed = 3

	order := func() []int {
		dl, err := NewDataLoader(ds, cfg)
		if err != nil {
			t.Fatal(err)
		}
		batch, err := dl.NextBatch()
		if err != nil {
			t.Fatal(err)
		}
		out := make([]int, batch.Size())
		for i := range out {
			out[i] = shadeIndex(batch, i)
		}
		return out
	}

	first, second := order(), order()
	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Errorf("Expected the same seed to give the same order: %v vs %v", first, second)
	}
	sorted := append([]int(nil), first...)
	sort.Ints(sorted)
	if fmt.Sprint(sorted) != "[0 1 2 3 4 5 6 7]" {
		t.Errorf("Expected a permutation of all samples, got %v", first)
	}
}

func TestNextBatchError(t *testing.T) {
	ds := newImageDataset(t, 3)
	ds.paths[1] = filepath.Join(t.TempDir(), "missing.png")

	dl, err := NewDataLoader(ds, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if batch, err := dl.NextBatch(); err == nil {
		t.Errorf("Expected error for missing image, got batch of %d", batch.Size())
	}
}

func TestCreateSharedDataLoaders(t *testing.T) {
	a, b := newImageDataset(t, 3), newImageDataset(t, 2)
	loaders, err := CreateSharedDataLoaders(testConfig(), a, b)
	if err != nil {
		t.Fatalf("CreateSharedDataLoaders failed: %v", err)
	}
	if len(loaders) != 2 {
		t.Fatalf("Expected 2 loaders, got %d", len(loaders))
	}
	if loaders[0].GetCacheManager() != loaders[1].GetCacheManager() {
		t.Error("Expected loaders to share a cache")
	}
	if loaders[0].GetCacheManager().Stats().MaxSize != 5 {
		t.Errorf("Expected cache sized to both datasets, got %d", loaders[0].GetCacheManager().Stats().MaxSize)
	}
	for _, dl := range loaders {
		if _, err := dl.NextBatch(); err != nil {
			t.Fatal(err)
		}
	}
	if n := loaders[0].GetCacheManager().Len(); n != 5 {
		t.Errorf("Expected 5 cached images, got %d", n)
	}
	// shared caches are left alone
	loaders[0].ClearCache()
	if n := loaders[1].GetCacheManager().Len(); n != 5 {
		t.Errorf("Expected shared cache to survive ClearCache, got %d", n)
	}
}
