package dataloader

import (
	"fmt"
	"math/rand"
	"sync"

	"gorgonia.org/tensor"

	"github.com/tsawler/go-uncertainty/vision/preprocessing"
)

// Dataset interface defines the contract for datasets
type Dataset interface {
	Len() int
	GetItem(index int) (imagePath string, label int, err error)
}

// Batch is a group of preprocessed images and their labels
type Batch struct {
	Images *tensor.Dense // (N, 3, S, S)
	Labels []int
	Paths  []string
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int {
	return len(b.Labels)
}

// DataLoader iterates a dataset in batches, preprocessing images with a
// bounded worker pool and caching the results
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	numWorkers int
	transform  preprocessing.Transform
	rng        *rand.Rand
	indices    []int
	position   int
	mu         sync.Mutex

	// Cache manager - can be shared between DataLoaders
	cacheManager *CacheManager
	ownedCache   bool
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize    int
	Shuffle      bool
	Seed         int64 // Shuffle seed
	MaxCacheSize int   // Maximum number of images to cache, 0 for the default
	Transform    preprocessing.Transform
	NumWorkers   int           // Number of parallel workers for preprocessing
	CacheManager *CacheManager // Optional shared cache manager
}

// DefaultCacheSize is the number of images cached when Config.MaxCacheSize is 0
const DefaultCacheSize = 1000

// NewDataLoader creates a new data loader
func NewDataLoader(dataset Dataset, config Config) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset is required")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.Transform.Size <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", config.Transform.Size)
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}

	cacheManager := config.CacheManager
	ownedCache := false
	if cacheManager == nil {
		size := config.MaxCacheSize
		if size == 0 {
			size = DefaultCacheSize
		}
		var err error
		if cacheManager, err = NewCacheManager(size); err != nil {
			return nil, err
		}
		ownedCache = true
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset:      dataset,
		batchSize:    config.BatchSize,
		shuffle:      config.Shuffle,
		numWorkers:   config.NumWorkers,
		transform:    config.Transform,
		rng:          rand.New(rand.NewSource(config.Seed)),
		indices:      indices,
		cacheManager: cacheManager,
		ownedCache:   ownedCache,
	}
	dl.shuffleIndices()
	return dl, nil
}

func (dl *DataLoader) shuffleIndices() {
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Reset rewinds the data loader to the beginning, reshuffling if enabled
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	dl.shuffleIndices()
}

// Len returns the number of samples in the dataset
func (dl *DataLoader) Len() int {
	return len(dl.indices)
}

// NumBatches returns the number of batches per pass
func (dl *DataLoader) NumBatches() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// BatchSize returns the configured batch size
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// NextBatch loads the next batch of images. It returns a nil batch once the
// dataset is exhausted. Any item or image failure aborts the batch.
func (dl *DataLoader) NextBatch() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, nil
	}
	batchSize := min(dl.batchSize, remaining)

	paths := make([]string, batchSize)
	labels := make([]int, batchSize)
	for i := 0; i < batchSize; i++ {
		path, label, err := dl.dataset.GetItem(dl.indices[dl.position+i])
		if err != nil {
			return nil, fmt.Errorf("failed to get item %d: %w", dl.indices[dl.position+i], err)
		}
		paths[i], labels[i] = path, label
	}
	dl.position += batchSize

	images, err := dl.loadImages(paths)
	if err != nil {
		return nil, err
	}

	pixelsPerImage := dl.transform.Numel()
	data := make([]float64, batchSize*pixelsPerImage)
	for i, img := range images {
		copy(data[i*pixelsPerImage:(i+1)*pixelsPerImage], img)
	}

	size := dl.transform.Size
	return &Batch{
		Images: tensor.New(
			tensor.WithShape(batchSize, preprocessing.Channels, size, size),
			tensor.WithBacking(data),
		),
		Labels: labels,
		Paths:  paths,
	}, nil
}

// loadImages returns the preprocessed images for paths, decoding cache misses
// concurrently
func (dl *DataLoader) loadImages(paths []string) ([][]float64, error) {
	images := make([][]float64, len(paths))
	var missing []string
	var missingIdx []int
	for i, path := range paths {
		if cached, ok := dl.cacheManager.Get(path); ok {
			images[i] = cached
			continue
		}
		missing = append(missing, path)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return images, nil
	}

	processed, err := preprocessing.PreprocessBatch(missing, dl.transform, dl.numWorkers)
	if err != nil {
		return nil, err
	}
	for j, data := range processed {
		images[missingIdx[j]] = data
		dl.cacheManager.Put(missing[j], data)
	}
	return images, nil
}

// Stats returns cache statistics
func (dl *DataLoader) Stats() string {
	return dl.cacheManager.Stats().String()
}

// Progress returns the current progress through the dataset
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}

// ClearCache clears the image cache unless it is shared
func (dl *DataLoader) ClearCache() {
	if dl.ownedCache {
		dl.cacheManager.Clear()
	}
}

// GetCacheManager returns the cache manager for sharing between DataLoaders
func (dl *DataLoader) GetCacheManager() *CacheManager {
	return dl.cacheManager
}
