// Package async overlaps batch preparation with computation by loading
// batches in the background.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/tsawler/go-uncertainty/vision/dataloader"
)

// DataSource is a sequential source of batches. NextBatch returns a nil batch
// once the source is exhausted.
type DataSource interface {
	NextBatch() (*dataloader.Batch, error)
	Len() int
}

type batchResult struct {
	batch *dataloader.Batch
	err   error
}

// AsyncDataLoader reads batches from a DataSource ahead of the consumer,
// keeping at most PrefetchDepth of them queued. Batches are delivered in
// source order.
type AsyncDataLoader struct {
	source        DataSource
	prefetchDepth int

	results chan batchResult
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mutex           sync.RWMutex
	batchesProduced uint64
	done            bool
	err             error
}

// AsyncDataLoaderConfig holds configuration for the data loader
type AsyncDataLoaderConfig struct {
	PrefetchDepth int // Number of batches to prefetch (default: 2)
}

// NewAsyncDataLoader starts prefetching from source. The loader stops when
// the source is exhausted, fails, ctx is cancelled or Stop is called.
func NewAsyncDataLoader(ctx context.Context, source DataSource, config AsyncDataLoaderConfig) (*AsyncDataLoader, error) {
	if source == nil {
		return nil, fmt.Errorf("data source cannot be nil")
	}
	if config.PrefetchDepth <= 0 {
		config.PrefetchDepth = 2
	}

	ctx, cancel := context.WithCancel(ctx)
	loader := &AsyncDataLoader{
		source:        source,
		prefetchDepth: config.PrefetchDepth,
		results:       make(chan batchResult, config.PrefetchDepth),
		ctx:           ctx,
		cancel:        cancel,
	}

	loader.wg.Add(1)
	go loader.worker()
	return loader, nil
}

// worker is the single producer; a sequential source cannot be shared
func (adl *AsyncDataLoader) worker() {
	defer adl.wg.Done()
	defer close(adl.results)

	for {
		batch, err := adl.source.NextBatch()
		select {
		case adl.results <- batchResult{batch: batch, err: err}:
		case <-adl.ctx.Done():
			return
		}
		if err != nil || batch == nil {
			return
		}

		adl.mutex.Lock()
		adl.batchesProduced++
		adl.mutex.Unlock()
	}
}

// NextBatch blocks until the next batch is ready. It returns a nil batch at
// the end of the source; a source error is returned on every later call.
func (adl *AsyncDataLoader) NextBatch() (*dataloader.Batch, error) {
	adl.mutex.RLock()
	done, err := adl.done, adl.err
	adl.mutex.RUnlock()
	if err != nil {
		return nil, err
	}
	if done {
		return nil, nil
	}
	if ctxErr := adl.ctx.Err(); ctxErr != nil {
		adl.finish(fmt.Errorf("data loader has been stopped: %w", ctxErr))
		return nil, adl.err
	}

	select {
	case result, ok := <-adl.results:
		if !ok {
			if ctxErr := adl.ctx.Err(); ctxErr != nil {
				adl.finish(fmt.Errorf("data loader has been stopped: %w", ctxErr))
				return nil, adl.err
			}
			adl.finish(nil)
			return nil, nil
		}
		if result.err != nil {
			adl.finish(fmt.Errorf("data loader error: %w", result.err))
			return nil, adl.err
		}
		if result.batch == nil {
			adl.finish(nil)
		}
		return result.batch, nil
	case <-adl.ctx.Done():
		adl.finish(fmt.Errorf("data loader has been stopped: %w", adl.ctx.Err()))
		return nil, adl.err
	}
}

func (adl *AsyncDataLoader) finish(err error) {
	adl.mutex.Lock()
	defer adl.mutex.Unlock()
	adl.done = true
	if adl.err == nil {
		adl.err = err
	}
}

// Len returns the number of samples of the underlying source
func (adl *AsyncDataLoader) Len() int {
	return adl.source.Len()
}

// Stop cancels prefetching and waits for the background worker to exit
func (adl *AsyncDataLoader) Stop() {
	adl.cancel()
	adl.wg.Wait()
}

// Stats returns statistics about the data loader
func (adl *AsyncDataLoader) Stats() AsyncDataLoaderStats {
	adl.mutex.RLock()
	defer adl.mutex.RUnlock()

	return AsyncDataLoaderStats{
		IsRunning:       !adl.done && adl.ctx.Err() == nil,
		BatchesProduced: adl.batchesProduced,
		QueuedBatches:   len(adl.results),
		QueueCapacity:   cap(adl.results),
	}
}

// AsyncDataLoaderStats provides statistics about the data loader
type AsyncDataLoaderStats struct {
	IsRunning       bool
	BatchesProduced uint64
	QueuedBatches   int
	QueueCapacity   int
}
