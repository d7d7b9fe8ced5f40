// uncertainty measures Monte Carlo dropout uncertainty of a saved checkpoint
// on positive (in-distribution) and negative (out-of-distribution) images.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-uncertainty/async"
	"github.com/tsawler/go-uncertainty/config"
	"github.com/tsawler/go-uncertainty/device"
	"github.com/tsawler/go-uncertainty/engine"
	"github.com/tsawler/go-uncertainty/layers"
	"github.com/tsawler/go-uncertainty/models"
	"github.com/tsawler/go-uncertainty/uncertainty"
	"github.com/tsawler/go-uncertainty/vision/dataloader"
	"github.com/tsawler/go-uncertainty/vision/dataset"
	"github.com/tsawler/go-uncertainty/vision/preprocessing"
)

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg.Phase = config.PhaseTest
	must.M(cfg.Validate())
	layers.SetRandomSeed(cfg.Seed)

	// reject deterministic networks before loading anything
	caps := must.M1(models.Lookup(cfg.Arch))
	if !caps.SupportsStochasticUncertainty {
		klog.Exitf("%v: the network you have selected cannot be used to obtain uncertainty", config.ErrConfiguration)
	}

	dev := must.M1(device.Select(cfg.Device))

	posDataset := must.M1(dataset.NewImageFolderDataset(cfg.PosRoot, nil))
	negDataset := must.M1(dataset.NewImageFolderDataset(cfg.NegRoot, nil))
	loaders := must.M1(dataloader.CreateSharedDataLoaders(dataloader.Config{
		BatchSize:    1,
		MaxCacheSize: cfg.CacheSize,
		Transform:    preprocessing.Transform{Size: cfg.InputSize, Pretrained: cfg.Pretrained},
		NumWorkers:   cfg.NumWorkers,
	}, posDataset, negDataset))
	posLoader, negLoader := loaders[0], loaders[1]

	fmt.Printf("There are a total number of %d images in the positive test data set and %d images in the negative test data set.\n\n",
		posLoader.Len(), negLoader.Len())

	mc := must.M1(engine.New(cfg, dev, nil, posDataset.ClassNames()))
	must.M(mc.SetUp())

	estimator := must.M1(uncertainty.New(mc.ReturnModel(), cfg.NumSamples)).OnDevice(dev)

	fmt.Printf("\nProcessing the positive test images has begun..\n\n")
	ctx := context.Background()
	prefetch := async.AsyncDataLoaderConfig{PrefetchDepth: cfg.PrefetchDepth}
	posBatches := must.M1(async.NewAsyncDataLoader(ctx, posLoader, prefetch))
	pos := must.M1(estimator.EvaluatePositive(posBatches))
	posBatches.Stop()
	fmt.Println("Positive test data processing completed.")
	fmt.Printf("Accuracy: %.4f -- F1 Score: %.4f -- AUC: %.4f -- Uncertainty: %v\n",
		pos.Accuracy, pos.F1, pos.AUC, pos.MeanUncertainty)
	klog.V(1).Infof("mean positive confidence %.4f", pos.MeanConfidence)

	fmt.Printf("\nProcessing the negative test images has begun..\n\n")
	negBatches := must.M1(async.NewAsyncDataLoader(ctx, negLoader, prefetch))
	neg := must.M1(estimator.EvaluateNegative(negBatches))
	negBatches.Stop()
	fmt.Println("Negative test data processing completed.")
	fmt.Printf("Uncertainty: %v\n", neg.MeanUncertainty)
	klog.V(1).Infof("mean negative confidence %.4f", neg.MeanConfidence)
}
