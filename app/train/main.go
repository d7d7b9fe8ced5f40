// train fits a classifier to an ImageFolder dataset, writing checkpoints and
// labelled previews under <checkpoints_dir>/<name>.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-uncertainty/async"
	"github.com/tsawler/go-uncertainty/config"
	"github.com/tsawler/go-uncertainty/device"
	"github.com/tsawler/go-uncertainty/engine"
	"github.com/tsawler/go-uncertainty/layers"
	"github.com/tsawler/go-uncertainty/training"
	"github.com/tsawler/go-uncertainty/vision/dataloader"
	"github.com/tsawler/go-uncertainty/vision/dataset"
	"github.com/tsawler/go-uncertainty/vision/preprocessing"
	"github.com/tsawler/go-uncertainty/vision/preview"
)

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg.Phase = config.PhaseTrain
	must.M(cfg.Validate())
	layers.SetRandomSeed(cfg.Seed)

	dev := must.M1(device.Select(cfg.Device))
	klog.Infof("using device %s", dev)

	ds := must.M1(dataset.NewImageFolderDataset(cfg.DataRoot, nil))
	fmt.Print(ds)

	loader := must.M1(dataloader.NewDataLoader(ds, dataloader.Config{
		BatchSize:    cfg.BatchSize,
		Shuffle:      true,
		Seed:         cfg.Seed,
		MaxCacheSize: cfg.CacheSize,
		Transform:    preprocessing.Transform{Size: cfg.InputSize, Pretrained: cfg.Pretrained},
		NumWorkers:   cfg.NumWorkers,
	}))

	mc := must.M1(engine.New(cfg, dev, ds.ClassWeights(), ds.ClassNames()))
	must.M(mc.SetUp())

	previewDir := filepath.Join(mc.Store().Dir(), "previews")
	if cfg.DisplayFreq > 0 {
		must.M(os.MkdirAll(previewDir, 0755))
	}

	session := training.NewTrainingSession(cfg.Arch, cfg.NumEpochs, loader.NumBatches())
	step := mc.ResumedStep()
	for epoch := 1; epoch <= cfg.NumEpochs; epoch++ {
		loader.Reset()
		session.StartEpoch(epoch)
		prefetcher := must.M1(async.NewAsyncDataLoader(context.Background(), loader, async.AsyncDataLoaderConfig{PrefetchDepth: cfg.PrefetchDepth}))

		for i := 1; ; i++ {
			b := must.M1(prefetcher.NextBatch())
			if b == nil {
				break
			}
			batch := must.M1(mc.AssignInputs(b.Images, b.Labels))
			result := must.M1(mc.Optimize(batch))
			step++

			loss := must.M1(mc.GetLoss(result))
			session.UpdateTrainingProgress(i, loss, batchAccuracy(result))

			if step%cfg.CheckpointFreq == 0 {
				must.M(mc.SaveNetworks(step))
			}
			if cfg.DisplayFreq > 0 && step%cfg.DisplayFreq == 0 {
				img := must.M1(mc.GetTrainImages(result, step))
				must.M(preview.SavePNG(filepath.Join(previewDir, fmt.Sprintf("step_%08d.png", step)), img))
			}
		}

		prefetcher.Stop()
		session.FinishTrainingEpoch()
		session.PrintEpochSummary()
	}

	must.M(mc.SaveNetworks(step))
	klog.V(1).Info(loader.Stats())
}

func batchAccuracy(result *engine.StepResult) float64 {
	preds, err := result.Predictions()
	if err != nil || len(preds) == 0 {
		return -1
	}
	correct := 0
	for i, p := range preds {
		if p == result.Batch.Labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(preds))
}
