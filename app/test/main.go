// test evaluates a saved checkpoint on a labelled ImageFolder dataset.
package main

import (
	"flag"
	"fmt"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-uncertainty/config"
	"github.com/tsawler/go-uncertainty/device"
	"github.com/tsawler/go-uncertainty/engine"
	"github.com/tsawler/go-uncertainty/training"
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

	dev := must.M1(device.Select(cfg.Device))
	ds := must.M1(dataset.NewImageFolderDataset(cfg.PosRoot, nil))
	loader := must.M1(dataloader.NewDataLoader(ds, dataloader.Config{
		BatchSize:    cfg.BatchSize,
		MaxCacheSize: cfg.CacheSize,
		Transform:    preprocessing.Transform{Size: cfg.InputSize, Pretrained: cfg.Pretrained},
		NumWorkers:   cfg.NumWorkers,
	}))
	fmt.Printf("There are a total number of %d images in the test data set.\n\n", loader.Len())

	mc := must.M1(engine.New(cfg, dev, nil, ds.ClassNames()))
	must.M(mc.SetUp())

	cm := training.NewConfusionMatrix(ds.NumClasses())
	var gts, preds []int
	for {
		b := must.M1(loader.NextBatch())
		if b == nil {
			break
		}
		batch := must.M1(mc.AssignInputs(b.Images, b.Labels))
		result := must.M1(mc.Test(batch))
		outputs := must.M1(mc.GetTestOutputs(result))
		must.M(cm.Update(outputs.GT, outputs.Pred))
		gts = append(gts, outputs.GT...)
		preds = append(preds, outputs.Pred...)
	}

	fmt.Printf("Accuracy: %.4f -- F1 Score: %.4f -- AUC: %.4f\n",
		cm.GetAccuracy(),
		training.CalculateF1Score(gts, preds),
		training.MulticlassROCAUCScore(gts, preds))
	fmt.Printf("Macro precision: %.4f -- Macro recall: %.4f\n",
		cm.GetMetric(training.MacroPrecision), cm.GetMetric(training.MacroRecall))

	for i, name := range mc.Classes() {
		fmt.Printf("  %-16s %v\n", name, cm.Matrix[i])
	}
}
