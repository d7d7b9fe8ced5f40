// Package uncertainty estimates predictive uncertainty by Monte Carlo
// sampling of a network whose forward pass is stochastic in training mode.
package uncertainty

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-uncertainty/config"
	"github.com/tsawler/go-uncertainty/device"
	"github.com/tsawler/go-uncertainty/layers"
	"github.com/tsawler/go-uncertainty/models"
	"github.com/tsawler/go-uncertainty/training"
	"github.com/tsawler/go-uncertainty/vision/dataloader"
)

// Network is the part of a classifier the estimator needs
type Network interface {
	Forward(images *tensor.Dense) (*tensor.Dense, error)
	Train()
	Capabilities() models.Capabilities
}

// BatchSource yields batches until it returns a nil batch
type BatchSource interface {
	NextBatch() (*dataloader.Batch, error)
	Len() int
}

// Estimator runs repeated stochastic forward passes of one network
type Estimator struct {
	net        Network
	numSamples int
	device     device.Device
}

// New creates an estimator drawing numSamples passes per input. It fails with
// config.ErrConfiguration when the network has no stochastic mechanism.
func New(net Network, numSamples int) (*Estimator, error) {
	if net == nil {
		return nil, fmt.Errorf("%w: no network given", config.ErrConfiguration)
	}
	if !net.Capabilities().SupportsStochasticUncertainty {
		return nil, fmt.Errorf("%w: the network you have selected cannot be used to obtain uncertainty", config.ErrConfiguration)
	}
	if numSamples < 1 {
		return nil, fmt.Errorf("%w: number of samples must be at least 1, got %d", config.ErrConfiguration, numSamples)
	}
	return &Estimator{net: net, numSamples: numSamples, device: device.Device{Type: device.CPU}}, nil
}

// OnDevice sets the device batches are moved to before sampling
func (e *Estimator) OnDevice(dev device.Device) *Estimator {
	e.device = dev
	return e
}

// NumSamples returns the number of passes per input
func (e *Estimator) NumSamples() int { return e.numSamples }

// SampleSet holds the softmax outputs of every pass for one input, N x C
type SampleSet struct {
	probs [][]float64
}

// NewSampleSet wraps N softmax vectors of equal length
func NewSampleSet(probs [][]float64) (*SampleSet, error) {
	if len(probs) == 0 {
		return nil, fmt.Errorf("sample set needs at least one sample")
	}
	for i, p := range probs {
		if len(p) == 0 || len(p) != len(probs[0]) {
			return nil, fmt.Errorf("sample %d has %d classes, expected %d", i, len(p), len(probs[0]))
		}
	}
	return &SampleSet{probs: probs}, nil
}

// Len returns the number of samples
func (s *SampleSet) Len() int { return len(s.probs) }

// Samples returns the probabilities of every pass
func (s *SampleSet) Samples() [][]float64 { return s.probs }

// column returns the probability of class c in every sample
func (s *SampleSet) column(c int) []float64 {
	col := make([]float64, len(s.probs))
	for i, p := range s.probs {
		col[i] = p[c]
	}
	return col
}

// Mean returns the per-class mean probability
func (s *SampleSet) Mean() []float64 {
	mean := make([]float64, len(s.probs[0]))
	for c := range mean {
		mean[c] = stat.Mean(s.column(c), nil)
	}
	return mean
}

// Predicted returns the class with the highest mean probability, the lowest
// index on ties
func (s *SampleSet) Predicted() int {
	return floats.MaxIdx(s.Mean())
}

// Confidence returns the highest mean probability
func (s *SampleSet) Confidence() float64 {
	return floats.Max(s.Mean())
}

// Uncertainty returns the unbiased sample variance of the predicted class's
// probability across samples. A single sample or identical samples give 0.
func (s *SampleSet) Uncertainty() float64 {
	if len(s.probs) < 2 {
		return 0
	}
	col := s.column(s.Predicted())
	if floats.Max(col) == floats.Min(col) {
		return 0
	}
	return stat.Variance(col, nil)
}

// Sample runs the configured number of forward passes over a batch in
// training mode and returns one sample set per input row
func (e *Estimator) Sample(images *tensor.Dense) ([]*SampleSet, error) {
	placed, err := e.device.Transfer(images)
	if err != nil {
		return nil, err
	}

	e.net.Train()
	var sets [][][]float64
	for s := 0; s < e.numSamples; s++ {
		out, err := e.net.Forward(placed)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", s, err)
		}
		probs, err := layers.Softmax(out)
		if err != nil {
			return nil, err
		}
		if sets == nil {
			sets = make([][][]float64, len(probs))
		}
		for i, p := range probs {
			sets[i] = append(sets[i], p)
		}
	}

	result := make([]*SampleSet, len(sets))
	for i, probs := range sets {
		if result[i], err = NewSampleSet(probs); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// PositiveReport summarises a pass over in-distribution inputs
type PositiveReport struct {
	Count           int
	Accuracy        float64
	F1              float64
	AUC             float64
	MeanUncertainty float64
	MeanConfidence  float64

	GroundTruth   []int
	Predictions   []int
	Uncertainties []float64
	Confidences   []float64
}

// NegativeReport summarises a pass over out-of-distribution inputs
type NegativeReport struct {
	Count           int
	MeanUncertainty float64
	MeanConfidence  float64

	Predictions   []int
	Uncertainties []float64
	Confidences   []float64
}

// EvaluatePositive samples every input of src and scores the mean
// predictions against the labels
func (e *Estimator) EvaluatePositive(src BatchSource) (*PositiveReport, error) {
	report := &PositiveReport{}
	correct := 0
	err := e.each(src, func(set *SampleSet, label int) {
		pred := set.Predicted()
		if pred == label {
			correct++
		}
		report.GroundTruth = append(report.GroundTruth, label)
		report.Predictions = append(report.Predictions, pred)
		report.Uncertainties = append(report.Uncertainties, set.Uncertainty())
		report.Confidences = append(report.Confidences, set.Confidence())
	})
	if err != nil {
		return nil, err
	}

	report.Count = len(report.Predictions)
	if report.Count > 0 {
		report.Accuracy = float64(correct) / float64(report.Count)
		report.MeanUncertainty = stat.Mean(report.Uncertainties, nil)
		report.MeanConfidence = stat.Mean(report.Confidences, nil)
	}
	report.F1 = training.CalculateF1Score(report.GroundTruth, report.Predictions)
	report.AUC = training.MulticlassROCAUCScore(report.GroundTruth, report.Predictions)
	return report, nil
}

// EvaluateNegative samples every input of src; labels are ignored
func (e *Estimator) EvaluateNegative(src BatchSource) (*NegativeReport, error) {
	report := &NegativeReport{}
	err := e.each(src, func(set *SampleSet, _ int) {
		report.Predictions = append(report.Predictions, set.Predicted())
		report.Uncertainties = append(report.Uncertainties, set.Uncertainty())
		report.Confidences = append(report.Confidences, set.Confidence())
	})
	if err != nil {
		return nil, err
	}

	report.Count = len(report.Predictions)
	if report.Count > 0 {
		report.MeanUncertainty = stat.Mean(report.Uncertainties, nil)
		report.MeanConfidence = stat.Mean(report.Confidences, nil)
	}
	return report, nil
}

// each samples every batch of src and calls fn once per input
func (e *Estimator) each(src BatchSource, fn func(set *SampleSet, label int)) error {
	for n := 0; ; n++ {
		batch, err := src.NextBatch()
		if err != nil {
			return fmt.Errorf("batch %d: %w", n, err)
		}
		if batch == nil {
			return nil
		}
		sets, err := e.Sample(batch.Images)
		if err != nil {
			return fmt.Errorf("batch %d: %w", n, err)
		}
		if len(sets) != len(batch.Labels) {
			return fmt.Errorf("batch %d: %d outputs for %d labels", n, len(sets), len(batch.Labels))
		}
		for i, set := range sets {
			fn(set, batch.Labels[i])
		}
		klog.V(2).Infof("sampled batch %d (%d inputs)", n, len(sets))
	}
}
