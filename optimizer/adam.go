package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-uncertainty/layers"
)

// AdamOptimizerState holds Adam moment estimates for a fixed parameter list
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 penalty added to the gradient
	AMSGrad      bool    // Use the running maximum of the second moment

	params []*layers.Parameter

	// Per-parameter state
	MomentumBuffers    [][]float64 // First moment
	VarianceBuffers    [][]float64 // Second moment
	MaxVarianceBuffers [][]float64 // Running max of the second moment (AMSGrad only)

	// Step tracking for bias correction
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
	AMSGrad      bool
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		AMSGrad:      false,
	}
}

// NewAdamOptimizer creates an Adam optimizer over params
func NewAdamOptimizer(config AdamConfig, params []*layers.Parameter) (*AdamOptimizerState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1), got %g and %g", config.Beta1, config.Beta2)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay must be non-negative, got %g", config.WeightDecay)
	}

	numWeights := len(params)
	adam := &AdamOptimizerState{
		LearningRate:    config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		AMSGrad:         config.AMSGrad,
		params:          params,
		MomentumBuffers: make([][]float64, numWeights),
		VarianceBuffers: make([][]float64, numWeights),
	}
	if config.AMSGrad {
		adam.MaxVarianceBuffers = make([][]float64, numWeights)
	}

	// Momentum and variance start at 0
	for i, p := range params {
		size := calculateTensorSize(p.Value.Shape())
		adam.MomentumBuffers[i] = make([]float64, size)
		adam.VarianceBuffers[i] = make([]float64, size)
		if config.AMSGrad {
			adam.MaxVarianceBuffers[i] = make([]float64, size)
		}
	}

	return adam, nil
}

// Step performs a single Adam optimization step
func (adam *AdamOptimizerState) Step() error {
	adam.StepCount++
	t := float64(adam.StepCount)
	biasCorrection1 := 1 - math.Pow(adam.Beta1, t)
	biasCorrection2 := math.Sqrt(1 - math.Pow(adam.Beta2, t))
	stepSize := adam.LearningRate / biasCorrection1

	for i, p := range adam.params {
		w := p.Data()
		g := p.GradData()
		m := adam.MomentumBuffers[i]
		v := adam.VarianceBuffers[i]
		if len(w) != len(m) {
			return fmt.Errorf("parameter %s changed size: %d vs %d", p.Name, len(w), len(m))
		}

		for j := range w {
			grad := g[j]
			if adam.WeightDecay != 0 {
				grad += adam.WeightDecay * w[j]
			}

			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*grad
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*grad*grad

			second := v[j]
			if adam.AMSGrad {
				vmax := adam.MaxVarianceBuffers[i]
				if v[j] > vmax[j] {
					vmax[j] = v[j]
				}
				second = vmax[j]
			}

			w[j] -= stepSize * m[j] / (math.Sqrt(second)/biasCorrection2 + adam.Epsilon)
		}
	}
	return nil
}

// ZeroGrad clears the gradients of the bound parameters
func (adam *AdamOptimizerState) ZeroGrad() {
	zeroGrad(adam.params)
}

// UpdateLearningRate updates the learning rate (useful for learning rate scheduling)
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float64) {
	adam.LearningRate = newLR
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// GetStats returns optimizer statistics
func (adam *AdamOptimizerState) GetStats() AdamStats {
	return AdamStats{
		StepCount:       adam.StepCount,
		LearningRate:    adam.LearningRate,
		Beta1:           adam.Beta1,
		Beta2:           adam.Beta2,
		Epsilon:         adam.Epsilon,
		WeightDecay:     adam.WeightDecay,
		AMSGrad:         adam.AMSGrad,
		NumParameters:   len(adam.params),
		TotalBufferSize: adam.getTotalBufferSize(),
	}
}

// AdamStats provides statistics about the Adam optimizer
type AdamStats struct {
	StepCount       uint64
	LearningRate    float64
	Beta1           float64
	Beta2           float64
	Epsilon         float64
	WeightDecay     float64
	AMSGrad         bool
	NumParameters   int
	TotalBufferSize int // elements held in optimizer state
}

// getTotalBufferSize calculates total memory used by optimizer state
func (adam *AdamOptimizerState) getTotalBufferSize() int {
	total := 0
	for i := range adam.MomentumBuffers {
		total += len(adam.MomentumBuffers[i]) + len(adam.VarianceBuffers[i])
		if adam.AMSGrad {
			total += len(adam.MaxVarianceBuffers[i])
		}
	}
	return total
}

var _ Optimizer = (*AdamOptimizerState)(nil)
