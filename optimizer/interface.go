package optimizer

import (
	"github.com/tsawler/go-uncertainty/layers"
)

// Optimizer defines the common interface for all optimizers. Parameters are
// bound at construction; Step reads their accumulated gradients.
type Optimizer interface {
	// Step performs a single optimization step over the bound parameters
	Step() error

	// ZeroGrad clears the gradients of the bound parameters
	ZeroGrad()

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)
}

// calculateTensorSize calculates the number of elements in a tensor
func calculateTensorSize(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

func zeroGrad(params []*layers.Parameter) {
	layers.ZeroGrad(params)
}
