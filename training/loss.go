package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-uncertainty/layers"
	"gorgonia.org/tensor"
)

// Loss interface defines methods that all loss functions must implement.
// logits is [batch, classes]; targets holds one class index per row.
type Loss interface {
	Forward(logits *tensor.Dense, targets []int) (float64, error)
	Backward(logits *tensor.Dense, targets []int) (*tensor.Dense, error)
}

// CrossEntropyLoss implements softmax cross-entropy with optional per-class
// weights. The mean is taken over the summed weights of the targets:
//
//	L = sum_i w[y_i] * -log(softmax(x_i)[y_i]) / sum_i w[y_i]
type CrossEntropyLoss struct {
	weights []float64
}

// NewCrossEntropyLoss creates a cross-entropy loss. A nil weights slice
// weights every class equally.
func NewCrossEntropyLoss(weights []float64) (*CrossEntropyLoss, error) {
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("invalid weight %g for class %d", w, i)
		}
	}
	return &CrossEntropyLoss{weights: append([]float64(nil), weights...)}, nil
}

// Weights returns the per-class weights, nil when unweighted
func (ce *CrossEntropyLoss) Weights() []float64 { return ce.weights }

func (ce *CrossEntropyLoss) weight(class int) float64 {
	if ce.weights == nil {
		return 1
	}
	return ce.weights[class]
}

func (ce *CrossEntropyLoss) validate(logits *tensor.Dense, targets []int) ([][]float64, error) {
	shape := logits.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("cross-entropy expects [batch, classes] logits, got %v", shape)
	}
	batch, classes := shape[0], shape[1]
	if len(targets) != batch {
		return nil, fmt.Errorf("target count mismatch: expected %d, got %d", batch, len(targets))
	}
	if ce.weights != nil && len(ce.weights) != classes {
		return nil, fmt.Errorf("class weight count mismatch: %d weights for %d classes", len(ce.weights), classes)
	}
	for i, y := range targets {
		if y < 0 || y >= classes {
			return nil, fmt.Errorf("target %d at index %d is out of range [0, %d)", y, i, classes)
		}
	}
	return layers.Softmax(logits)
}

// Forward computes the weighted mean cross-entropy
func (ce *CrossEntropyLoss) Forward(logits *tensor.Dense, targets []int) (float64, error) {
	probs, err := ce.validate(logits, targets)
	if err != nil {
		return 0, err
	}

	const minProb = 1e-300
	total, norm := 0.0, 0.0
	for i, y := range targets {
		w := ce.weight(y)
		total += -w * math.Log(math.Max(probs[i][y], minProb))
		norm += w
	}
	if norm == 0 {
		return 0, fmt.Errorf("targets carry zero total weight")
	}
	return total / norm, nil
}

// Backward computes the gradient with respect to the logits:
// w[y_i] * (softmax(x_i) - onehot(y_i)) / sum_i w[y_i]
func (ce *CrossEntropyLoss) Backward(logits *tensor.Dense, targets []int) (*tensor.Dense, error) {
	probs, err := ce.validate(logits, targets)
	if err != nil {
		return nil, err
	}

	norm := 0.0
	for _, y := range targets {
		norm += ce.weight(y)
	}
	if norm == 0 {
		return nil, fmt.Errorf("targets carry zero total weight")
	}

	classes := logits.Shape()[1]
	grad := make([]float64, len(targets)*classes)
	for i, y := range targets {
		scale := ce.weight(y) / norm
		for j, p := range probs[i] {
			g := p
			if j == y {
				g -= 1
			}
			grad[i*classes+j] = scale * g
		}
	}
	return tensor.New(tensor.WithShape(len(targets), classes), tensor.WithBacking(grad)), nil
}

var _ Loss = (*CrossEntropyLoss)(nil)
