package layers

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// ReLUModule implements the ReLU activation
type ReLUModule struct {
	name     string
	training bool
	mask     []bool
}

// NewReLU creates a new ReLU activation module
func NewReLU(name string) *ReLUModule {
	return &ReLUModule{name: name, training: true}
}

func (r *ReLUModule) Name() string    { return r.name }
func (r *ReLUModule) Type() LayerType { return ReLU }

// Forward performs ReLU activation
func (r *ReLUModule) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	in := input.Float64s()
	out := zeros(input.Shape().Clone()...)
	od := out.Float64s()

	if cap(r.mask) < len(in) {
		r.mask = make([]bool, len(in))
	}
	r.mask = r.mask[:len(in)]

	for i, v := range in {
		r.mask[i] = v > 0
		if r.mask[i] {
			od[i] = v
		}
	}
	return out, nil
}

// Backward passes the gradient through where the input was positive
func (r *ReLUModule) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	g := gradOutput.Float64s()
	if len(g) != len(r.mask) {
		return nil, fmt.Errorf("%s gradient size mismatch: expected %d, got %d", r.name, len(r.mask), len(g))
	}
	out := zeros(gradOutput.Shape().Clone()...)
	od := out.Float64s()
	for i, v := range g {
		if r.mask[i] {
			od[i] = v
		}
	}
	return out, nil
}

// Parameters returns empty slice (ReLU has no parameters)
func (r *ReLUModule) Parameters() []*Parameter { return nil }

func (r *ReLUModule) Train()           { r.training = true }
func (r *ReLUModule) Eval()            { r.training = false }
func (r *ReLUModule) IsTraining() bool { return r.training }

// FlattenModule reshapes input tensor to [batch_size, -1]
type FlattenModule struct {
	name       string
	training   bool
	inputShape tensor.Shape
}

// NewFlatten creates a new Flatten layer
func NewFlatten(name string) *FlattenModule {
	return &FlattenModule{name: name, training: true}
}

func (f *FlattenModule) Name() string    { return f.name }
func (f *FlattenModule) Type() LayerType { return Flatten }

// Forward flattens the input tensor to [batch_size, -1]
func (f *FlattenModule) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	batch, features := flatShape(input)
	f.inputShape = input.Shape().Clone()
	return tensor.New(tensor.WithShape(batch, features), tensor.WithBacking(input.Float64s())), nil
}

// Backward restores the gradient to the shape of the last input
func (f *FlattenModule) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	if f.inputShape == nil {
		return nil, fmt.Errorf("%s: backward called before forward", f.name)
	}
	if gradOutput.Size() != f.inputShape.TotalSize() {
		return nil, fmt.Errorf("%s gradient size mismatch: expected %d, got %d", f.name, f.inputShape.TotalSize(), gradOutput.Size())
	}
	return tensor.New(tensor.WithShape(f.inputShape.Clone()...), tensor.WithBacking(gradOutput.Float64s())), nil
}

// Parameters returns empty slice (Flatten has no parameters)
func (f *FlattenModule) Parameters() []*Parameter { return nil }

func (f *FlattenModule) Train()           { f.training = true }
func (f *FlattenModule) Eval()            { f.training = false }
func (f *FlattenModule) IsTraining() bool { return f.training }

// Softmax applies a numerically stable softmax to each row of a
// [batch, classes] tensor and returns the probabilities row by row.
func Softmax(logits *tensor.Dense) ([][]float64, error) {
	shape := logits.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("softmax expects [batch, classes], got shape %v", shape)
	}
	batch, classes := shape[0], shape[1]
	data := logits.Float64s()

	probs := make([][]float64, batch)
	for i := 0; i < batch; i++ {
		row := data[i*classes : (i+1)*classes]
		p := make([]float64, classes)
		maxVal := floats.Max(row)
		for j, v := range row {
			p[j] = math.Exp(v - maxVal)
		}
		floats.Scale(1/floats.Sum(p), p)
		probs[i] = p
	}
	return probs, nil
}

// Argmax returns the index of the largest value in each row of a
// [batch, classes] tensor
func Argmax(logits *tensor.Dense) ([]int, error) {
	shape := logits.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("argmax expects [batch, classes], got shape %v", shape)
	}
	batch, classes := shape[0], shape[1]
	data := logits.Float64s()

	out := make([]int, batch)
	for i := 0; i < batch; i++ {
		out[i] = floats.MaxIdx(data[i*classes : (i+1)*classes])
	}
	return out, nil
}
