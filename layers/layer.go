package layers

import (
	"fmt"

	"gorgonia.org/tensor"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	ReLU
	Flatten
	Dropout
	ConcreteDropout
	GaussianDropout
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case Flatten:
		return "Flatten"
	case Dropout:
		return "Dropout"
	case ConcreteDropout:
		return "ConcreteDropout"
	case GaussianDropout:
		return "GaussianDropout"
	default:
		return "Unknown"
	}
}

// Module is implemented by every layer. Forward caches what Backward needs,
// so a Backward call always refers to the most recent Forward.
type Module interface {
	Name() string
	Type() LayerType
	Forward(input *tensor.Dense) (*tensor.Dense, error)
	// Backward accumulates parameter gradients and returns the gradient
	// with respect to the input of the last Forward.
	Backward(gradOutput *tensor.Dense) (*tensor.Dense, error)
	Parameters() []*Parameter
	Train()           // Sets module to training mode
	Eval()            // Sets module to evaluation mode
	IsTraining() bool // Returns true if in training mode
}

// Regularized is implemented by modules that contribute a penalty of their
// own to the training loss.
type Regularized interface {
	Regularization() float64
	// BackwardRegularization accumulates the penalty's gradient into the
	// module's parameters.
	BackwardRegularization()
}

// Parameter is a named trainable tensor with its accumulated gradient
type Parameter struct {
	Name  string
	Value *tensor.Dense
	Grad  *tensor.Dense
}

func newParameter(name string, data []float64, shape ...int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)),
		Grad:  zeros(shape...),
	}
}

// Numel returns the number of elements in the parameter
func (p *Parameter) Numel() int {
	return p.Value.Size()
}

// Data returns the parameter values backing slice
func (p *Parameter) Data() []float64 {
	return p.Value.Float64s()
}

// GradData returns the gradient backing slice
func (p *Parameter) GradData() []float64 {
	return p.Grad.Float64s()
}

// ZeroGrad clears the accumulated gradient
func (p *Parameter) ZeroGrad() {
	g := p.GradData()
	for i := range g {
		g[i] = 0
	}
}

// ZeroGrad clears the gradients of every parameter
func ZeroGrad(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// CountParameters returns the total number of trainable elements
func CountParameters(params []*Parameter) int {
	total := 0
	for _, p := range params {
		total += p.Numel()
	}
	return total
}

// StateDict maps parameter names to tensors
type StateDict map[string]*tensor.Dense

// ExportState copies the parameter values into a StateDict
func ExportState(params []*Parameter) StateDict {
	state := make(StateDict, len(params))
	for _, p := range params {
		data := make([]float64, p.Numel())
		copy(data, p.Data())
		state[p.Name] = tensor.New(tensor.WithShape(p.Value.Shape().Clone()...), tensor.WithBacking(data))
	}
	return state
}

// LoadState copies the values in state into params. Every parameter must be
// present with a matching shape and no unknown entries are allowed.
func LoadState(params []*Parameter, state StateDict) error {
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.Name] = true

		src, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %q in state", p.Name)
		}
		if !src.Shape().Eq(p.Value.Shape()) {
			return fmt.Errorf("shape mismatch for %q: parameter %v vs state %v", p.Name, p.Value.Shape(), src.Shape())
		}
		if src.Dtype() != tensor.Float64 {
			return fmt.Errorf("unsupported dtype %v for %q", src.Dtype(), p.Name)
		}
		copy(p.Data(), src.Float64s())
	}

	for name := range state {
		if !known[name] {
			return fmt.Errorf("unexpected parameter %q in state", name)
		}
	}
	return nil
}

// zeros returns a zero-filled float64 tensor
func zeros(shape ...int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shape...))
}

// flatShape returns the batch size and the per-sample element count
func flatShape(t *tensor.Dense) (int, int) {
	shape := t.Shape()
	if len(shape) == 0 {
		return 1, 1
	}
	rest := 1
	for _, d := range shape[1:] {
		rest *= d
	}
	return shape[0], rest
}
