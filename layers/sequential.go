package layers

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Sequential chains modules so that each output feeds the next input
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a sequential container in training mode
func NewSequential(modules ...Module) *Sequential {
	s := &Sequential{modules: modules}
	s.Train()
	return s
}

func (s *Sequential) Name() string    { return "sequential" }
func (s *Sequential) Type() LayerType { return Dense }

// Modules returns the contained modules in order
func (s *Sequential) Modules() []Module { return s.modules }

// Forward runs every module in order
func (s *Sequential) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	x := input
	for _, m := range s.modules {
		out, err := m.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("forward %s: %w", m.Name(), err)
		}
		x = out
	}
	return x, nil
}

// Backward runs every module's backward pass in reverse order
func (s *Sequential) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	g := gradOutput
	for i := len(s.modules) - 1; i >= 0; i-- {
		m := s.modules[i]
		out, err := m.Backward(g)
		if err != nil {
			return nil, fmt.Errorf("backward %s: %w", m.Name(), err)
		}
		g = out
	}
	return g, nil
}

// Parameters returns all parameters in module order
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Regularization returns the penalty of each regularized module in order
func (s *Sequential) Regularization() []float64 {
	var terms []float64
	for _, m := range s.modules {
		if r, ok := m.(Regularized); ok {
			terms = append(terms, r.Regularization())
		}
	}
	return terms
}

// BackwardRegularization accumulates the gradient of every penalty term
func (s *Sequential) BackwardRegularization() {
	for _, m := range s.modules {
		if r, ok := m.(Regularized); ok {
			r.BackwardRegularization()
		}
	}
}

// Train puts every module in training mode
func (s *Sequential) Train() {
	s.training = true
	for _, m := range s.modules {
		m.Train()
	}
}

// Eval puts every module in evaluation mode
func (s *Sequential) Eval() {
	s.training = false
	for _, m := range s.modules {
		m.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }
