package layers

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Linear implements a fully connected layer: y = xW^T + b.
// The weight is stored as [outputSize, inputSize].
type Linear struct {
	name       string
	inputSize  int
	outputSize int
	weight     *Parameter
	bias       *Parameter
	training   bool

	input *mat.Dense
}

// NewLinear creates a new Linear layer with Xavier/Glorot uniform weights and zero bias
func NewLinear(inputSize, outputSize int, name string) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("invalid linear layer %s: %d -> %d", name, inputSize, outputSize)
	}

	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weightData := make([]float64, outputSize*inputSize)
	for i := range weightData {
		weightData[i] = (rng().Float64()*2.0 - 1.0) * bound
	}

	return &Linear{
		name:       name,
		inputSize:  inputSize,
		outputSize: outputSize,
		weight:     newParameter(name+".weight", weightData, outputSize, inputSize),
		bias:       newParameter(name+".bias", make([]float64, outputSize), outputSize),
		training:   true,
	}, nil
}

func (l *Linear) Name() string    { return l.name }
func (l *Linear) Type() LayerType { return Dense }

// InputSize returns the number of input features
func (l *Linear) InputSize() int { return l.inputSize }

// OutputSize returns the number of output features
func (l *Linear) OutputSize() int { return l.outputSize }

// Forward performs the forward pass on a [batch, inputSize] tensor
func (l *Linear) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	batch, features := flatShape(input)
	if len(input.Shape()) != 2 {
		return nil, fmt.Errorf("%s expects 2D input [batch_size, input_size], got shape %v", l.name, input.Shape())
	}
	if features != l.inputSize {
		return nil, fmt.Errorf("%s input size mismatch: expected %d, got %d", l.name, l.inputSize, features)
	}

	x := mat.NewDense(batch, features, input.Float64s())
	w := mat.NewDense(l.outputSize, l.inputSize, l.weight.Data())

	out := zeros(batch, l.outputSize)
	y := mat.NewDense(batch, l.outputSize, out.Float64s())
	y.Mul(x, w.T())

	b := l.bias.Data()
	for i := 0; i < batch; i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += b[j]
		}
	}

	l.input = x
	return out, nil
}

// Backward accumulates dW = g^T x and db = sum(g), and returns g W
func (l *Linear) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	if l.input == nil {
		return nil, fmt.Errorf("%s: backward called before forward", l.name)
	}
	batch, _ := l.input.Dims()
	if rows, cols := flatShape(gradOutput); rows != batch || cols != l.outputSize {
		return nil, fmt.Errorf("%s gradient shape mismatch: expected [%d %d], got %v", l.name, batch, l.outputSize, gradOutput.Shape())
	}

	g := mat.NewDense(batch, l.outputSize, gradOutput.Float64s())
	w := mat.NewDense(l.outputSize, l.inputSize, l.weight.Data())

	var dW mat.Dense
	dW.Mul(g.T(), l.input)
	gw := mat.NewDense(l.outputSize, l.inputSize, l.weight.GradData())
	gw.Add(gw, &dW)

	gb := l.bias.GradData()
	for i := 0; i < batch; i++ {
		row := g.RawRowView(i)
		for j, v := range row {
			gb[j] += v
		}
	}

	gradInput := zeros(batch, l.inputSize)
	dx := mat.NewDense(batch, l.inputSize, gradInput.Float64s())
	dx.Mul(g, w)
	return gradInput, nil
}

// Parameters returns the trainable parameters
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Train sets the module to training mode
func (l *Linear) Train() { l.training = true }

// Eval sets the module to evaluation mode
func (l *Linear) Eval() { l.training = false }

// IsTraining returns true if in training mode
func (l *Linear) IsTraining() bool { return l.training }

// sumSquares returns the squared L2 norm of weight and bias
func (l *Linear) sumSquares() float64 {
	s := 0.0
	for _, p := range l.Parameters() {
		for _, v := range p.Data() {
			s += v * v
		}
	}
	return s
}
