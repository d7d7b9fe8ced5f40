package layers

import (
	"fmt"
	"strings"
)

// LayerSpec defines a layer configuration before it is instantiated
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Computed during compilation
	InputShape     []int `json:"input_shape,omitempty"`
	OutputShape    []int `json:"output_shape,omitempty"`
	ParameterCount int   `json:"parameter_count"`
}

// ModelSpec is a compiled stack of layers ready to run
type ModelSpec struct {
	Layers          []LayerSpec `json:"layers"`
	InputShape      []int       `json:"input_shape"`
	OutputShape     []int       `json:"output_shape"`
	TotalParameters int         `json:"total_parameters"`

	net *Sequential
}

// Network returns the instantiated modules of the compiled model
func (ms *ModelSpec) Network() *Sequential { return ms.net }

// ModelBuilder helps construct neural network models
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
}

// NewModelBuilder creates a new model builder. inputShape excludes the batch
// dimension, e.g. [3, 64, 64].
func NewModelBuilder(inputShape []int) *ModelBuilder {
	return &ModelBuilder{
		layers:     make([]LayerSpec, 0),
		inputShape: inputShape,
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	return mb
}

// AddFlatten adds a Flatten layer to the model
func (mb *ModelBuilder) AddFlatten(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Flatten, Name: name, Parameters: map[string]interface{}{}})
}

// AddDense adds a dense layer to the model
func (mb *ModelBuilder) AddDense(outputSize int, name string) *ModelBuilder {
	// Input size will be computed during compilation
	return mb.AddLayer(LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
		},
	})
}

// AddReLU adds a ReLU activation to the model
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: ReLU, Name: name, Parameters: map[string]interface{}{}})
}

// AddDropout adds a Dropout layer to the model
// rate: dropout probability (0.0 = no dropout)
func (mb *ModelBuilder) AddDropout(rate float64, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	})
}

// AddConcreteDropoutDense adds a dense layer whose input passes through a
// concrete dropout mask with a learned rate
func (mb *ModelBuilder) AddConcreteDropoutDense(outputSize int, config ConcreteDropoutConfig, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: ConcreteDropout,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"config":      config,
		},
	})
}

// AddGaussianDropout adds a variational Gaussian dropout layer
// initRate: initial equivalent drop probability
// klWeight: scale of the KL penalty
func (mb *ModelBuilder) AddGaussianDropout(initRate, klWeight float64, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: GaussianDropout,
		Name: name,
		Parameters: map[string]interface{}{
			"init_rate": initRate,
			"kl_weight": klWeight,
		},
	})
}

// Compile instantiates the layers and computes shapes and parameter counts
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if len(mb.inputShape) == 0 {
		return nil, fmt.Errorf("input shape must not be empty")
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: append([]int(nil), mb.inputShape...),
	}
	copy(model.Layers, mb.layers)

	currentShape := model.InputShape
	modules := make([]Module, 0, len(model.Layers))
	seen := make(map[string]bool, len(model.Layers))

	for i := range model.Layers {
		layer := &model.Layers[i]
		if layer.Name == "" || seen[layer.Name] {
			return nil, fmt.Errorf("layer %d needs a unique name, got %q", i, layer.Name)
		}
		seen[layer.Name] = true

		layer.InputShape = append([]int(nil), currentShape...)
		module, outputShape, err := mb.instantiate(layer, currentShape)
		if err != nil {
			return nil, fmt.Errorf("failed to compile layer %d (%s): %v", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterCount = CountParameters(module.Parameters())
		model.TotalParameters += layer.ParameterCount
		modules = append(modules, module)

		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.net = NewSequential(modules...)
	return model, nil
}

func (mb *ModelBuilder) instantiate(layer *LayerSpec, inputShape []int) (Module, []int, error) {
	switch layer.Type {
	case Flatten:
		return NewFlatten(layer.Name), []int{product(inputShape)}, nil

	case Dense:
		in, out, err := denseSizes(layer, inputShape)
		if err != nil {
			return nil, nil, err
		}
		l, err := NewLinear(in, out, layer.Name)
		return l, []int{out}, err

	case ConcreteDropout:
		in, out, err := denseSizes(layer, inputShape)
		if err != nil {
			return nil, nil, err
		}
		config, ok := layer.Parameters["config"].(ConcreteDropoutConfig)
		if !ok {
			config = DefaultConcreteDropoutConfig()
		}
		l, err := NewLinear(in, out, layer.Name+".layer")
		if err != nil {
			return nil, nil, err
		}
		cd, err := NewConcreteDropout(l, config, layer.Name)
		return cd, []int{out}, err

	case ReLU:
		return NewReLU(layer.Name), inputShape, nil

	case Dropout:
		rate, _ := layer.Parameters["rate"].(float64)
		d, err := NewDropout(rate, layer.Name)
		return d, inputShape, err

	case GaussianDropout:
		if len(inputShape) != 1 {
			return nil, nil, fmt.Errorf("gaussian dropout requires flattened input, got %v", inputShape)
		}
		rate, _ := layer.Parameters["init_rate"].(float64)
		kl, _ := layer.Parameters["kl_weight"].(float64)
		g, err := NewGaussianDropout(inputShape[0], rate, kl, layer.Name)
		return g, inputShape, err

	default:
		return nil, nil, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

func denseSizes(layer *LayerSpec, inputShape []int) (int, int, error) {
	if len(inputShape) != 1 {
		return 0, 0, fmt.Errorf("dense layer requires flattened input, got %v", inputShape)
	}
	out, ok := layer.Parameters["output_size"].(int)
	if !ok || out <= 0 {
		return 0, 0, fmt.Errorf("invalid output_size %v", layer.Parameters["output_size"])
	}
	return inputShape[0], out, nil
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Model Summary:\n")
	fmt.Fprintf(&sb, "Input Shape: %v\n", ms.InputShape)
	fmt.Fprintf(&sb, "Output Shape: %v\n", ms.OutputShape)
	fmt.Fprintf(&sb, "Total Parameters: %d\n", ms.TotalParameters)
	fmt.Fprintf(&sb, "Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		fmt.Fprintf(&sb, "Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type.String())
		fmt.Fprintf(&sb, "  Input:  %v\n", layer.InputShape)
		fmt.Fprintf(&sb, "  Output: %v\n", layer.OutputShape)
		fmt.Fprintf(&sb, "  Params: %d\n", layer.ParameterCount)
	}
	return sb.String()
}
