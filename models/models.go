// Package models provides the classification networks driven by the engine
// and the uncertainty estimator.
package models

import (
	"fmt"

	"github.com/tsawler/go-uncertainty/config"
	"github.com/tsawler/go-uncertainty/layers"
	"gorgonia.org/tensor"
)

// Architecture names understood by Build
const (
	ArchPlain       = "AmirNet"
	ArchDropout     = "AmirNet_DO"
	ArchConcrete    = "AmirNet_CDO"
	ArchVariational = "AmirNet_VDO"
)

const variationalKLWeight = 1e-4

// Capabilities describes what an architecture needs from the training loop
// and what it offers to the uncertainty estimator. They are resolved once
// when the network is built.
type Capabilities struct {
	// HasRegularizationTerm adds the network's own penalty to the loss
	HasRegularizationTerm bool
	// SupportsStochasticUncertainty means forward passes in training mode
	// are stochastic
	SupportsStochasticUncertainty bool
	// ExcludesWeightDecay disables optimizer weight decay
	ExcludesWeightDecay bool
}

var capabilities = map[string]Capabilities{
	ArchPlain:       {},
	ArchDropout:     {SupportsStochasticUncertainty: true},
	ArchConcrete:    {HasRegularizationTerm: true, SupportsStochasticUncertainty: true, ExcludesWeightDecay: true},
	ArchVariational: {HasRegularizationTerm: true, SupportsStochasticUncertainty: true},
}

// Lookup returns the capabilities of an architecture without building it
func Lookup(arch string) (Capabilities, error) {
	caps, ok := capabilities[arch]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: unknown architecture %q", config.ErrConfiguration, arch)
	}
	return caps, nil
}

// Architectures returns the names accepted by Build
func Architectures() []string {
	return []string{ArchPlain, ArchDropout, ArchConcrete, ArchVariational}
}

// Network is a compiled classifier over flattened 3xSxS images
type Network struct {
	arch string
	spec *layers.ModelSpec
	net  *layers.Sequential
	caps Capabilities
}

// Build constructs the network named by cfg.Arch with numClasses outputs
func Build(cfg config.Config, numClasses int) (*Network, error) {
	caps, err := Lookup(cfg.Arch)
	if err != nil {
		return nil, err
	}
	if numClasses < 1 {
		return nil, fmt.Errorf("%w: network needs at least one class, got %d", config.ErrConfiguration, numClasses)
	}
	if cfg.InputSize <= 0 || cfg.HiddenSize < 2 {
		return nil, fmt.Errorf("%w: invalid network size (input %d, hidden %d)", config.ErrConfiguration, cfg.InputSize, cfg.HiddenSize)
	}

	hidden := cfg.HiddenSize
	builder := layers.NewModelBuilder([]int{3, cfg.InputSize, cfg.InputSize}).AddFlatten("flatten")

	switch cfg.Arch {
	case ArchPlain:
		builder.
			AddDense(hidden, "fc1").AddReLU("relu1").
			AddDense(hidden/2, "fc2").AddReLU("relu2").
			AddDense(numClasses, "fc3")

	case ArchDropout:
		builder.
			AddDense(hidden, "fc1").AddReLU("relu1").AddDropout(cfg.DropoutRate, "drop1").
			AddDense(hidden/2, "fc2").AddReLU("relu2").AddDropout(cfg.DropoutRate, "drop2").
			AddDense(numClasses, "fc3")

	case ArchConcrete:
		cd := layers.DefaultConcreteDropoutConfig()
		builder.
			AddConcreteDropoutDense(hidden, cd, "cdo1").AddReLU("relu1").
			AddConcreteDropoutDense(hidden/2, cd, "cdo2").AddReLU("relu2").
			AddConcreteDropoutDense(numClasses, cd, "cdo3")

	case ArchVariational:
		builder.
			AddDense(hidden, "fc1").AddReLU("relu1").AddGaussianDropout(cfg.DropoutRate, variationalKLWeight, "vdo1").
			AddDense(hidden/2, "fc2").AddReLU("relu2").AddGaussianDropout(cfg.DropoutRate, variationalKLWeight, "vdo2").
			AddDense(numClasses, "fc3")
	}

	spec, err := builder.Compile()
	if err != nil {
		return nil, fmt.Errorf("%w: building %s: %v", config.ErrConfiguration, cfg.Arch, err)
	}

	return &Network{
		arch: cfg.Arch,
		spec: spec,
		net:  spec.Network(),
		caps: caps,
	}, nil
}

// Arch returns the architecture name
func (n *Network) Arch() string { return n.arch }

// Capabilities returns the flags resolved at build time
func (n *Network) Capabilities() Capabilities { return n.caps }

// Forward maps a [batch, 3, S, S] tensor to [batch, classes] logits
func (n *Network) Forward(images *tensor.Dense) (*tensor.Dense, error) {
	return n.net.Forward(images)
}

// Backward propagates the gradient of the loss with respect to the logits
func (n *Network) Backward(gradLogits *tensor.Dense) error {
	_, err := n.net.Backward(gradLogits)
	return err
}

// Regularization returns the network's penalty terms, empty when the
// architecture has none
func (n *Network) Regularization() []float64 {
	return n.net.Regularization()
}

// BackwardRegularization accumulates the gradients of every penalty term
func (n *Network) BackwardRegularization() {
	n.net.BackwardRegularization()
}

// Parameters returns the trainable parameters in a stable order
func (n *Network) Parameters() []*layers.Parameter {
	return n.net.Parameters()
}

// NumParameters returns the total number of trainable elements
func (n *Network) NumParameters() int {
	return layers.CountParameters(n.Parameters())
}

// StateDict returns a copy of every parameter keyed by name
func (n *Network) StateDict() layers.StateDict {
	return layers.ExportState(n.Parameters())
}

// LoadStateDict replaces the parameter values with those in state
func (n *Network) LoadStateDict(state layers.StateDict) error {
	return layers.LoadState(n.Parameters(), state)
}

// ZeroGrad clears every parameter gradient
func (n *Network) ZeroGrad() {
	layers.ZeroGrad(n.Parameters())
}

func (n *Network) Train()           { n.net.Train() }
func (n *Network) Eval()            { n.net.Eval() }
func (n *Network) IsTraining() bool { return n.net.IsTraining() }

// Summary returns a human-readable description of the layers
func (n *Network) Summary() string {
	return fmt.Sprintf("Architecture: %s\n%s", n.arch, n.spec.Summary())
}
