package layers

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// DropoutModule implements inverted dropout. Units are dropped with
// probability rate in training mode; evaluation mode is the identity.
type DropoutModule struct {
	name     string
	rate     float64
	training bool
	mask     []float64
}

// NewDropout creates a dropout layer with the given drop probability
func NewDropout(rate float64, name string) (*DropoutModule, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout rate for %s must be in [0, 1), got %g", name, rate)
	}
	return &DropoutModule{name: name, rate: rate, training: true}, nil
}

func (d *DropoutModule) Name() string    { return d.name }
func (d *DropoutModule) Type() LayerType { return Dropout }

// Rate returns the drop probability
func (d *DropoutModule) Rate() float64 { return d.rate }

// Forward samples a fresh mask in training mode
func (d *DropoutModule) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	in := input.Float64s()
	if !d.training || d.rate == 0 {
		d.mask = nil
		return input, nil
	}

	if cap(d.mask) < len(in) {
		d.mask = make([]float64, len(in))
	}
	d.mask = d.mask[:len(in)]

	scale := 1 / (1 - d.rate)
	out := zeros(input.Shape().Clone()...)
	od := out.Float64s()
	for i, v := range in {
		if rng().Float64() >= d.rate {
			d.mask[i] = scale
		} else {
			d.mask[i] = 0
		}
		od[i] = v * d.mask[i]
	}
	return out, nil
}

// Backward applies the mask of the last forward pass
func (d *DropoutModule) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	if d.mask == nil {
		return gradOutput, nil
	}
	g := gradOutput.Float64s()
	if len(g) != len(d.mask) {
		return nil, fmt.Errorf("%s gradient size mismatch: expected %d, got %d", d.name, len(d.mask), len(g))
	}
	out := zeros(gradOutput.Shape().Clone()...)
	od := out.Float64s()
	for i, v := range g {
		od[i] = v * d.mask[i]
	}
	return out, nil
}

func (d *DropoutModule) Parameters() []*Parameter { return nil }
func (d *DropoutModule) Train()                   { d.training = true }
func (d *DropoutModule) Eval()                    { d.training = false }
func (d *DropoutModule) IsTraining() bool         { return d.training }

// ConcreteDropoutConfig holds the hyperparameters of a concrete dropout layer
type ConcreteDropoutConfig struct {
	InitRate           float64 // initial drop probability
	Temperature        float64 // relaxation temperature of the Bernoulli mask
	WeightRegularizer  float64 // scale of the wrapped layer's weight penalty
	DropoutRegularizer float64 // scale of the drop-rate entropy penalty
}

// DefaultConcreteDropoutConfig returns commonly used concrete dropout settings
func DefaultConcreteDropoutConfig() ConcreteDropoutConfig {
	return ConcreteDropoutConfig{
		InitRate:           0.1,
		Temperature:        0.1,
		WeightRegularizer:  1e-6,
		DropoutRegularizer: 1e-5,
	}
}

// ConcreteDropoutModule applies dropout with a learned rate to the input of
// a wrapped Linear layer. The mask is a continuous relaxation of a Bernoulli
// draw so that the drop rate receives gradients. The layer also penalises
// the wrapped weights; networks using it train without weight decay.
type ConcreteDropoutModule struct {
	name     string
	layer    *Linear
	logit    *Parameter // logit of the drop probability
	config   ConcreteDropoutConfig
	training bool

	input []float64
	drop  []float64 // relaxed drop indicator per element
}

// NewConcreteDropout wraps layer with a concrete dropout input mask
func NewConcreteDropout(layer *Linear, config ConcreteDropoutConfig, name string) (*ConcreteDropoutModule, error) {
	if config.InitRate <= 0 || config.InitRate >= 1 {
		return nil, fmt.Errorf("initial drop rate for %s must be in (0, 1), got %g", name, config.InitRate)
	}
	if config.Temperature <= 0 {
		return nil, fmt.Errorf("temperature for %s must be positive, got %g", name, config.Temperature)
	}
	p := config.InitRate
	return &ConcreteDropoutModule{
		name:     name,
		layer:    layer,
		logit:    newParameter(name+".p_logit", []float64{math.Log(p) - math.Log(1-p)}, 1),
		config:   config,
		training: true,
	}, nil
}

func (c *ConcreteDropoutModule) Name() string    { return c.name }
func (c *ConcreteDropoutModule) Type() LayerType { return ConcreteDropout }

// Rate returns the current drop probability
func (c *ConcreteDropoutModule) Rate() float64 {
	return sigmoid(c.logit.Data()[0])
}

// Forward drops inputs with the learned rate in training mode, then applies
// the wrapped layer
func (c *ConcreteDropoutModule) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	if !c.training {
		c.drop = nil
		return c.layer.Forward(input)
	}

	const eps = 1e-7
	rho := c.logit.Data()[0]
	p := sigmoid(rho)
	t := c.config.Temperature

	in := input.Float64s()
	if cap(c.drop) < len(in) {
		c.drop = make([]float64, len(in))
	}
	c.drop = c.drop[:len(in)]
	c.input = in

	dropped := zeros(input.Shape().Clone()...)
	dd := dropped.Float64s()
	for i, v := range in {
		u := eps + (1-2*eps)*rng().Float64()
		c.drop[i] = sigmoid((rho + math.Log(u) - math.Log(1-u)) / t)
		dd[i] = v * (1 - c.drop[i]) / (1 - p)
	}
	return c.layer.Forward(dropped)
}

// Backward propagates through the wrapped layer and the relaxed mask
func (c *ConcreteDropoutModule) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	gradDropped, err := c.layer.Backward(gradOutput)
	if err != nil {
		return nil, err
	}
	if c.drop == nil {
		return gradDropped, nil
	}

	g := gradDropped.Float64s()
	if len(g) != len(c.drop) {
		return nil, fmt.Errorf("%s gradient size mismatch: expected %d, got %d", c.name, len(c.drop), len(g))
	}

	p := c.Rate()
	t := c.config.Temperature
	out := zeros(gradDropped.Shape().Clone()...)
	od := out.Float64s()
	dRho := 0.0
	for i, v := range g {
		keep := 1 - c.drop[i]
		od[i] = v * keep / (1 - p)
		// d/drho of x*keep/(1-p), with dkeep/drho = -drop*(1-drop)/t and
		// d(1/(1-p))/drho = p/(1-p)
		dRho += v * c.input[i] / (1 - p) * (keep*p - c.drop[i]*(1-c.drop[i])/t)
	}
	c.logit.GradData()[0] += dRho
	return out, nil
}

// Regularization returns weightReg*||W||^2/(1-p) + dropoutReg*D*(p log p + (1-p) log(1-p))
func (c *ConcreteDropoutModule) Regularization() float64 {
	p := c.Rate()
	d := float64(c.layer.InputSize())
	weightTerm := c.config.WeightRegularizer * c.layer.sumSquares() / (1 - p)
	entropyTerm := c.config.DropoutRegularizer * d * (p*math.Log(p) + (1-p)*math.Log(1-p))
	return weightTerm + entropyTerm
}

// BackwardRegularization accumulates the penalty gradient into the wrapped
// weights and the rate logit
func (c *ConcreteDropoutModule) BackwardRegularization() {
	rho := c.logit.Data()[0]
	p := sigmoid(rho)
	d := float64(c.layer.InputSize())
	scale := 2 * c.config.WeightRegularizer / (1 - p)

	for _, param := range c.layer.Parameters() {
		g := param.GradData()
		for i, v := range param.Data() {
			g[i] += scale * v
		}
	}

	c.logit.GradData()[0] += c.config.WeightRegularizer*c.layer.sumSquares()*p/(1-p) +
		c.config.DropoutRegularizer*d*rho*p*(1-p)
}

// Parameters returns the wrapped layer's parameters followed by the rate logit
func (c *ConcreteDropoutModule) Parameters() []*Parameter {
	return append(c.layer.Parameters(), c.logit)
}

func (c *ConcreteDropoutModule) Train() {
	c.training = true
	c.layer.Train()
}

func (c *ConcreteDropoutModule) Eval() {
	c.training = false
	c.layer.Eval()
}

func (c *ConcreteDropoutModule) IsTraining() bool { return c.training }

// Constants of the log-uniform KL approximation (Molchanov et al., 2017)
const (
	klK1 = 0.63576
	klK2 = 1.87320
	klK3 = 1.48695
)

// GaussianDropoutModule implements variational dropout with multiplicative
// Gaussian noise x*(1+sqrt(alpha)*eps) and a learned per-feature log alpha.
// Evaluation mode is the identity.
type GaussianDropoutModule struct {
	name     string
	features int
	logAlpha *Parameter
	klWeight float64
	training bool

	input []float64
	noise []float64
}

// NewGaussianDropout creates a variational dropout layer over features inputs.
// initRate sets the initial alpha = rate/(1-rate).
func NewGaussianDropout(features int, initRate, klWeight float64, name string) (*GaussianDropoutModule, error) {
	if features <= 0 {
		return nil, fmt.Errorf("invalid feature count %d for %s", features, name)
	}
	if initRate <= 0 || initRate >= 1 {
		return nil, fmt.Errorf("initial rate for %s must be in (0, 1), got %g", name, initRate)
	}
	la := make([]float64, features)
	for i := range la {
		la[i] = math.Log(initRate / (1 - initRate))
	}
	return &GaussianDropoutModule{
		name:     name,
		features: features,
		logAlpha: newParameter(name+".log_alpha", la, features),
		klWeight: klWeight,
		training: true,
	}, nil
}

func (g *GaussianDropoutModule) Name() string    { return g.name }
func (g *GaussianDropoutModule) Type() LayerType { return GaussianDropout }

// Forward multiplies each input by fresh Gaussian noise in training mode
func (g *GaussianDropoutModule) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	batch, features := flatShape(input)
	if features != g.features {
		return nil, fmt.Errorf("%s input size mismatch: expected %d, got %d", g.name, g.features, features)
	}
	if !g.training {
		g.noise = nil
		return input, nil
	}

	in := input.Float64s()
	if cap(g.noise) < len(in) {
		g.noise = make([]float64, len(in))
	}
	g.noise = g.noise[:len(in)]
	g.input = in

	la := g.logAlpha.Data()
	out := zeros(input.Shape().Clone()...)
	od := out.Float64s()
	for b := 0; b < batch; b++ {
		for j := 0; j < features; j++ {
			i := b*features + j
			g.noise[i] = rng().NormFloat64()
			od[i] = in[i] * (1 + math.Sqrt(math.Exp(la[j]))*g.noise[i])
		}
	}
	return out, nil
}

// Backward applies the sampled noise and accumulates the log alpha gradient
func (g *GaussianDropoutModule) Backward(gradOutput *tensor.Dense) (*tensor.Dense, error) {
	if g.noise == nil {
		return gradOutput, nil
	}
	gd := gradOutput.Float64s()
	if len(gd) != len(g.noise) {
		return nil, fmt.Errorf("%s gradient size mismatch: expected %d, got %d", g.name, len(g.noise), len(gd))
	}

	la := g.logAlpha.Data()
	gla := g.logAlpha.GradData()
	out := zeros(gradOutput.Shape().Clone()...)
	od := out.Float64s()
	for i, v := range gd {
		j := i % g.features
		s := math.Sqrt(math.Exp(la[j]))
		od[i] = v * (1 + s*g.noise[i])
		gla[j] += v * g.input[i] * 0.5 * s * g.noise[i]
	}
	return out, nil
}

// Regularization returns the approximate KL divergence to the log-uniform prior
func (g *GaussianDropoutModule) Regularization() float64 {
	kl := 0.0
	for _, a := range g.logAlpha.Data() {
		kl += klK1 - klK1*sigmoid(klK2+klK3*a) + 0.5*math.Log1p(math.Exp(-a))
	}
	return g.klWeight * kl
}

// BackwardRegularization accumulates the KL gradient into log alpha
func (g *GaussianDropoutModule) BackwardRegularization() {
	gla := g.logAlpha.GradData()
	for j, a := range g.logAlpha.Data() {
		s := sigmoid(klK2 + klK3*a)
		gla[j] += g.klWeight * (-klK1*klK3*s*(1-s) - 0.5*sigmoid(-a))
	}
}

func (g *GaussianDropoutModule) Parameters() []*Parameter { return []*Parameter{g.logAlpha} }
func (g *GaussianDropoutModule) Train()                   { g.training = true }
func (g *GaussianDropoutModule) Eval()                    { g.training = false }
func (g *GaussianDropoutModule) IsTraining() bool         { return g.training }
