package engine

import (
	"fmt"
	"image"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"

	"github.com/tsawler/go-uncertainty/config"
	"github.com/tsawler/go-uncertainty/layers"
	"github.com/tsawler/go-uncertainty/vision/preview"
)

// ErrNoLoss is returned when the loss of a step that never ran backward is requested
var ErrNoLoss = fmt.Errorf("%w: no loss was computed for this step", config.ErrState)

// Batch holds the inputs of one step, already placed on the device
type Batch struct {
	Images *tensor.Dense // (N, 3, S, S)
	Labels []int
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int { return len(b.Labels) }

// StepResult is what a training or test step produced
type StepResult struct {
	Batch  *Batch
	Output *tensor.Dense // raw logits, (N, classes)
	loss   *float64
}

// Loss returns the step's training loss. Test steps have none.
func (r *StepResult) Loss() (float64, error) {
	if r.loss == nil {
		return 0, ErrNoLoss
	}
	return *r.loss, nil
}

// Predictions returns the arg-max class of every output row
func (r *StepResult) Predictions() ([]int, error) {
	return layers.Argmax(r.Output)
}

// AssignInputs moves a batch of images and labels to the controller's device
func (mc *ModelController) AssignInputs(images *tensor.Dense, labels []int) (*Batch, error) {
	placed, err := mc.device.Transfer(images)
	if err != nil {
		return nil, err
	}
	return &Batch{Images: placed, Labels: append([]int(nil), labels...)}, nil
}

// Forward runs the network over the batch in its current mode
func (mc *ModelController) Forward(batch *Batch) (*tensor.Dense, error) {
	return mc.net.Forward(batch.Images)
}

// Backward computes the loss of out against the batch labels, adding the
// network's own regularization term when it has one, and accumulates the
// gradients of both into the parameters.
func (mc *ModelController) Backward(batch *Batch, out *tensor.Dense) (float64, error) {
	if mc.criterion == nil {
		return 0, fmt.Errorf("%w: backward requires the train phase", config.ErrState)
	}

	loss, err := mc.criterion.Forward(out, batch.Labels)
	if err != nil {
		return 0, err
	}
	grad, err := mc.criterion.Backward(out, batch.Labels)
	if err != nil {
		return 0, err
	}
	if err := mc.net.Backward(grad); err != nil {
		return 0, err
	}

	if mc.net.Capabilities().HasRegularizationTerm {
		loss += floats.Sum(mc.net.Regularization())
		mc.net.BackwardRegularization()
	}
	return loss, nil
}

// Optimize runs one training step: forward in training mode, backward and a
// single optimizer update
func (mc *ModelController) Optimize(batch *Batch) (*StepResult, error) {
	if mc.optimizer == nil {
		return nil, fmt.Errorf("%w: optimize requires the train phase", config.ErrState)
	}

	mc.net.Train()
	out, err := mc.Forward(batch)
	if err != nil {
		return nil, err
	}
	mc.optimizer.ZeroGrad()
	loss, err := mc.Backward(batch, out)
	if err != nil {
		return nil, err
	}
	if err := mc.optimizer.Step(); err != nil {
		return nil, err
	}
	return &StepResult{Batch: batch, Output: out, loss: &loss}, nil
}

// GetLoss returns the loss of a training step. It is the controller-level
// accessor the training program reports from; it fails with ErrNoLoss for
// test steps.
func (mc *ModelController) GetLoss(result *StepResult) (float64, error) {
	return result.Loss()
}

// GetTrainImages renders the first image of a step with its ground truth and
// predicted class
func (mc *ModelController) GetTrainImages(result *StepResult, step int) (*image.RGBA, error) {
	if result.Batch.Size() == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	preds, err := result.Predictions()
	if err != nil {
		return nil, err
	}
	img, err := firstImage(result.Batch.Images)
	if err != nil {
		return nil, err
	}

	gt, pred := result.Batch.Labels[0], preds[0]
	gtName, err := mc.className(gt)
	if err != nil {
		return nil, err
	}
	predName, err := mc.className(pred)
	if err != nil {
		return nil, err
	}
	return preview.Compose(img,
		fmt.Sprintf("Step: %d - %s", step, gtName),
		"Pred: "+predName,
		gt == pred)
}

func (mc *ModelController) className(idx int) (string, error) {
	if idx < 0 || idx >= len(mc.classes) {
		return "", fmt.Errorf("class index %d out of range [0, %d)", idx, len(mc.classes))
	}
	return mc.classes[idx], nil
}

// firstImage returns a (C, H, W) copy of the first image of an (N, C, H, W) batch
func firstImage(images *tensor.Dense) (*tensor.Dense, error) {
	shape := images.Shape()
	if len(shape) != 4 || shape[0] == 0 {
		return nil, fmt.Errorf("expected a non-empty (N, C, H, W) batch, got shape %v", shape)
	}
	n := shape[1] * shape[2] * shape[3]
	data := make([]float64, n)
	copy(data, images.Float64s()[:n])
	return tensor.New(tensor.WithShape(shape[1], shape[2], shape[3]), tensor.WithBacking(data)), nil
}
