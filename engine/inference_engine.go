package engine

import (
	"gorgonia.org/tensor"
)

// TestOutputs are the inputs and predictions of a test step, in that order
type TestOutputs struct {
	Image *tensor.Dense
	GT    []int
	Pred  []int
}

// Test runs a deterministic forward pass in evaluation mode
func (mc *ModelController) Test(batch *Batch) (*StepResult, error) {
	mc.net.Eval()
	out, err := mc.Forward(batch)
	if err != nil {
		return nil, err
	}
	return &StepResult{Batch: batch, Output: out}, nil
}

// GetTestOutputs returns the images, ground truth and predicted classes of a step
func (mc *ModelController) GetTestOutputs(result *StepResult) (TestOutputs, error) {
	preds, err := result.Predictions()
	if err != nil {
		return TestOutputs{}, err
	}
	return TestOutputs{
		Image: result.Batch.Images,
		GT:    result.Batch.Labels,
		Pred:  preds,
	}, nil
}
