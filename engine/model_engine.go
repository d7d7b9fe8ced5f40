// Package engine drives a classification network through training and
// inference: it owns the network, its criterion and optimizer, the device and
// the run's checkpoint store.
package engine

import (
	"fmt"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/tsawler/go-uncertainty/checkpoints"
	"github.com/tsawler/go-uncertainty/config"
	"github.com/tsawler/go-uncertainty/device"
	"github.com/tsawler/go-uncertainty/models"
	"github.com/tsawler/go-uncertainty/optimizer"
	"github.com/tsawler/go-uncertainty/training"
)

// ModelController holds one network and everything needed to train, test,
// save and restore it. Batch scoped data is never stored on the controller;
// each step returns a StepResult instead.
type ModelController struct {
	cfg     config.Config
	device  device.Device
	net     *models.Network
	classes []string

	// Train phase only
	store     *checkpoints.Store
	criterion training.Loss
	optimizer optimizer.Optimizer

	resumedStep int
}

// New builds the network for cfg and places it on dev. In the train phase it
// also opens the checkpoint store and creates the weighted cross-entropy
// criterion and an AMSGrad Adam optimizer. weights may be nil for an
// unweighted loss and is ignored in the test phase.
func New(cfg config.Config, dev device.Device, weights []float64, classes []string) (*ModelController, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: at least one class is required", config.ErrConfiguration)
	}

	net, err := models.Build(cfg, len(classes))
	if err != nil {
		return nil, err
	}
	for _, p := range net.Parameters() {
		if p.Value, err = dev.Transfer(p.Value); err != nil {
			return nil, fmt.Errorf("failed to move %s to %s: %w", p.Name, dev, err)
		}
	}

	mc := &ModelController{
		cfg:     cfg,
		device:  dev,
		net:     net,
		classes: append([]string(nil), classes...),
	}
	if cfg.Phase != config.PhaseTrain {
		return mc, nil
	}

	format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
	if err != nil {
		return nil, err
	}
	if mc.store, err = checkpoints.NewStore(cfg.CheckpointDir(), format); err != nil {
		return nil, err
	}

	if weights != nil && len(weights) != len(classes) {
		return nil, fmt.Errorf("%w: %d class weights for %d classes", config.ErrConfiguration, len(weights), len(classes))
	}
	if mc.criterion, err = training.NewCrossEntropyLoss(weights); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	adam := optimizer.DefaultAdamConfig()
	adam.LearningRate = cfg.LearningRate
	adam.WeightDecay = cfg.WeightDecay
	adam.AMSGrad = true
	if net.Capabilities().ExcludesWeightDecay {
		adam.WeightDecay = 0
	}
	if mc.optimizer, err = optimizer.NewAdamOptimizer(adam, net.Parameters()); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	return mc, nil
}

// SetUp loads the weights the phase asks for and logs the network size. The
// test phase requires a checkpoint path; the train phase only loads when
// resuming.
func (mc *ModelController) SetUp() error {
	if mc.cfg.Phase == config.PhaseTest {
		path := mc.cfg.TestCheckpointPath
		if path == "" {
			return fmt.Errorf("%w: for inference, a checkpoint path must be passed as an argument", config.ErrConfiguration)
		}
		klog.Infof("loading the checkpoint from %s", path)
		state, err := checkpoints.LoadFile(path)
		if err != nil {
			return err
		}
		if err := mc.net.LoadStateDict(state); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	} else if mc.cfg.Resume {
		step, err := mc.resumeStep()
		if err != nil {
			return err
		}
		if err := mc.LoadNetworks(step); err != nil {
			return err
		}
		mc.resumedStep = step
	}

	mc.PrintNetworks()
	return nil
}

// resumeStep resolves the checkpoint selector against the store
func (mc *ModelController) resumeStep() (int, error) {
	empty, err := mc.store.IsEmpty()
	if err != nil {
		return 0, err
	}
	if empty {
		return 0, fmt.Errorf("%w: the checkpoints directory %s is empty, resuming is not possible", config.ErrState, mc.store.Dir())
	}

	selector := mc.cfg.WhichCheckpoint
	if selector == config.LatestCheckpoint {
		return mc.store.Latest()
	}
	if !isDigits(selector) {
		return 0, fmt.Errorf("%w: invalid checkpoint selector %q", config.ErrConfiguration, selector)
	}
	step, err := strconv.Atoi(selector)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid checkpoint selector %q: %v", config.ErrConfiguration, selector, err)
	}
	return step, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SaveNetworks writes the current parameters as the checkpoint for step
func (mc *ModelController) SaveNetworks(step int) error {
	if mc.store == nil {
		return fmt.Errorf("%w: checkpoints can only be saved in the train phase", config.ErrState)
	}
	path, err := mc.store.Save(step, mc.net.StateDict())
	if err != nil {
		return err
	}
	klog.Infof("saved the checkpoint to %s", path)
	return nil
}

// LoadNetworks restores the parameters saved for step
func (mc *ModelController) LoadNetworks(step int) error {
	if mc.store == nil {
		return fmt.Errorf("%w: no checkpoint store in the %s phase", config.ErrState, mc.cfg.Phase)
	}
	klog.Infof("loading the checkpoint for step %d from %s", step, mc.store.Dir())
	state, err := mc.store.Load(step)
	if err != nil {
		return err
	}
	if err := mc.net.LoadStateDict(state); err != nil {
		return fmt.Errorf("failed to load checkpoint for step %d: %w", step, err)
	}
	return nil
}

// PrintNetworks logs and returns the number of trainable parameters
func (mc *ModelController) PrintNetworks() int {
	n := mc.net.NumParameters()
	klog.Infof("There are a total number of %d parameters in the model.", n)
	klog.V(2).Info(mc.net.Summary())
	return n
}

// ResumedStep returns the step training resumed from, 0 for a fresh run
func (mc *ModelController) ResumedStep() int { return mc.resumedStep }

// ReturnModel returns the controlled network
func (mc *ModelController) ReturnModel() *models.Network { return mc.net }

// Classes returns the ordered class names
func (mc *ModelController) Classes() []string { return append([]string(nil), mc.classes...) }

// Device returns the device the network lives on
func (mc *ModelController) Device() device.Device { return mc.device }

// Capabilities returns what the network's architecture supports
func (mc *ModelController) Capabilities() models.Capabilities { return mc.net.Capabilities() }

// Store returns the checkpoint store, nil outside the train phase
func (mc *ModelController) Store() *checkpoints.Store { return mc.store }
