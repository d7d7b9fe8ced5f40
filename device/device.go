// Package device selects the compute device a model controller runs on and
// moves tensors onto it.
package device

import (
	"fmt"

	"gorgonia.org/tensor"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-uncertainty/config"
)

// DeviceType identifies a class of compute device
type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// Device is a selected compute device. It is chosen once and passed explicitly
// to everything that places tensors.
type Device struct {
	Type  DeviceType
	Index int
}

// String returns the device name in the usual "cpu" / "gpu:0" form
func (d Device) String() string {
	if d.Type == GPU {
		return fmt.Sprintf("gpu:%d", d.Index)
	}
	return "cpu"
}

// AcceleratorAvailable reports whether an accelerated backend is compiled in.
// The pure Go kernels in this module only execute on the CPU.
var AcceleratorAvailable = func() bool { return false }

// Select resolves a device preference into a device
func Select(pref config.DevicePreference) (Device, error) {
	switch pref {
	case config.DeviceCPU:
		return Device{Type: CPU}, nil
	case config.DeviceGPU:
		if !AcceleratorAvailable() {
			return Device{}, fmt.Errorf("%w: an accelerated device was requested but none is available", config.ErrConfiguration)
		}
		return Device{Type: GPU}, nil
	case config.DeviceAuto, "":
		if AcceleratorAvailable() {
			return Device{Type: GPU}, nil
		}
		klog.V(1).Info("no accelerated device available, using cpu")
		return Device{Type: CPU}, nil
	default:
		return Device{}, fmt.Errorf("%w: unknown device preference %q", config.ErrConfiguration, pref)
	}
}

// Transfer places t on the device. Tensors already in the device's element
// type are returned as is; float32 tensors are widened to float64.
func (d Device) Transfer(t *tensor.Dense) (*tensor.Dense, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot transfer a nil tensor to %s", d)
	}
	if d.Type != CPU {
		return nil, fmt.Errorf("no kernels for device %s", d)
	}

	switch t.Dtype() {
	case tensor.Float64:
		return t, nil
	case tensor.Float32:
		src := t.Float32s()
		dst := make([]float64, len(src))
		for i, v := range src {
			dst[i] = float64(v)
		}
		return tensor.New(tensor.WithShape(t.Shape().Clone()...), tensor.WithBacking(dst)), nil
	default:
		return nil, fmt.Errorf("cannot transfer tensor of dtype %v to %s", t.Dtype(), d)
	}
}
