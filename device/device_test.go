package device

import (
	"errors"
	"testing"

	"gorgonia.org/tensor"

	"github.com/tsawler/go-uncertainty/config"
)

func TestSelect(t *testing.T) {
	dev, err := Select(config.DeviceAuto)
	if err != nil {
		t.Fatalf("auto selection failed: %v", err)
	}
	if dev.Type != CPU {
		t.Errorf("expected cpu fallback, got %s", dev)
	}

	dev, err = Select(config.DeviceCPU)
	if err != nil || dev.String() != "cpu" {
		t.Errorf("expected cpu, got %s (%v)", dev, err)
	}

	if _, err := Select(config.DeviceGPU); !errors.Is(err, config.ErrConfiguration) {
		t.Errorf("expected configuration error for unavailable gpu, got %v", err)
	}
}

func TestSelectAcceleratedWhenAvailable(t *testing.T) {
	orig := AcceleratorAvailable
	defer func() { AcceleratorAvailable = orig }()
	AcceleratorAvailable = func() bool { return true }

	dev, err := Select(config.DeviceAuto)
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if dev.Type != GPU || dev.String() != "gpu:0" {
		t.Errorf("expected gpu:0, got %s", dev)
	}
}

func TestTransfer(t *testing.T) {
	dev := Device{Type: CPU}

	f64 := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{1, 2, 3, 4}))
	out, err := dev.Transfer(f64)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if out != f64 {
		t.Error("float64 tensor should be placed without copying")
	}

	f32 := tensor.New(tensor.WithShape(3), tensor.WithBacking([]float32{0.5, 1.5, -2}))
	out, err = dev.Transfer(f32)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	got := out.Float64s()
	want := []float64{0.5, 1.5, -2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	if _, err := dev.Transfer(nil); err == nil {
		t.Error("expected error for nil tensor")
	}

	ints := tensor.New(tensor.WithShape(2), tensor.WithBacking([]int{1, 2}))
	if _, err := dev.Transfer(ints); err == nil {
		t.Error("expected error for integer tensor")
	}
}
