package config

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
)

// Error kinds shared by the controller, the checkpoint store and the
// uncertainty estimator. Callers test for them with errors.Is.
var (
	// ErrConfiguration reports an option combination the core cannot run with.
	ErrConfiguration = errors.New("configuration error")
	// ErrState reports that the filesystem or model state does not allow the requested action.
	ErrState = errors.New("state error")
)

// Phase selects between training and inference behaviour
type Phase string

const (
	PhaseTrain Phase = "train"
	PhaseTest  Phase = "test"
)

// DevicePreference controls device selection at startup
type DevicePreference string

const (
	DeviceAuto DevicePreference = "auto" // accelerated device if available, else CPU
	DeviceCPU  DevicePreference = "cpu"
	DeviceGPU  DevicePreference = "gpu" // fail if no accelerated device is available
)

// LatestCheckpoint is the checkpoint selector that resolves to the greatest saved step
const LatestCheckpoint = "latest"

// Config holds every recognised option. It is validated once at startup and
// passed by value afterwards.
type Config struct {
	Phase  Phase
	Arch   string
	Device DevicePreference
	Seed   int64

	// Optimisation
	LearningRate float64
	WeightDecay  float64
	BatchSize    int
	NumEpochs    int

	// Checkpoints
	CheckpointsDir     string
	Name               string
	CheckpointFormat   string // "proto" or "json"
	Resume             bool
	WhichCheckpoint    string // "latest" or an explicit step
	TestCheckpointPath string
	CheckpointFreq     int
	DisplayFreq        int

	// Data
	DataRoot      string
	PosRoot       string
	NegRoot       string
	InputSize     int
	Pretrained    bool
	NumWorkers    int
	CacheSize     int
	PrefetchDepth int

	// Network provider
	HiddenSize  int
	DropoutRate float64

	// Uncertainty
	NumSamples int
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Phase:            PhaseTrain,
		Arch:             "AmirNet_DO",
		Device:           DeviceAuto,
		Seed:             1,
		LearningRate:     0.0001,
		WeightDecay:      0.0001,
		BatchSize:        16,
		NumEpochs:        10,
		CheckpointsDir:   "checkpoints",
		Name:             "AmirNet",
		CheckpointFormat: "proto",
		WhichCheckpoint:  LatestCheckpoint,
		CheckpointFreq:   1000,
		DisplayFreq:      100,
		DataRoot:         "data/train",
		PosRoot:          "data/pos",
		NegRoot:          "data/neg",
		InputSize:        64,
		NumWorkers:       4,
		CacheSize:        1000,
		PrefetchDepth:    2,
		HiddenSize:       128,
		DropoutRate:      0.5,
		NumSamples:       10,
	}
}

// RegisterFlags binds every option to a flag on fs, using the receiver's
// current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar((*string)(&c.Phase), "phase", string(c.Phase), "train or test")
	fs.StringVar(&c.Arch, "arch", c.Arch, "network architecture: AmirNet, AmirNet_DO, AmirNet_CDO, AmirNet_VDO")
	fs.StringVar((*string)(&c.Device), "device", string(c.Device), "device preference: auto, cpu or gpu")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "random seed for weight initialisation and dropout masks")

	fs.Float64Var(&c.LearningRate, "lr", c.LearningRate, "learning rate")
	fs.Float64Var(&c.WeightDecay, "weight_decay", c.WeightDecay, "weight decay (ignored by architectures that regularise their own weights)")
	fs.IntVar(&c.BatchSize, "batch_size", c.BatchSize, "batch size")
	fs.IntVar(&c.NumEpochs, "num_epochs", c.NumEpochs, "number of training epochs")

	fs.StringVar(&c.CheckpointsDir, "checkpoints_dir", c.CheckpointsDir, "directory holding one sub-directory of checkpoints per run")
	fs.StringVar(&c.Name, "name", c.Name, "run name, used as the checkpoint sub-directory")
	fs.StringVar(&c.CheckpointFormat, "checkpoint_format", c.CheckpointFormat, "checkpoint encoding: proto or json")
	fs.BoolVar(&c.Resume, "resume", c.Resume, "resume training from a saved checkpoint")
	fs.StringVar(&c.WhichCheckpoint, "which_checkpoint", c.WhichCheckpoint, "checkpoint to resume from: latest or a step number")
	fs.StringVar(&c.TestCheckpointPath, "test_checkpoint_path", c.TestCheckpointPath, "checkpoint file used for inference")
	fs.IntVar(&c.CheckpointFreq, "checkpoint_freq", c.CheckpointFreq, "save a checkpoint every N steps")
	fs.IntVar(&c.DisplayFreq, "display_freq", c.DisplayFreq, "write a labelled training preview every N steps (0 disables)")

	fs.StringVar(&c.DataRoot, "data_root", c.DataRoot, "training images, one sub-directory per class")
	fs.StringVar(&c.PosRoot, "pos_root", c.PosRoot, "positive test images, one sub-directory per class")
	fs.StringVar(&c.NegRoot, "neg_root", c.NegRoot, "negative (out-of-distribution) test images")
	fs.IntVar(&c.InputSize, "input_size", c.InputSize, "input image size")
	fs.BoolVar(&c.Pretrained, "pretrained", c.Pretrained, "normalise inputs with ImageNet statistics")
	fs.IntVar(&c.NumWorkers, "num_workers", c.NumWorkers, "image preprocessing workers")
	fs.IntVar(&c.CacheSize, "cache_size", c.CacheSize, "number of preprocessed images kept in memory")
	fs.IntVar(&c.PrefetchDepth, "prefetch_depth", c.PrefetchDepth, "batches loaded ahead of the model")

	fs.IntVar(&c.HiddenSize, "hidden_size", c.HiddenSize, "width of the first hidden layer")
	fs.Float64Var(&c.DropoutRate, "dropout_rate", c.DropoutRate, "drop probability for fixed-rate dropout architectures")

	fs.IntVar(&c.NumSamples, "num_samples", c.NumSamples, "stochastic forward passes per image for uncertainty estimation")
}

// Validate checks option ranges. The checkpoint selector is checked by the
// controller when it is used.
func (c Config) Validate() error {
	switch c.Phase {
	case PhaseTrain, PhaseTest:
	default:
		return fmt.Errorf("%w: unknown phase %q", ErrConfiguration, c.Phase)
	}

	switch c.Device {
	case DeviceAuto, DeviceCPU, DeviceGPU:
	default:
		return fmt.Errorf("%w: unknown device preference %q", ErrConfiguration, c.Device)
	}

	if c.Arch == "" {
		return fmt.Errorf("%w: architecture must be specified", ErrConfiguration)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrConfiguration, c.LearningRate)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("%w: weight decay cannot be negative, got %g", ErrConfiguration, c.WeightDecay)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrConfiguration, c.BatchSize)
	}
	if c.InputSize <= 0 {
		return fmt.Errorf("%w: input size must be positive, got %d", ErrConfiguration, c.InputSize)
	}
	if c.NumSamples < 1 {
		return fmt.Errorf("%w: number of samples must be at least 1, got %d", ErrConfiguration, c.NumSamples)
	}
	if c.HiddenSize < 2 {
		return fmt.Errorf("%w: hidden size must be at least 2, got %d", ErrConfiguration, c.HiddenSize)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("%w: dropout rate must be in [0, 1), got %g", ErrConfiguration, c.DropoutRate)
	}
	if c.CheckpointFormat != "proto" && c.CheckpointFormat != "json" {
		return fmt.Errorf("%w: unknown checkpoint format %q", ErrConfiguration, c.CheckpointFormat)
	}
	if c.Phase == PhaseTrain && c.CheckpointFreq <= 0 {
		return fmt.Errorf("%w: checkpoint frequency must be positive, got %d", ErrConfiguration, c.CheckpointFreq)
	}

	return nil
}

// CheckpointDir returns the directory checkpoints of this run are written to
func (c Config) CheckpointDir() string {
	return filepath.Join(c.CheckpointsDir, c.Name)
}
