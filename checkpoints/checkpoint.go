package checkpoints

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/tsawler/go-uncertainty/config"
	"github.com/tsawler/go-uncertainty/layers"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/klog/v2"
)

// Format defines the serialization format of checkpoint files
type Format int

const (
	FormatProto Format = iota // binary protobuf encoding of a structpb.Struct
	FormatJSON                // JSON encoding of the same document
)

func (f Format) String() string {
	switch f {
	case FormatProto:
		return "proto"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Extension returns the file extension used for the format
func (f Format) Extension() string {
	if f == FormatJSON {
		return ".json"
	}
	return ".pb"
}

// ParseFormat converts a configuration value into a Format
func ParseFormat(s string) (Format, error) {
	switch s {
	case "proto", "pb", "":
		return FormatProto, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("%w: unsupported checkpoint format %q", config.ErrConfiguration, s)
	}
}

// checkpoint_<step>_steps.<ext>; the step may or may not be zero padded
var checkpointName = regexp.MustCompile(`^checkpoint_(\d+)_steps\.(pb|json)$`)

// FileName returns the checkpoint file name for step
func FileName(step int, format Format) string {
	return fmt.Sprintf("checkpoint_%08d_steps%s", step, format.Extension())
}

// ParseStep extracts the step from a checkpoint file name
func ParseStep(name string) (int, bool) {
	m := checkpointName.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	step, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return step, true
}

// Store keeps step-indexed parameter snapshots in a single directory
type Store struct {
	dir    string
	format Format
}

// NewStore opens (and creates if needed) a checkpoint directory
func NewStore(dir string, format Format) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: checkpoint directory must not be empty", config.ErrConfiguration)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{dir: dir, format: format}, nil
}

// Dir returns the checkpoint directory
func (s *Store) Dir() string { return s.dir }

// Format returns the format used when saving
func (s *Store) Format() Format { return s.format }

// Path returns where a checkpoint for step is written
func (s *Store) Path(step int) string {
	return filepath.Join(s.dir, FileName(step, s.format))
}

// Save writes state as the checkpoint for step and returns its path
func (s *Store) Save(step int, state layers.StateDict) (string, error) {
	if step < 0 {
		return "", fmt.Errorf("invalid checkpoint step %d", step)
	}
	doc, err := encodeState(state, Metadata{
		Version:   Version,
		Framework: Framework,
		Step:      step,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return "", err
	}

	var data []byte
	switch s.format {
	case FormatProto:
		data, err = proto.MarshalOptions{Deterministic: true}.Marshal(doc)
	case FormatJSON:
		data, err = protojson.Marshal(doc)
	default:
		return "", fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	path := s.Path(step)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to finalize checkpoint file: %w", err)
	}
	return path, nil
}

// Steps returns the saved steps in increasing numeric order
func (s *Store) Steps() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	seen := make(map[int]bool)
	var steps []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if step, ok := ParseStep(e.Name()); ok && !seen[step] {
			seen[step] = true
			steps = append(steps, step)
		}
	}
	sort.Ints(steps)
	return steps, nil
}

// IsEmpty reports whether the directory holds no checkpoints
func (s *Store) IsEmpty() (bool, error) {
	steps, err := s.Steps()
	if err != nil {
		return false, err
	}
	return len(steps) == 0, nil
}

// Latest returns the numerically greatest saved step
func (s *Store) Latest() (int, error) {
	steps, err := s.Steps()
	if err != nil {
		return 0, err
	}
	if len(steps) == 0 {
		return 0, fmt.Errorf("%w: no checkpoints in %s", config.ErrState, s.dir)
	}
	return steps[len(steps)-1], nil
}

// Load reads the checkpoint for step. Files written in either format and
// with or without zero padding are found.
func (s *Store) Load(step int) (layers.StateDict, error) {
	path, err := s.find(step)
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

func (s *Store) find(step int) (string, error) {
	if path := s.Path(step); fileExists(path) {
		return path, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("failed to list checkpoints: %w", err)
	}
	for _, e := range entries {
		if got, ok := ParseStep(e.Name()); ok && got == step && !e.IsDir() {
			return filepath.Join(s.dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no checkpoint for step %d in %s: %w", step, s.dir, fs.ErrNotExist)
}

// LoadFile reads a checkpoint from any path. The format is taken from the
// extension and sniffed from the content otherwise.
func LoadFile(path string) (layers.StateDict, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	state, err := decodeState(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint %s: %w", path, err)
	}
	klog.V(1).Infof("loaded %d tensors from %s", len(state), path)
	return state, nil
}

// ReadMetadata returns the metadata stored in a checkpoint, or nil when the
// file carries none
func ReadMetadata(path string) (*Metadata, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	return decodeMetadata(doc)
}

func readDocument(path string) (*structpb.Struct, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	doc := &structpb.Struct{}
	if detectFormat(path, data) == FormatJSON {
		err = protojson.Unmarshal(data, doc)
	} else {
		err = proto.Unmarshal(data, doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}
	return doc, nil
}

func detectFormat(path string, data []byte) Format {
	switch filepath.Ext(path) {
	case ".json":
		return FormatJSON
	case ".pb":
		return FormatProto
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatProto
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
