package checkpoints

import (
	"fmt"
	"math"
	"time"

	"github.com/tsawler/go-uncertainty/layers"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"gorgonia.org/tensor"
)

const (
	Version   = "1.0.0"
	Framework = "go-uncertainty"

	metadataKey  = "_metadata"
	stateDictKey = "state_dict"
)

// Metadata describes when and by what a checkpoint was written. It is never
// needed to restore parameters.
type Metadata struct {
	Version   string
	Framework string
	Step      int
	CreatedAt time.Time
}

// encodeState builds the checkpoint document:
//
//	{"<param>": {"shape": [...], "data": [...]}, ..., "_metadata": {...}}
func encodeState(state layers.StateDict, meta Metadata) (*structpb.Struct, error) {
	fields := make(map[string]*structpb.Value, len(state)+1)
	for name, t := range state {
		if name == metadataKey || name == stateDictKey {
			return nil, fmt.Errorf("parameter name %q is reserved", name)
		}
		if t.Dtype() != tensor.Float64 {
			return nil, fmt.Errorf("unsupported dtype %v for %q", t.Dtype(), name)
		}

		shape := make([]*structpb.Value, len(t.Shape()))
		for i, d := range t.Shape() {
			shape[i] = structpb.NewNumberValue(float64(d))
		}
		values := t.Float64s()
		data := make([]*structpb.Value, len(values))
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("parameter %q holds a non-finite value at %d", name, i)
			}
			data[i] = structpb.NewNumberValue(v)
		}

		fields[name] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"shape": structpb.NewListValue(&structpb.ListValue{Values: shape}),
			"data":  structpb.NewListValue(&structpb.ListValue{Values: data}),
		}})
	}

	ts := timestamppb.New(meta.CreatedAt)
	fields[metadataKey] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"version":   structpb.NewStringValue(meta.Version),
		"framework": structpb.NewStringValue(meta.Framework),
		"step":      structpb.NewNumberValue(float64(meta.Step)),
		"created_at": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"seconds": structpb.NewNumberValue(float64(ts.GetSeconds())),
			"nanos":   structpb.NewNumberValue(float64(ts.GetNanos())),
		}}),
	}})

	return &structpb.Struct{Fields: fields}, nil
}

// decodeState accepts the document with or without a "state_dict" wrapper
// and with or without a "_metadata" entry
func decodeState(doc *structpb.Struct) (layers.StateDict, error) {
	fields := doc.GetFields()
	if inner, ok := fields[stateDictKey]; ok {
		s := inner.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("%q must be an object", stateDictKey)
		}
		fields = s.GetFields()
	}

	state := make(layers.StateDict, len(fields))
	for name, v := range fields {
		if name == metadataKey {
			continue
		}
		t, err := decodeTensor(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		state[name] = t
	}
	if len(state) == 0 {
		return nil, fmt.Errorf("no parameters found")
	}
	return state, nil
}

func decodeTensor(v *structpb.Value) (*tensor.Dense, error) {
	obj := v.GetStructValue()
	if obj == nil {
		return nil, fmt.Errorf("expected an object with shape and data")
	}
	dataList := obj.GetFields()["data"].GetListValue()
	if dataList == nil {
		return nil, fmt.Errorf("missing data")
	}

	data := make([]float64, len(dataList.GetValues()))
	for i, item := range dataList.GetValues() {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("data[%d] is not a number", i)
		}
		data[i] = n.NumberValue
	}

	shape := []int{len(data)}
	if shapeList := obj.GetFields()["shape"].GetListValue(); shapeList != nil {
		shape = make([]int, len(shapeList.GetValues()))
		total := 1
		for i, item := range shapeList.GetValues() {
			d := item.GetNumberValue()
			if d < 0 || d != math.Trunc(d) {
				return nil, fmt.Errorf("invalid dimension %v", d)
			}
			shape[i] = int(d)
			total *= shape[i]
		}
		if len(shape) == 0 {
			// scalars are stored with an empty shape
			shape, total = []int{1}, 1
		}
		if total != len(data) {
			return nil, fmt.Errorf("shape %v does not match %d values", shape, len(data))
		}
	}

	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

func decodeMetadata(doc *structpb.Struct) (*Metadata, error) {
	fields := doc.GetFields()
	v, ok := fields[metadataKey]
	if !ok {
		if inner := fields[stateDictKey].GetStructValue(); inner != nil {
			v, ok = inner.GetFields()[metadataKey]
		}
	}
	if !ok {
		return nil, nil
	}
	m := v.GetStructValue()
	if m == nil {
		return nil, fmt.Errorf("%q must be an object", metadataKey)
	}

	meta := &Metadata{
		Version:   m.GetFields()["version"].GetStringValue(),
		Framework: m.GetFields()["framework"].GetStringValue(),
		Step:      int(m.GetFields()["step"].GetNumberValue()),
	}
	if created := m.GetFields()["created_at"].GetStructValue(); created != nil {
		ts := &timestamppb.Timestamp{
			Seconds: int64(created.GetFields()["seconds"].GetNumberValue()),
			Nanos:   int32(created.GetFields()["nanos"].GetNumberValue()),
		}
		if err := ts.CheckValid(); err != nil {
			return nil, fmt.Errorf("invalid creation time: %w", err)
		}
		meta.CreatedAt = ts.AsTime()
	}
	return meta, nil
}
