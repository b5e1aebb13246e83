package serve

import (
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/Jackmin801/torch-state-server/lib/state"
	"github.com/Jackmin801/torch-state-server/lib/tensor"
)

// --------------------------------------------------------------------------
// Manifest Format
// --------------------------------------------------------------------------

// manifest is the TOML description of a state tree. Example:
//
//	[[scalar]]
//	path = "trainer[step]"
//	kind = "int64"
//	value = "42"
//
//	[[tensor]]
//	path = "model[layers][0][weight]"
//	dtype = "float32"
//	shape = [64, 64]
//	fill = "ramp"
type manifest struct {
	Scalars []scalarEntry `toml:"scalar"`
	Tensors []tensorEntry `toml:"tensor"`
}

type scalarEntry struct {
	Path  string `toml:"path"`
	Kind  string `toml:"kind"`  // str, int64, float64, bool8
	Value string `toml:"value"` // parsed according to kind
}

type tensorEntry struct {
	Path   string `toml:"path"`
	DType  string `toml:"dtype"`  // float32, bfloat16, float16, uint8
	Shape  []int  `toml:"shape"`  // rank <= 6
	Stride []int  `toml:"stride"` // optional, defaults to row-major
	Fill   string `toml:"fill"`   // zeros (default) | ramp
}

// --------------------------------------------------------------------------
// Loading
// --------------------------------------------------------------------------

// LoadManifest reads a TOML manifest and builds the state tree it
// describes.
func LoadManifest(path string) (*state.Store, error) {
	var m manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %v", path, err)
	}
	return buildStore(&m)
}

// buildStore converts a parsed manifest into a store.
func buildStore(m *manifest) (*state.Store, error) {
	root := state.Map{}

	for _, e := range m.Scalars {
		p, err := state.ParsePath(e.Path)
		if err != nil {
			return nil, fmt.Errorf("scalar %q: %v", e.Path, err)
		}
		v, err := parseScalar(e)
		if err != nil {
			return nil, err
		}
		if err := root.Insert(p, v); err != nil {
			return nil, err
		}
	}

	for _, e := range m.Tensors {
		p, err := state.ParsePath(e.Path)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %v", e.Path, err)
		}
		t, err := buildTensor(e)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %v", e.Path, err)
		}
		if err := root.Insert(p, state.Array{Tensor: t}); err != nil {
			return nil, err
		}
	}

	return state.NewStore(root), nil
}

// parseScalar converts a manifest scalar entry to a leaf value.
func parseScalar(e scalarEntry) (state.Value, error) {
	switch e.Kind {
	case "str":
		return state.String(e.Value), nil
	case "int64":
		v, err := strconv.ParseInt(e.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("scalar %q: invalid int64 value %q", e.Path, e.Value)
		}
		return state.Int64(v), nil
	case "float64":
		v, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("scalar %q: invalid float64 value %q", e.Path, e.Value)
		}
		return state.Float64(v), nil
	case "bool8":
		v, err := strconv.ParseBool(e.Value)
		if err != nil {
			return nil, fmt.Errorf("scalar %q: invalid bool8 value %q", e.Path, e.Value)
		}
		return state.Bool(v), nil
	default:
		return nil, fmt.Errorf("scalar %q: unknown kind %q (must be one of str, int64, float64, bool8)", e.Path, e.Kind)
	}
}

// buildTensor allocates and fills a tensor leaf from a manifest entry.
func buildTensor(e tensorEntry) (*tensor.Tensor, error) {
	dt, err := tensor.ParseDType(e.DType)
	if err != nil {
		return nil, err
	}

	stride := e.Stride
	if len(stride) == 0 {
		stride = tensor.ContiguousStride(e.Shape)
	}
	t, err := tensor.New(dt, e.Shape, stride)
	if err != nil {
		return nil, err
	}

	switch e.Fill {
	case "", "zeros":
		// storage is already zeroed
	case "ramp":
		buf := make([]byte, t.NumElements()*t.ElementSize())
		for i := range buf {
			buf[i] = byte(i)
		}
		if err := t.DecodeInto(buf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown fill %q (must be zeros or ramp)", e.Fill)
	}
	return t, nil
}
