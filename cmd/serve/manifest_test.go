package serve

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Jackmin801/torch-state-server/lib/state"
	"github.com/Jackmin801/torch-state-server/lib/tensor"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return path
}

func resolve(t *testing.T, store *state.Store, raw string) state.Value {
	t.Helper()
	p, err := state.ParsePath(raw)
	if err != nil {
		t.Fatalf("ParsePath(%q) failed: %v", raw, err)
	}
	v, err := store.Resolve(p)
	if err != nil {
		t.Fatalf("Resolve(%q) failed: %v", raw, err)
	}
	return v
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
[[scalar]]
path = "trainer[step]"
kind = "int64"
value = "42"

[[scalar]]
path = "trainer[lr]"
kind = "float64"
value = "0.001"

[[scalar]]
path = "trainer[name]"
kind = "str"
value = "run-7"

[[scalar]]
path = "trainer[done]"
kind = "bool8"
value = "true"

[[tensor]]
path = "model[layers][0][weight]"
dtype = "float32"
shape = [2, 3]
fill = "ramp"

[[tensor]]
path = "model[layers][1][weight]"
dtype = "uint8"
shape = [4]
stride = [2]
`)

	store, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}

	t.Run("scalars", func(t *testing.T) {
		if v := resolve(t, store, "trainer[step]"); v != state.Int64(42) {
			t.Errorf("expected 42, got %v", v)
		}
		if v := resolve(t, store, "trainer[lr]"); v != state.Float64(0.001) {
			t.Errorf("expected 0.001, got %v", v)
		}
		if v := resolve(t, store, "trainer[name]"); v != state.String("run-7") {
			t.Errorf("expected run-7, got %v", v)
		}
		if v := resolve(t, store, "trainer[done]"); v != state.Bool(true) {
			t.Errorf("expected true, got %v", v)
		}
	})

	t.Run("ramp tensor", func(t *testing.T) {
		arr, ok := resolve(t, store, "model[layers][0][weight]").(state.Array)
		if !ok {
			t.Fatalf("expected array leaf")
		}
		if arr.Tensor.DType() != tensor.Float32 {
			t.Errorf("expected float32, got %s", arr.Tensor.DType())
		}
		if !reflect.DeepEqual(arr.Tensor.Shape(), []int{2, 3}) {
			t.Errorf("unexpected shape %v", arr.Tensor.Shape())
		}
		want := make([]byte, 24)
		for i := range want {
			want[i] = byte(i)
		}
		if !reflect.DeepEqual(arr.Tensor.EncodeBytes(), want) {
			t.Errorf("ramp fill not reproduced")
		}
	})

	t.Run("explicit stride", func(t *testing.T) {
		arr, ok := resolve(t, store, "model[layers][1][weight]").(state.Array)
		if !ok {
			t.Fatalf("expected array leaf")
		}
		if !reflect.DeepEqual(arr.Tensor.Stride(), []int{2}) {
			t.Errorf("unexpected stride %v", arr.Tensor.Stride())
		}
	})
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "unknown scalar kind",
			content: `
[[scalar]]
path = "a"
kind = "int32"
value = "1"
`,
		},
		{
			name: "invalid int64 value",
			content: `
[[scalar]]
path = "a"
kind = "int64"
value = "abc"
`,
		},
		{
			name: "unknown fill",
			content: `
[[tensor]]
path = "a"
dtype = "float32"
shape = [2]
fill = "random"
`,
		},
		{
			name: "rank too high",
			content: `
[[tensor]]
path = "a"
dtype = "float32"
shape = [1, 1, 1, 1, 1, 1, 1]
`,
		},
		{
			name: "conflicting leaves",
			content: `
[[scalar]]
path = "a[b]"
kind = "int64"
value = "1"

[[scalar]]
path = "a[b][c]"
kind = "int64"
value = "2"
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadManifest(writeManifest(t, tc.content)); err == nil {
				t.Errorf("expected error, got nil")
			}
		})
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	if _, err := LoadManifest(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Errorf("expected error for missing manifest")
	}
}
