package server

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Jackmin801/torch-state-server/lib/state"
	"github.com/Jackmin801/torch-state-server/lib/tensor"
	"github.com/Jackmin801/torch-state-server/rpc/client"
	"github.com/Jackmin801/torch-state-server/rpc/common"
)

// mustPath parses a path or fails the test.
func mustPath(t *testing.T, s string) state.Path {
	t.Helper()
	p, err := state.ParsePath(s)
	if err != nil {
		t.Fatalf("ParsePath(%q) failed: %v", s, err)
	}
	return p
}

// mustInsert places a value into the tree or fails the test.
func mustInsert(t *testing.T, root state.Map, path string, v state.Value) {
	t.Helper()
	if err := root.Insert(mustPath(t, path), v); err != nil {
		t.Fatalf("Insert(%q) failed: %v", path, err)
	}
}

// rampTensor builds a tensor with the given layout filled with a
// deterministic byte pattern derived from seed.
func rampTensor(t *testing.T, dt tensor.DType, shape, stride []int, seed byte) *tensor.Tensor {
	t.Helper()
	tn, err := tensor.New(dt, shape, stride)
	if err != nil {
		t.Fatalf("tensor.New failed: %v", err)
	}
	buf := make([]byte, tn.NumElements()*tn.ElementSize())
	for i := range buf {
		buf[i] = seed + byte(i)
	}
	if err := tn.DecodeInto(buf); err != nil {
		t.Fatalf("DecodeInto failed: %v", err)
	}
	return tn
}

// startTestServer builds a store, starts a server on an ephemeral port, and
// returns a connected client. The server is stopped on test cleanup.
func startTestServer(t *testing.T, root state.Map) (*StateServer, *client.StateClient) {
	t.Helper()
	srv := NewStateServer(state.NewStore(root), common.ServerConfig{
		Endpoint:      "127.0.0.1:0",
		TimeoutSecond: 10,
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})

	c := client.NewStateClient(common.ClientConfig{
		Endpoint:      srv.Addr().String(),
		TimeoutSecond: 10,
	})
	return srv, c
}

// TestScalarRoundTrip fetches every scalar kind with representative values.
func TestScalarRoundTrip(t *testing.T) {
	root := state.Map{}
	mustInsert(t, root, "trainer[run_name]", state.String("hello"))
	mustInsert(t, root, "trainer[step]", state.Int64(-42))
	mustInsert(t, root, "trainer[lr]", state.Float64(3.14159))
	mustInsert(t, root, "trainer[amp]", state.Bool(true))
	_, c := startTestServer(t, root)

	t.Run("string", func(t *testing.T) {
		got, err := c.GetString("trainer[run_name]")
		if err != nil {
			t.Fatalf("GetString failed: %v", err)
		}
		if got != "hello" {
			t.Errorf("got %q, want %q", got, "hello")
		}
	})

	t.Run("int64", func(t *testing.T) {
		got, err := c.GetInt64("trainer[step]")
		if err != nil {
			t.Fatalf("GetInt64 failed: %v", err)
		}
		if got != -42 {
			t.Errorf("got %d, want -42", got)
		}
	})

	t.Run("float64", func(t *testing.T) {
		got, err := c.GetFloat64("trainer[lr]")
		if err != nil {
			t.Fatalf("GetFloat64 failed: %v", err)
		}
		if got != 3.14159 {
			t.Errorf("got %v, want 3.14159", got)
		}
	})

	t.Run("bool", func(t *testing.T) {
		got, err := c.GetBool("trainer[amp]")
		if err != nil {
			t.Fatalf("GetBool failed: %v", err)
		}
		if got != true {
			t.Errorf("got %v, want true", got)
		}
	})
}

// TestScalarKindMismatch checks that requesting the wrong scalar kind
// yields a server-side error, not a garbled decode.
func TestScalarKindMismatch(t *testing.T) {
	root := state.Map{}
	mustInsert(t, root, "trainer[step]", state.Int64(1))
	_, c := startTestServer(t, root)

	_, err := c.GetFloat64("trainer[step]")
	var ce *client.ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ClientError, got %v", err)
	}
}

// TestTensorRoundTrip fetches tensors of every rank, contiguous and not,
// with and without a pre-allocated destination.
func TestTensorRoundTrip(t *testing.T) {
	layouts := []struct {
		name   string
		dt     tensor.DType
		shape  []int
		stride []int
	}{
		{"rank0", tensor.Float32, nil, nil},
		{"rank1", tensor.Float32, []int{16}, []int{1}},
		{"rank2_transposed", tensor.Float32, []int{4, 8}, []int{1, 4}},
		{"rank3", tensor.BFloat16, []int{2, 3, 4}, []int{12, 4, 1}},
		{"rank4_gapped", tensor.Float16, []int{2, 2, 2, 2}, []int{16, 8, 4, 2}},
		{"rank5", tensor.Uint8, []int{2, 1, 3, 1, 2}, []int{6, 6, 2, 2, 1}},
		{"rank6", tensor.Float32, []int{1, 2, 1, 2, 1, 2}, []int{8, 4, 4, 2, 2, 1}},
	}

	root := state.Map{}
	sources := map[string]*tensor.Tensor{}
	for i, l := range layouts {
		tn := rampTensor(t, l.dt, l.shape, l.stride, byte(i*17+1))
		path := fmt.Sprintf("model[layers][%d][weight]", i)
		mustInsert(t, root, path, state.Array{Tensor: tn})
		sources[l.name] = tn
	}
	_, c := startTestServer(t, root)

	for i, l := range layouts {
		path := fmt.Sprintf("model[layers][%d][weight]", i)
		src := sources[l.name]

		t.Run(l.name+"/metadata", func(t *testing.T) {
			got, err := c.GetTensor(path, common.TypeUnspecified, nil)
			if err != nil {
				t.Fatalf("GetTensor failed: %v", err)
			}
			if got.DType() != src.DType() {
				t.Errorf("dtype: got %s, want %s", got.DType(), src.DType())
			}
			if !bytes.Equal(got.EncodeBytes(), src.EncodeBytes()) {
				t.Error("payload mismatch")
			}
			// Shape and stride must be reproduced exactly via the metadata
			// header.
			if fmt.Sprint(got.Shape()) != fmt.Sprint(src.Shape()) {
				t.Errorf("shape: got %v, want %v", got.Shape(), src.Shape())
			}
			if fmt.Sprint(got.Stride()) != fmt.Sprint(src.Stride()) {
				t.Errorf("stride: got %v, want %v", got.Stride(), src.Stride())
			}
		})

		t.Run(l.name+"/preallocated", func(t *testing.T) {
			dst, err := tensor.Contiguous(src.DType(), src.Shape())
			if err != nil {
				t.Fatalf("tensor.Contiguous failed: %v", err)
			}
			got, err := c.GetTensor(path, common.TypeUnspecified, dst)
			if err != nil {
				t.Fatalf("GetTensor failed: %v", err)
			}
			if got != dst {
				t.Error("pre-allocated destination was not used")
			}
			if !bytes.Equal(dst.EncodeBytes(), src.EncodeBytes()) {
				t.Error("payload mismatch")
			}
		})
	}
}

// TestQuantizedCodebookPlacement checks that a UNIFORM_INT8 response
// carries the 256-byte codebook block and still round-trips the payload.
func TestQuantizedCodebookPlacement(t *testing.T) {
	src := rampTensor(t, tensor.Uint8, []int{8}, []int{1}, 3)
	root := state.Map{}
	mustInsert(t, root, "model[quantized]", state.Array{Tensor: src})
	_, c := startTestServer(t, root)

	got, err := c.GetTensor("model[quantized]", common.TypeUniformInt8, nil)
	if err != nil {
		t.Fatalf("GetTensor failed: %v", err)
	}
	if !bytes.Equal(got.EncodeBytes(), src.EncodeBytes()) {
		t.Error("payload mismatch")
	}
}

// TestPathNotFound checks that the error message carries the requested
// path.
func TestPathNotFound(t *testing.T) {
	root := state.Map{}
	mustInsert(t, root, "a[b]", state.Int64(1))
	_, c := startTestServer(t, root)

	_, err := c.GetInt64("a[missing]")
	var ce *client.ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ClientError, got %v", err)
	}
	if !strings.Contains(ce.Message, "a[missing]") {
		t.Errorf("error message %q does not contain the path", ce.Message)
	}
}

// TestSizeMismatch checks the element-count guard for pre-allocated
// destinations.
func TestSizeMismatch(t *testing.T) {
	src := rampTensor(t, tensor.Float32, []int{4}, []int{1}, 9)
	root := state.Map{}
	mustInsert(t, root, "model[w]", state.Array{Tensor: src})
	_, c := startTestServer(t, root)

	dst, err := tensor.Contiguous(tensor.Float32, []int{8})
	if err != nil {
		t.Fatalf("tensor.Contiguous failed: %v", err)
	}
	_, err = c.GetTensor("model[w]", common.TypeUnspecified, dst)
	var ce *client.ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ClientError, got %v", err)
	}
	if !strings.Contains(ce.Message, "size mismatch") {
		t.Errorf("unexpected message: %q", ce.Message)
	}
}

// TestTransferTypeConversionRejected checks that asking for a different
// array element type is refused (conversion is unimplemented).
func TestTransferTypeConversionRejected(t *testing.T) {
	src := rampTensor(t, tensor.Float32, []int{4}, []int{1}, 5)
	root := state.Map{}
	mustInsert(t, root, "model[w]", state.Array{Tensor: src})
	_, c := startTestServer(t, root)

	_, err := c.GetTensor("model[w]", common.TypeFloat16, nil)
	var ce *client.ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ClientError, got %v", err)
	}
}

// TestConcurrentClients issues 50 simultaneous requests for distinct paths
// and checks that every response carries exactly the bytes of its own path.
func TestConcurrentClients(t *testing.T) {
	const n = 50

	root := state.Map{}
	want := make([]*tensor.Tensor, n)
	for i := 0; i < n; i++ {
		want[i] = rampTensor(t, tensor.Float32, []int{32}, []int{1}, byte(i+1))
		mustInsert(t, root, fmt.Sprintf("model[layers][%d][weight]", i), state.Array{Tensor: want[i]})
	}
	srv, _ := startTestServer(t, root)

	var wg sync.WaitGroup
	failures := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// One client instance per goroutine; calls never share a socket.
			c := client.NewStateClient(common.ClientConfig{
				Endpoint:      srv.Addr().String(),
				TimeoutSecond: 10,
			})
			got, err := c.GetTensor(fmt.Sprintf("model[layers][%d][weight]", i), common.TypeUnspecified, nil)
			if err != nil {
				failures <- fmt.Sprintf("client %d: %v", i, err)
				return
			}
			if !bytes.Equal(got.EncodeBytes(), want[i].EncodeBytes()) {
				failures <- fmt.Sprintf("client %d: received bytes for a different tensor", i)
			}
		}(i)
	}
	wg.Wait()
	close(failures)

	for f := range failures {
		t.Error(f)
	}
}

// TestStartStop covers the lifecycle contract: double start fails, stop
// without start is a no-op, stop is idempotent, and restart works.
func TestStartStop(t *testing.T) {
	srv := NewStateServer(state.NewStore(state.Map{}), common.ServerConfig{
		Endpoint: "127.0.0.1:0",
	})

	// Stop before start must not raise.
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop before Start failed: %v", err)
	}

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := srv.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: expected ErrAlreadyRunning, got %v", err)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	// A stopped server can be started again.
	if err := srv.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop after restart failed: %v", err)
	}
}
