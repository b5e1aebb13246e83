package tensor

import (
	"fmt"
)

// MaxRank is the maximum number of dimensions a tensor may have.
const MaxRank = 6

// --------------------------------------------------------------------------
// Element Types
// --------------------------------------------------------------------------

// DType identifies the element type of a tensor.
type DType uint8

const (
	Float32 DType = iota
	BFloat16
	Float16
	Uint8
)

// Size returns the size of one element in bytes.
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	case BFloat16, Float16:
		return 2
	case Uint8:
		return 1
	default:
		return 0
	}
}

// String returns the string representation of a DType.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case BFloat16:
		return "bfloat16"
	case Float16:
		return "float16"
	case Uint8:
		return "uint8"
	default:
		return "unknown"
	}
}

// ParseDType converts a string to a DType.
func ParseDType(s string) (DType, error) {
	switch s {
	case "float32":
		return Float32, nil
	case "bfloat16":
		return BFloat16, nil
	case "float16":
		return Float16, nil
	case "uint8":
		return Uint8, nil
	default:
		return 0, fmt.Errorf("unknown dtype: %s (must be one of float32, bfloat16, float16, uint8)", s)
	}
}

// --------------------------------------------------------------------------
// Tensor Type
// --------------------------------------------------------------------------

// Tensor is a multi-dimensional array with explicit strides over a raw byte
// buffer. The buffer is owned by the tensor; shape and stride are given in
// elements, not bytes.
type Tensor struct {
	dtype  DType
	shape  []int
	stride []int
	data   []byte
}

// New creates a tensor with the given element type, shape and stride and
// allocates zeroed backing storage large enough for the described layout.
// A rank-0 tensor (empty shape) holds exactly one element.
func New(dtype DType, shape, stride []int) (*Tensor, error) {
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("invalid dtype: %d", dtype)
	}
	if len(shape) > MaxRank {
		return nil, fmt.Errorf("rank %d exceeds maximum of %d", len(shape), MaxRank)
	}
	if len(stride) != len(shape) {
		return nil, fmt.Errorf("stride rank %d does not match shape rank %d", len(stride), len(shape))
	}
	for i, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("negative dimension %d at axis %d", dim, i)
		}
		if stride[i] < 0 {
			return nil, fmt.Errorf("negative stride %d at axis %d", stride[i], i)
		}
	}

	t := &Tensor{
		dtype:  dtype,
		shape:  append([]int(nil), shape...),
		stride: append([]int(nil), stride...),
	}
	t.data = make([]byte, t.storageElements()*dtype.Size())
	return t, nil
}

// Contiguous creates a tensor with the canonical row-major stride for the
// given shape.
func Contiguous(dtype DType, shape []int) (*Tensor, error) {
	return New(dtype, shape, ContiguousStride(shape))
}

// ContiguousStride returns the row-major stride for a shape.
func ContiguousStride(shape []int) []int {
	stride := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		stride[i] = acc
		acc *= shape[i]
	}
	return stride
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// DType returns the element type.
func (t *Tensor) DType() DType { return t.dtype }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Stride returns a copy of the tensor's stride (in elements).
func (t *Tensor) Stride() []int { return append([]int(nil), t.stride...) }

// NumElements returns the logical element count (the product of all
// dimension sizes; 1 for rank-0 tensors).
func (t *Tensor) NumElements() int {
	n := 1
	for _, dim := range t.shape {
		n *= dim
	}
	return n
}

// ElementSize returns the size of one element in bytes.
func (t *Tensor) ElementSize() int { return t.dtype.Size() }

// Data returns the raw backing storage. The caller must not resize it.
func (t *Tensor) Data() []byte { return t.data }

// --------------------------------------------------------------------------
// Byte Codec
// --------------------------------------------------------------------------

// EncodeBytes returns the tensor's elements in logical row-major order as a
// flat buffer of NumElements()*ElementSize() bytes.
func (t *Tensor) EncodeBytes() []byte {
	es := t.dtype.Size()
	n := t.NumElements()
	out := make([]byte, n*es)

	if t.isContiguous() {
		copy(out, t.data[:n*es])
		return out
	}

	t.walk(func(i, offset int) {
		copy(out[i*es:(i+1)*es], t.data[offset*es:(offset+1)*es])
	})
	return out
}

// DecodeInto scatters a flat row-major buffer into the tensor's backing
// storage, honoring its strides. The buffer length must match the tensor's
// logical byte size exactly.
func (t *Tensor) DecodeInto(buf []byte) error {
	es := t.dtype.Size()
	n := t.NumElements()
	if len(buf) != n*es {
		return fmt.Errorf("buffer size %d does not match tensor storage size %d", len(buf), n*es)
	}

	if t.isContiguous() {
		copy(t.data[:n*es], buf)
		return nil
	}

	t.walk(func(i, offset int) {
		copy(t.data[offset*es:(offset+1)*es], buf[i*es:(i+1)*es])
	})
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// storageElements returns the number of elements the backing storage must
// hold to address every logical element through the strides.
func (t *Tensor) storageElements() int {
	n := 1
	for i, dim := range t.shape {
		if dim == 0 {
			return 0
		}
		n += (dim - 1) * t.stride[i]
	}
	return n
}

// isContiguous reports whether the strides describe the canonical row-major
// layout.
func (t *Tensor) isContiguous() bool {
	acc := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		if t.stride[i] != acc {
			return false
		}
		acc *= t.shape[i]
	}
	return true
}

// walk visits every logical element in row-major order, calling fn with the
// logical index and the element offset into the backing storage. The offset
// is maintained incrementally (odometer traversal), so no per-element
// multiplications are needed.
func (t *Tensor) walk(fn func(logical, offset int)) {
	n := t.NumElements()
	if n == 0 {
		return
	}
	idx := make([]int, len(t.shape))
	offset := 0
	for i := 0; i < n; i++ {
		fn(i, offset)
		for d := len(t.shape) - 1; d >= 0; d-- {
			idx[d]++
			offset += t.stride[d]
			if idx[d] < t.shape[d] {
				break
			}
			idx[d] = 0
			offset -= t.shape[d] * t.stride[d]
		}
	}
}
