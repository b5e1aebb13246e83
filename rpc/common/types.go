package common

import (
	"fmt"

	"github.com/Jackmin801/torch-state-server/lib/tensor"
)

// --------------------------------------------------------------------------
// Transfer Type Registry
// --------------------------------------------------------------------------

// TransferType tags the value representation on the wire. Tags 0-3 are
// scalar kinds, tags >= 4 are array element types. The tag space is flat
// and ordered; -1 means "unspecified - the server infers the type from the
// resolved value". The registry is static and never mutated after process
// start.
type TransferType int32

const (
	TypeUnspecified TransferType = -1

	// Scalar kinds
	TypeString  TransferType = 0
	TypeInt64   TransferType = 1
	TypeFloat64 TransferType = 2
	TypeBool    TransferType = 3

	// Array element types
	TypeFloat32     TransferType = 4
	TypeBFloat16    TransferType = 5
	TypeFloat16     TransferType = 6
	TypeUniformInt8 TransferType = 7
)

// IsScalar reports whether the tag names a scalar kind.
func (t TransferType) IsScalar() bool {
	return t >= TypeString && t <= TypeBool
}

// IsArray reports whether the tag names an array element type.
func (t TransferType) IsArray() bool {
	return t >= TypeFloat32 && t <= TypeUniformInt8
}

// ElementSize returns the per-element byte size for array types, 0 for
// anything else.
func (t TransferType) ElementSize() int {
	switch t {
	case TypeFloat32:
		return 4
	case TypeBFloat16, TypeFloat16:
		return 2
	case TypeUniformInt8:
		return 1
	default:
		return 0
	}
}

// CodebookSize returns the size of the codebook block that follows the
// response header for quantized types, 0 for non-quantized types.
// UNIFORM_INT8 carries a 256-entry lookup table (one byte index per
// element, dequantized via the table).
func (t TransferType) CodebookSize() int {
	if t == TypeUniformInt8 {
		return 256
	}
	return 0
}

// String returns the wire tag's symbolic name.
func (t TransferType) String() string {
	switch t {
	case TypeUnspecified:
		return "unspecified"
	case TypeString:
		return "STR"
	case TypeInt64:
		return "INT64"
	case TypeFloat64:
		return "FLOAT64"
	case TypeBool:
		return "BOOL8"
	case TypeFloat32:
		return "FLOAT32"
	case TypeBFloat16:
		return "BFLOAT16"
	case TypeFloat16:
		return "FLOAT16"
	case TypeUniformInt8:
		return "UNIFORM_INT8"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

// --------------------------------------------------------------------------
// DType Mapping
// --------------------------------------------------------------------------

// TypeForDType maps a tensor element type to its native transfer type.
// The boolean is false for element types outside the registry.
func TypeForDType(d tensor.DType) (TransferType, bool) {
	switch d {
	case tensor.Float32:
		return TypeFloat32, true
	case tensor.BFloat16:
		return TypeBFloat16, true
	case tensor.Float16:
		return TypeFloat16, true
	case tensor.Uint8:
		return TypeUniformInt8, true
	default:
		return TypeUnspecified, false
	}
}

// DType maps an array transfer type back to the tensor element type used
// for allocation on the receiving side.
func (t TransferType) DType() (tensor.DType, bool) {
	switch t {
	case TypeFloat32:
		return tensor.Float32, true
	case TypeBFloat16:
		return tensor.BFloat16, true
	case TypeFloat16:
		return tensor.Float16, true
	case TypeUniformInt8:
		return tensor.Uint8, true
	default:
		return 0, false
	}
}

// ParseTransferType converts a symbolic name (as accepted by the CLI) to a
// TransferType.
func ParseTransferType(s string) (TransferType, error) {
	switch s {
	case "auto", "":
		return TypeUnspecified, nil
	case "str":
		return TypeString, nil
	case "int64":
		return TypeInt64, nil
	case "float64":
		return TypeFloat64, nil
	case "bool8":
		return TypeBool, nil
	case "float32":
		return TypeFloat32, nil
	case "bfloat16":
		return TypeBFloat16, nil
	case "float16":
		return TypeFloat16, nil
	case "uniform_int8":
		return TypeUniformInt8, nil
	default:
		return TypeUnspecified, fmt.Errorf("unknown transfer type: %s", s)
	}
}
