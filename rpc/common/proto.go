package common

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Jackmin801/torch-state-server/lib/state"
)

// Frame and field sizes of the wire protocol.
const (
	PathFieldSize    = 244 // null-padded UTF-8 path field
	RequestFrameSize = 256 // path + int32 type + int64 size
	HeaderSize       = 16  // int32 success + int32 type + int64 size
	ArrayHeaderSize  = 64  // HeaderSize + 6x int32 shape + 6x int32 stride
	MaxRank          = 6   // hard limit of the fixed metadata block
)

// ErrMalformedRequest is returned when a request frame has the wrong size
// or cannot be decoded.
var ErrMalformedRequest = errors.New("malformed request")

// wireOrder is the single byte order used for every multi-byte field.
var wireOrder = binary.LittleEndian

// --------------------------------------------------------------------------
// Request Frame
// --------------------------------------------------------------------------

// Request is the decoded form of a 256-byte request frame.
type Request struct {
	Path string       // requested path, trailing padding stripped
	Type TransferType // requested transfer type, TypeUnspecified if absent
	Size int64        // pre-allocated element count, -1 if absent
}

// EncodeRequest packs a request frame. The path must fit the fixed path
// field; longer paths are rejected with state.ErrPathTooLong before any
// byte is produced.
func EncodeRequest(path string, t TransferType, size int64) ([]byte, error) {
	encoded := []byte(path)
	if len(encoded) > PathFieldSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds maximum of %d", state.ErrPathTooLong, len(encoded), PathFieldSize)
	}

	frame := make([]byte, RequestFrameSize)
	copy(frame, encoded)
	wireOrder.PutUint32(frame[PathFieldSize:], uint32(t))
	wireOrder.PutUint64(frame[PathFieldSize+4:], uint64(size))
	return frame, nil
}

// DecodeRequest unpacks a request frame. The input must be exactly
// RequestFrameSize bytes.
func DecodeRequest(data []byte) (Request, error) {
	if len(data) != RequestFrameSize {
		return Request{}, fmt.Errorf("%w: frame is %d bytes, expected %d", ErrMalformedRequest, len(data), RequestFrameSize)
	}

	path := string(bytes.TrimRight(data[:PathFieldSize], "\x00"))
	return Request{
		Path: path,
		Type: TransferType(int32(wireOrder.Uint32(data[PathFieldSize:]))),
		Size: int64(wireOrder.Uint64(data[PathFieldSize+4:])),
	}, nil
}

// --------------------------------------------------------------------------
// Response Headers
// --------------------------------------------------------------------------

// Header is the 16-byte plain response header. Success is 0 for a normal
// response; any other value marks an error frame whose payload is a UTF-8
// message of Size bytes.
type Header struct {
	Success int32
	Type    TransferType
	Size    int64
}

// EncodeHeader packs a plain response header.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	wireOrder.PutUint32(buf[0:], uint32(h.Success))
	wireOrder.PutUint32(buf[4:], uint32(h.Type))
	wireOrder.PutUint64(buf[8:], uint64(h.Size))
	return buf
}

// DecodeHeader unpacks a plain response header.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) != HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes, expected %d", ErrMalformedRequest, len(data), HeaderSize)
	}
	return Header{
		Success: int32(wireOrder.Uint32(data[0:])),
		Type:    TransferType(int32(wireOrder.Uint32(data[4:]))),
		Size:    int64(wireOrder.Uint64(data[8:])),
	}, nil
}

// EncodeArrayHeader packs the 64-byte response header carrying array
// metadata. Shape and stride are padded to MaxRank with -1.
func EncodeArrayHeader(h Header, shape, stride []int) ([]byte, error) {
	if len(shape) > MaxRank || len(stride) > MaxRank {
		return nil, fmt.Errorf("rank %d exceeds maximum of %d", len(shape), MaxRank)
	}
	if len(shape) != len(stride) {
		return nil, fmt.Errorf("shape rank %d does not match stride rank %d", len(shape), len(stride))
	}

	buf := make([]byte, ArrayHeaderSize)
	copy(buf, EncodeHeader(h))
	for i := 0; i < MaxRank; i++ {
		s, st := int32(-1), int32(-1)
		if i < len(shape) {
			s, st = int32(shape[i]), int32(stride[i])
		}
		wireOrder.PutUint32(buf[HeaderSize+4*i:], uint32(s))
		wireOrder.PutUint32(buf[HeaderSize+4*MaxRank+4*i:], uint32(st))
	}
	return buf, nil
}

// DecodeMetaTail unpacks the 48-byte shape/stride block that follows the
// plain header in an array response. Slots holding -1 are unused.
func DecodeMetaTail(data []byte) (shape, stride []int, err error) {
	if len(data) != ArrayHeaderSize-HeaderSize {
		return nil, nil, fmt.Errorf("%w: metadata block is %d bytes, expected %d", ErrMalformedRequest, len(data), ArrayHeaderSize-HeaderSize)
	}

	for i := 0; i < MaxRank; i++ {
		s := int32(wireOrder.Uint32(data[4*i:]))
		if s == -1 {
			break
		}
		shape = append(shape, int(s))
	}
	for i := 0; i < len(shape); i++ {
		st := int32(wireOrder.Uint32(data[4*MaxRank+4*i:]))
		if st == -1 {
			return nil, nil, fmt.Errorf("%w: stride block shorter than shape block", ErrMalformedRequest)
		}
		stride = append(stride, int(st))
	}
	return shape, stride, nil
}

// EncodeError packs an error frame: a plain header with success=1 and
// type=STR, followed by the UTF-8 message.
func EncodeError(msg string) []byte {
	payload := []byte(msg)
	frame := EncodeHeader(Header{Success: 1, Type: TypeString, Size: int64(len(payload))})
	return append(frame, payload...)
}

// --------------------------------------------------------------------------
// Scalar Payloads
// --------------------------------------------------------------------------

// EncodeInt64Payload packs an INT64 scalar payload (8 bytes).
func EncodeInt64Payload(v int64) []byte {
	buf := make([]byte, 8)
	wireOrder.PutUint64(buf, uint64(v))
	return buf
}

// DecodeInt64Payload unpacks an INT64 scalar payload.
func DecodeInt64Payload(data []byte) int64 {
	return int64(wireOrder.Uint64(data))
}

// EncodeFloat64Payload packs a FLOAT64 scalar payload (8 bytes, IEEE 754).
func EncodeFloat64Payload(v float64) []byte {
	buf := make([]byte, 8)
	wireOrder.PutUint64(buf, math.Float64bits(v))
	return buf
}

// DecodeFloat64Payload unpacks a FLOAT64 scalar payload.
func DecodeFloat64Payload(data []byte) float64 {
	return math.Float64frombits(wireOrder.Uint64(data))
}

// EncodeBoolPayload packs a BOOL8 scalar payload (1 byte).
func EncodeBoolPayload(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeBoolPayload unpacks a BOOL8 scalar payload.
func DecodeBoolPayload(data []byte) bool {
	return data[0] != 0
}
