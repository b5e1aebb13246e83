// Package tensor provides the in-memory multi-dimensional array type served
// by the state server, together with the byte-level codec between an array
// and a flat buffer.
//
// A Tensor owns its backing storage as a raw byte buffer and describes the
// element layout with a shape and a stride (both in elements). Strides may
// describe non-contiguous layouts (e.g. transposed views); the codec always
// produces and consumes elements in logical row-major order, so the flat
// wire representation is independent of the source layout.
//
// The maximum supported rank is 6. This is a hard limit of the wire
// protocol's fixed-size array metadata block.
package tensor
