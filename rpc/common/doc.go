// Package common holds the parts of the state-transfer protocol shared by
// server and client: the transfer-type registry, the binary wire codec for
// request and response frames, configuration structs, and the logger setup.
//
// Wire format. All multi-byte integers are little-endian. The origin system
// relied on native byte order, which is only safe between identical
// architectures; this implementation pins little-endian explicitly so the
// format is portable (and byte-compatible with the origin's x86
// deployments).
//
//   - Request frame (256 bytes): path[244] null-padded UTF-8,
//     transfer type int32 (-1 = unspecified), size int64 (-1 = unspecified).
//   - Plain response header (16 bytes): success int32, type int32,
//     size int64.
//   - Array response header (64 bytes): plain header + shape[6] int32 and
//     stride[6] int32, unused slots set to -1.
//   - Codebook block (256 bytes): follows the header for quantized types.
//   - Payload: size*elementSize bytes for arrays; 8 bytes for INT64/FLOAT64,
//     1 byte for BOOL8, size UTF-8 bytes for STR.
//   - Error frame: plain header with success=1, type=STR, size=len(message),
//     followed by the UTF-8 message.
package common
