package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Jackmin801/torch-state-server/lib/state"
	"github.com/Jackmin801/torch-state-server/lib/tensor"
	"github.com/Jackmin801/torch-state-server/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc/client")

// ErrConnectionClosed is returned when the server closes the connection
// before the full response has been received.
var ErrConnectionClosed = errors.New("connection closed before full response was received")

// ClientError carries an error message sent by the server in a wire-level
// error frame.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("state server error: %s", e.Message)
}

// --------------------------------------------------------------------------
// Client Type
// --------------------------------------------------------------------------

// StateClient fetches named values from a state server. The zero timeout
// disables dial and I/O deadlines.
type StateClient struct {
	endpoint string
	timeout  time.Duration
}

// NewStateClient creates a client for the given server endpoint.
func NewStateClient(config common.ClientConfig) *StateClient {
	return &StateClient{
		endpoint: config.Endpoint,
		timeout:  time.Duration(config.TimeoutSecond) * time.Second,
	}
}

// --------------------------------------------------------------------------
// Tensor Fetch
// --------------------------------------------------------------------------

// GetTensor fetches an array leaf. With a nil destination the server is
// asked for array metadata, a tensor of the reported shape/stride is
// allocated, and the payload is decoded into it. With a non-nil destination
// the request carries the destination's element count, the plain header is
// expected, and the payload is decoded in place. transferType is usually
// TypeUnspecified, letting the server infer the type from the stored value.
func (c *StateClient) GetTensor(path string, transferType common.TransferType, dst *tensor.Tensor) (*tensor.Tensor, error) {
	size := int64(-1)
	if dst != nil {
		size = int64(dst.NumElements())
	}

	var result *tensor.Tensor
	err := c.roundTrip(path, transferType, size, func(conn net.Conn, hdr common.Header) error {
		if hdr.Type.ElementSize() == 0 {
			return fmt.Errorf("server sent non-array transfer type %s", hdr.Type)
		}

		out := dst
		if out == nil {
			tail := make([]byte, common.ArrayHeaderSize-common.HeaderSize)
			if err := readFull(conn, tail); err != nil {
				return err
			}
			shape, stride, err := common.DecodeMetaTail(tail)
			if err != nil {
				return err
			}
			dt, ok := hdr.Type.DType()
			if !ok {
				return fmt.Errorf("server sent transfer type %s with no element type", hdr.Type)
			}
			if out, err = tensor.New(dt, shape, stride); err != nil {
				return fmt.Errorf("failed to allocate destination: %w", err)
			}
		} else if hdr.Size != int64(out.NumElements()) {
			return fmt.Errorf("size mismatch: server reports %d elements, destination has %d", hdr.Size, out.NumElements())
		}

		// The codebook block is read to keep the stream aligned but not yet
		// interpreted; dequantization is not implemented.
		if cb := hdr.Type.CodebookSize(); cb > 0 {
			if err := readFull(conn, make([]byte, cb)); err != nil {
				return err
			}
		}

		payload := make([]byte, int(hdr.Size)*hdr.Type.ElementSize())
		if err := readFull(conn, payload); err != nil {
			return err
		}
		if err := out.DecodeInto(payload); err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --------------------------------------------------------------------------
// Scalar Fetch
// --------------------------------------------------------------------------

// GetInt64 fetches an INT64 scalar leaf.
func (c *StateClient) GetInt64(path string) (int64, error) {
	var out int64
	err := c.roundTrip(path, common.TypeInt64, 8, func(conn net.Conn, hdr common.Header) error {
		buf, err := c.scalarPayload(conn, hdr, common.TypeInt64, 8)
		if err != nil {
			return err
		}
		out = common.DecodeInt64Payload(buf)
		return nil
	})
	return out, err
}

// GetFloat64 fetches a FLOAT64 scalar leaf.
func (c *StateClient) GetFloat64(path string) (float64, error) {
	var out float64
	err := c.roundTrip(path, common.TypeFloat64, 8, func(conn net.Conn, hdr common.Header) error {
		buf, err := c.scalarPayload(conn, hdr, common.TypeFloat64, 8)
		if err != nil {
			return err
		}
		out = common.DecodeFloat64Payload(buf)
		return nil
	})
	return out, err
}

// GetBool fetches a BOOL8 scalar leaf.
func (c *StateClient) GetBool(path string) (bool, error) {
	var out bool
	err := c.roundTrip(path, common.TypeBool, 1, func(conn net.Conn, hdr common.Header) error {
		buf, err := c.scalarPayload(conn, hdr, common.TypeBool, 1)
		if err != nil {
			return err
		}
		out = common.DecodeBoolPayload(buf)
		return nil
	})
	return out, err
}

// GetString fetches a STR scalar leaf. The payload length is only known
// from the response header, so the request carries size=-1.
func (c *StateClient) GetString(path string) (string, error) {
	var out string
	err := c.roundTrip(path, common.TypeString, -1, func(conn net.Conn, hdr common.Header) error {
		if hdr.Type != common.TypeString {
			return fmt.Errorf("expected STR response, got %s", hdr.Type)
		}
		buf := make([]byte, hdr.Size)
		if err := readFull(conn, buf); err != nil {
			return err
		}
		out = string(buf)
		return nil
	})
	return out, err
}

// scalarPayload validates a fixed-size scalar header and reads its payload.
func (c *StateClient) scalarPayload(conn net.Conn, hdr common.Header, want common.TransferType, size int64) ([]byte, error) {
	if hdr.Type != want {
		return nil, fmt.Errorf("expected %s response, got %s", want, hdr.Type)
	}
	if hdr.Size != size {
		return nil, fmt.Errorf("unexpected %s payload size %d", want, hdr.Size)
	}
	buf := make([]byte, size)
	if err := readFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// --------------------------------------------------------------------------
// Request/Response Exchange
// --------------------------------------------------------------------------

// roundTrip performs one request/response exchange: it validates the path
// (before any socket I/O), dials, sends the request frame, reads and checks
// the 16-byte header, and hands the connection to fn for payload reading.
// The socket is closed on every exit path. A nonzero success flag is
// decoded as a length-prefixed error message and returned as *ClientError,
// regardless of which call was made.
func (c *StateClient) roundTrip(path string, t common.TransferType, size int64, fn func(net.Conn, common.Header) error) error {
	if _, err := state.ParsePath(path); err != nil {
		return err
	}
	frame, err := common.EncodeRequest(path, t, size)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", c.endpoint, c.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	// Always read the plain header first. Error frames reuse it, so a
	// client expecting array metadata must not commit to 64 bytes before
	// checking the success flag.
	head := make([]byte, common.HeaderSize)
	if err := readFull(conn, head); err != nil {
		return err
	}
	hdr, err := common.DecodeHeader(head)
	if err != nil {
		return err
	}

	if hdr.Success != 0 {
		msg := make([]byte, hdr.Size)
		if err := readFull(conn, msg); err != nil {
			return err
		}
		return &ClientError{Message: string(msg)}
	}

	return fn(conn, hdr)
}

// readFull reads exactly len(buf) bytes, looping until the count is
// satisfied or the peer closes. A premature close surfaces as
// ErrConnectionClosed.
func readFull(conn net.Conn, buf []byte) error {
	if _, err := io.ReadFull(conn, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrConnectionClosed
		}
		return err
	}
	return nil
}
