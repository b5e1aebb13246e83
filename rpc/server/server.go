package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jackmin801/torch-state-server/lib/state"
	"github.com/Jackmin801/torch-state-server/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc/server")

const defaultGraceTimeout = 5 * time.Second

var (
	// ErrAlreadyRunning is returned by Start when the server is already
	// listening.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrUnsupportedType marks values whose type has no wire representation
	// or requests for a transfer type the value cannot be served as.
	ErrUnsupportedType = errors.New("unsupported transfer type")

	// ErrSizeMismatch marks requests whose pre-allocated element count does
	// not match the resolved array.
	ErrSizeMismatch = errors.New("size mismatch")
)

// --------------------------------------------------------------------------
// Server Type
// --------------------------------------------------------------------------

// StateServer serves leaves of a read-only state store over TCP. It owns
// the listening socket, the accept goroutine, and a registry of in-flight
// connection handlers; the store itself is owned by the hosting process.
type StateServer struct {
	config common.ServerConfig
	store  *state.Store

	running    atomic.Bool
	listener   net.Listener
	acceptDone chan struct{}

	// In-flight handler registry, used by Stop to force-close stragglers
	// after the grace timeout.
	handlers sync.WaitGroup
	conns    *xsync.MapOf[uint64, net.Conn]
	connSeq  atomic.Uint64
}

// NewStateServer creates a server for the given store. The store must be
// fully built before Start is called and must not be mutated afterwards.
func NewStateServer(store *state.Store, config common.ServerConfig) *StateServer {
	return &StateServer{
		config: config,
		store:  store,
		conns:  xsync.NewMapOf[uint64, net.Conn](),
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start binds the listening socket and launches the accept loop on its own
// goroutine. It returns ErrAlreadyRunning if called twice without an
// intervening Stop, and a wrapped bind error if the endpoint cannot be
// bound (e.g. address already in use).
func (s *StateServer) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.config.Endpoint)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("failed to bind %s: %w", s.config.Endpoint, err)
	}

	s.listener = listener
	s.acceptDone = make(chan struct{})

	Logger.Infof("state server listening on %s", listener.Addr())
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *StateServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down. It unblocks the accept loop with a
// self-connect, waits for it to exit, closes the listening socket, and then
// waits for in-flight handlers up to the configured grace timeout;
// connections still open after that are force-closed. Calling Stop when the
// server is not running is a no-op.
func (s *StateServer) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	// The accept loop blocks in Accept; a throwaway connection to ourselves
	// wakes it so it can observe the cleared running flag.
	if conn, err := net.Dial("tcp", s.listener.Addr().String()); err == nil {
		_ = conn.Close()
	}
	<-s.acceptDone
	_ = s.listener.Close()

	grace := defaultGraceTimeout
	if s.config.GraceTimeoutSecond > 0 {
		grace = time.Duration(s.config.GraceTimeoutSecond) * time.Second
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		count := 0
		s.conns.Range(func(_ uint64, conn net.Conn) bool {
			_ = conn.Close()
			count++
			return true
		})
		Logger.Warningf("grace timeout after %s: force-closed %d connection(s)", grace, count)
		<-done
	}

	Logger.Infof("state server stopped")
	return nil
}

// --------------------------------------------------------------------------
// Accept Loop
// --------------------------------------------------------------------------

// acceptLoop accepts connections until Stop clears the running flag. Each
// accepted connection gets its own handler goroutine so a slow client never
// blocks others.
func (s *StateServer) acceptLoop() {
	defer close(s.acceptDone)

	for {
		conn, err := s.listener.Accept()
		if !s.running.Load() {
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			Logger.Errorf("accept error: %v", err)
			continue
		}

		id := s.connSeq.Add(1)
		s.conns.Store(id, conn)
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleConnection(id, conn)
		}()
	}
}

// --------------------------------------------------------------------------
// Connection Handler
// --------------------------------------------------------------------------

// handleConnection runs one request/response exchange and closes the
// socket. Any failure up to the point of writing the response becomes a
// wire-level error frame; failures during the write itself are only logged.
func (s *StateServer) handleConnection(id uint64, conn net.Conn) {
	defer func() {
		s.conns.Delete(id)
		_ = conn.Close()
	}()

	timeout := time.Duration(s.config.TimeoutSecond) * time.Second
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			Logger.Errorf("failed to set connection deadline: %v", err)
			return
		}
	}

	frame := make([]byte, common.RequestFrameSize)
	if _, err := io.ReadFull(conn, frame); err != nil {
		if err == io.EOF {
			// Peer connected and closed without sending anything (this is
			// also how Stop's self-connect looks).
			return
		}
		Logger.Warningf("failed to read request frame: %v", err)
		s.writeError(conn, fmt.Errorf("%w: incomplete request frame", common.ErrMalformedRequest))
		return
	}

	start := time.Now()
	req, err := common.DecodeRequest(frame)
	if err != nil {
		s.writeError(conn, err)
		return
	}

	bufs, err := s.buildResponse(req)
	if err != nil {
		Logger.Debugf("request for %q failed: %v", req.Path, err)
		s.writeError(conn, err)
		return
	}

	n, err := bufs.WriteTo(conn)
	if err != nil {
		// The response may be partially written; the client will observe a
		// premature close. No second attempt.
		Logger.Errorf("failed to write response for %q: %v", req.Path, err)
		return
	}

	requestsTotal.Inc()
	responseBytesTotal.Add(int(n))
	Logger.Debugf("served %q (%d bytes) in %s", req.Path, n, time.Since(start))
}

// writeError converts any handler failure into an error frame. Write
// failures here are logged only - the connection is torn down either way.
func (s *StateServer) writeError(conn net.Conn, cause error) {
	requestErrorsTotal.Inc()
	if _, err := conn.Write(common.EncodeError(cause.Error())); err != nil {
		Logger.Errorf("failed to write error frame: %v", err)
	}
}

// --------------------------------------------------------------------------
// Response Construction
// --------------------------------------------------------------------------

// buildResponse resolves the request against the store and assembles the
// full response as a list of buffers: header (plain or with array
// metadata), optional codebook block, payload.
func (s *StateServer) buildResponse(req common.Request) (net.Buffers, error) {
	path, err := state.ParsePath(req.Path)
	if err != nil {
		return nil, err
	}

	value, err := s.store.Resolve(path)
	if err != nil {
		return nil, err
	}

	switch v := value.(type) {
	case state.Array:
		return s.buildArrayResponse(req, v)
	case state.String:
		return buildScalarResponse(req, common.TypeString, []byte(v))
	case state.Int64:
		return buildScalarResponse(req, common.TypeInt64, common.EncodeInt64Payload(int64(v)))
	case state.Float64:
		return buildScalarResponse(req, common.TypeFloat64, common.EncodeFloat64Payload(float64(v)))
	case state.Bool:
		return buildScalarResponse(req, common.TypeBool, common.EncodeBoolPayload(bool(v)))
	default:
		return nil, fmt.Errorf("%w: value of type %T has no wire representation", ErrUnsupportedType, value)
	}
}

// buildArrayResponse assembles the response for a tensor leaf. The header
// carries shape/stride metadata only when the client did not pre-allocate
// (request size = -1); otherwise the plain header is used.
func (s *StateServer) buildArrayResponse(req common.Request, arr state.Array) (net.Buffers, error) {
	t := arr.Tensor

	native, ok := common.TypeForDType(t.DType())
	if !ok {
		return nil, fmt.Errorf("%w: array dtype %s is not in the registry", ErrUnsupportedType, t.DType())
	}

	effective := req.Type
	if effective == common.TypeUnspecified {
		effective = native
	} else if !effective.IsArray() {
		return nil, fmt.Errorf("%w: scalar transfer type %s requested for an array value", ErrUnsupportedType, effective)
	} else if effective != native {
		// Serving a tensor as a different element type would require a
		// conversion/quantization step, which is not implemented.
		return nil, fmt.Errorf("%w: cannot serve %s array as %s", ErrUnsupportedType, native, effective)
	}

	count := t.NumElements()
	if req.Size >= 0 && req.Size != int64(count) {
		return nil, fmt.Errorf("%w: requested %d elements, value has %d", ErrSizeMismatch, req.Size, count)
	}

	hdr := common.Header{Success: 0, Type: effective, Size: int64(count)}
	var head []byte
	var err error
	if req.Size < 0 {
		head, err = common.EncodeArrayHeader(hdr, t.Shape(), t.Stride())
		if err != nil {
			return nil, err
		}
	} else {
		head = common.EncodeHeader(hdr)
	}

	bufs := net.Buffers{head}
	if cb := effective.CodebookSize(); cb > 0 {
		// Placeholder table; codebook generation for quantized transfer is
		// not implemented, only its wire placement is.
		bufs = append(bufs, make([]byte, cb))
	}
	return append(bufs, t.EncodeBytes()), nil
}

// buildScalarResponse assembles the response for a scalar leaf. Scalars
// always use the plain 16-byte header; the size field carries the payload
// length. A requested transfer type must match the value's native kind.
func buildScalarResponse(req common.Request, native common.TransferType, payload []byte) (net.Buffers, error) {
	if req.Type != common.TypeUnspecified && req.Type != native {
		return nil, fmt.Errorf("%w: value is %s, requested %s", ErrUnsupportedType, native, req.Type)
	}

	hdr := common.Header{Success: 0, Type: native, Size: int64(len(payload))}
	return net.Buffers{common.EncodeHeader(hdr), payload}, nil
}
