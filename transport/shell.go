package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dnielsn/go-pssession/host"
	"github.com/dnielsn/go-pssession/objects"
	"github.com/dnielsn/go-pssession/wire"
)

var (
	// ErrInvalidState is returned when an operation is attempted in a
	// state that does not allow it.
	ErrInvalidState = errors.New("invalid shell state")

	// ErrNotOpen is returned when an operation requires an opened shell.
	ErrNotOpen = errors.New("shell is not open")

	// ErrClosed is returned when the shell has been closed.
	ErrClosed = errors.New("shell is closed")

	// ErrBroken is returned when the transport failed underneath the
	// shell.
	ErrBroken = errors.New("shell transport is broken")

	// ErrHandshake is returned when the session handshake fails.
	ErrHandshake = errors.New("handshake failed")

	// ErrStopped is reported by a pipeline the engine stopped before
	// completion.
	ErrStopped = errors.New("pipeline stopped before completion")
)

// ProtocolVersion is the framing protocol version announced in Hello.
const ProtocolVersion = "1.0"

// closeAckTimeout bounds the wait for the engine to acknowledge a clean
// close. Engines that exit on stdin close often never answer, so this is
// kept short.
const closeAckTimeout = 250 * time.Millisecond

// Logger receives diagnostic output from the shell. *log.Logger satisfies
// it.
type Logger interface {
	Printf(format string, v ...any)
}

// State represents the lifecycle state of a Shell.
type State int

const (
	// StateBeforeOpen is the initial state before Open is called.
	StateBeforeOpen State = iota
	// StateOpening means Open is dialing and handshaking.
	StateOpening
	// StateOpened means the shell is ready to run pipelines.
	StateOpened
	// StateClosing means Close is waiting for the engine to acknowledge.
	StateClosing
	// StateClosed means the shell closed cleanly.
	StateClosed
	// StateBroken means the transport failed and the shell is unusable.
	StateBroken
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateBeforeOpen:
		return "BeforeOpen"
	case StateOpening:
		return "Opening"
	case StateOpened:
		return "Opened"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateBroken:
		return "Broken"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Shell is one connection to an engine. It owns the packet stream, routes
// incoming packets to pipelines, answers host calls, and serializes
// invocations so at most one pipeline runs at a time.
//
// Lifecycle:
//
//	BeforeOpen --Open--> Opening --handshake--> Opened
//	Opened --Close--> Closing --> Closed
//	any state --transport failure--> Broken
//
// SetHost and SetLogger must be called before Open; after that the shell
// treats them as immutable so the dispatch goroutine can read them without
// locking.
type Shell struct {
	mu   sync.RWMutex
	info *ConnectionInfo

	hostBinding *host.Host
	logger      Logger

	state  State
	stream io.ReadWriteCloser
	conn   *PacketConn

	serverVersion string

	// pipelines maps pipeline GUID to *Pipeline for dispatch routing.
	pipelines sync.Map

	// invokeMu serializes invocations: acquired by NewPipeline, released
	// by Pipeline.Release.
	invokeMu sync.Mutex

	// hostCallLimiter bounds concurrent host call goroutines.
	hostCallLimiter chan struct{}

	cleanupOnce  sync.Once
	cleanupError error
	doneCh       chan struct{}
	closeAckCh   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewShell creates a shell for the given connection. The shell keeps a
// private copy of the info, so later mutation by the caller has no effect.
// Call Open to connect.
func NewShell(info *ConnectionInfo) *Shell {
	return &Shell{
		info:            info.Clone(),
		hostBinding:     host.Silent(),
		state:           StateBeforeOpen,
		hostCallLimiter: make(chan struct{}, 4),
		doneCh:          make(chan struct{}),
		closeAckCh:      make(chan struct{}, 1),
	}
}

// SetHost binds the host answering engine host calls. Must be called
// before Open.
func (s *Shell) SetHost(h *host.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBeforeOpen {
		return fmt.Errorf("%w: host must be set before open", ErrInvalidState)
	}
	if h == nil {
		h = host.Silent()
	}
	s.hostBinding = h
	return nil
}

// SetLogger sets the diagnostic logger. Must be called before Open.
func (s *Shell) SetLogger(logger Logger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBeforeOpen {
		return fmt.Errorf("%w: logger must be set before open", ErrInvalidState)
	}
	s.logger = logger
	return nil
}

// EnableDebugLogging routes shell diagnostics to stderr. Must be called
// before Open.
func (s *Shell) EnableDebugLogging() {
	_ = s.SetLogger(log.New(os.Stderr, "shell: ", log.LstdFlags))
}

// Info returns a copy of the connection info the shell was created with.
func (s *Shell) Info() *ConnectionInfo {
	return s.info.Clone()
}

// State returns the current lifecycle state.
func (s *Shell) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connected reports whether the shell is open for invocations.
func (s *Shell) Connected() bool {
	return s.State() == StateOpened
}

// ServerVersion returns the protocol version the engine announced during
// the handshake. Empty before Open.
func (s *Shell) ServerVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverVersion
}

// Failure returns the error that broke the shell, or nil.
func (s *Shell) Failure() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cleanupError
}

// Open dials the engine, performs the Hello handshake, and starts the
// dispatch loop. Dialing and handshaking together are bounded by the
// connect timeout.
func (s *Shell) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateBeforeOpen {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot open from state %s", ErrInvalidState, state)
	}
	if s.info == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: no connection info", ErrInvalidState)
	}
	if err := s.info.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("connection info: %w", err)
	}
	s.state = StateOpening
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.info.connectTimeout())
	defer cancel()

	stream, err := dialConnection(dialCtx, s.info)
	if err != nil {
		s.setBroken()
		return fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	s.stream = stream
	s.conn = NewPacketConnFromReadWriter(stream)
	s.mu.Unlock()

	if err := s.handshake(dialCtx); err != nil {
		s.setBroken()
		_ = stream.Close()
		return err
	}

	s.mu.Lock()
	s.state = StateOpened
	s.ctx, s.cancel = context.WithCancel(context.Background())
	loopCtx := s.ctx
	s.mu.Unlock()

	s.logf("open: connected, server version %s", s.ServerVersion())
	go s.dispatchLoop(loopCtx)
	return nil
}

// handshake sends Hello and waits for a compatible HelloAck.
func (s *Shell) handshake(ctx context.Context) error {
	if err := s.conn.SendHello(ProtocolVersion); err != nil {
		return fmt.Errorf("%w: send hello: %v", ErrHandshake, err)
	}

	type received struct {
		pkt *Packet
		err error
	}
	ch := make(chan received, 1)
	go func() {
		pkt, err := s.conn.Receive()
		ch <- received{pkt, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, r.err)
		}
		if r.pkt.Type != PacketTypeHelloAck {
			return fmt.Errorf("%w: expected HelloAck, got %s", ErrHandshake, r.pkt.Type)
		}
		if r.pkt.Version == "" {
			return fmt.Errorf("%w: engine did not announce a protocol version", ErrHandshake)
		}
		if !compatibleVersion(r.pkt.Version) {
			return fmt.Errorf("%w: incompatible protocol version: engine=%s client=%s",
				ErrHandshake, r.pkt.Version, ProtocolVersion)
		}
		s.mu.Lock()
		s.serverVersion = r.pkt.Version
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		// The receive goroutine stays blocked until the caller closes the
		// stream; the buffered channel absorbs its result.
		return fmt.Errorf("%w: %v", ErrHandshake, ctx.Err())
	}
}

// compatibleVersion accepts any engine sharing our major version.
func compatibleVersion(v string) bool {
	return v == "1" || strings.HasPrefix(v, "1.")
}

// Close closes the shell. It sends a session Close, waits briefly for the
// acknowledgment, and releases all resources. Closing a shell that never
// opened, or closing twice, is a no-op.
func (s *Shell) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateClosing:
		s.mu.Unlock()
		return nil
	case StateBeforeOpen:
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	case StateBroken, StateOpening:
		s.mu.Unlock()
		s.cleanup(StateBroken, nil)
		return nil
	}
	s.state = StateClosing
	conn := s.conn
	s.mu.Unlock()

	// Best effort: the engine may already be gone.
	_ = conn.SendClose(NullGUID)

	select {
	case <-s.closeAckCh:
		s.logf("close: engine acknowledged")
	case <-s.doneCh:
	case <-time.After(closeAckTimeout):
		s.logf("close: no acknowledgment within %s", closeAckTimeout)
	case <-ctx.Done():
		s.logf("close: context cancelled")
	}

	s.cleanup(StateClosed, nil)
	return nil
}

// setBroken marks the shell broken during Open, before the dispatch loop
// exists. The caller handles resource cleanup.
func (s *Shell) setBroken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateBroken
}

// handleTransportError transitions to Broken and releases everything.
func (s *Shell) handleTransportError(err error) {
	s.cleanup(StateBroken, err)
}

// cleanup releases all resources and moves to a terminal state. It runs
// at most once; later calls with a different end state are ignored.
func (s *Shell) cleanup(endState State, err error) {
	s.cleanupOnce.Do(func() {
		s.mu.Lock()
		if err != nil {
			s.cleanupError = err
		}
		s.state = endState
		stream := s.stream
		cancel := s.cancel
		s.mu.Unlock()

		// Fail any pipeline still in flight. After a clean close they
		// should all be finished already.
		s.pipelines.Range(func(_, value any) bool {
			pl := value.(*Pipeline)
			if err != nil {
				pl.fail(fmt.Errorf("%w: %v", ErrBroken, err))
			} else {
				pl.fail(ErrClosed)
			}
			return true
		})

		if cancel != nil {
			cancel()
		}
		if stream != nil {
			_ = stream.Close()
		}
		close(s.doneCh)
	})
}

// dispatchLoop reads packets and routes them until the shell terminates.
func (s *Shell) dispatchLoop(ctx context.Context) {
	for {
		s.mu.RLock()
		state := s.state
		s.mu.RUnlock()
		if state == StateClosed || state == StateBroken {
			return
		}

		pkt, err := s.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				s.logf("dispatch: exiting, context cancelled")
				return
			}
			s.mu.RLock()
			closing := s.state == StateClosing
			s.mu.RUnlock()
			if closing {
				// Stream ending during close is the engine going away,
				// which is what we asked for.
				s.logf("dispatch: stream ended during close: %v", err)
				s.cleanup(StateClosed, nil)
				return
			}
			s.logf("dispatch: fatal transport error: %v", err)
			s.handleTransportError(err)
			return
		}

		s.logf("dispatch: received %s psguid=%s stream=%s", pkt.Type, pkt.PSGuid, pkt.Stream)

		switch pkt.Type {
		case PacketTypeData:
			s.dispatchData(ctx, pkt)

		case PacketTypeCommandAck, PacketTypeDataAck:
			// Receipt acknowledgments. Nothing blocks on them.

		case PacketTypeCloseAck:
			if IsSessionGUID(pkt.PSGuid) {
				select {
				case s.closeAckCh <- struct{}{}:
				default:
				}
			}

		case PacketTypeClose:
			// Engine-initiated shutdown.
			_ = s.conn.SendCloseAck(pkt.PSGuid)
			if IsSessionGUID(pkt.PSGuid) {
				s.logf("dispatch: engine closed the session")
				s.cleanup(StateClosed, nil)
				return
			}

		default:
			s.logf("dispatch: ignoring unexpected packet type %q", pkt.Type)
		}
	}
}

// dispatchData routes one Data packet by stream and scope.
func (s *Shell) dispatchData(ctx context.Context, pkt *Packet) {
	// Receipt acknowledgment, not completion.
	_ = s.conn.SendDataAck(pkt.PSGuid)

	switch pkt.Stream {
	case StreamHostCall:
		// Host calls are answered at the shell level regardless of scope
		// so pipeline prompts work the same as session prompts.
		select {
		case s.hostCallLimiter <- struct{}{}:
			go func() {
				defer func() { <-s.hostCallLimiter }()
				if err := s.serveHostCall(pkt); err != nil {
					s.logf("dispatch: host call: %v", err)
					s.handleTransportError(fmt.Errorf("host call: %w", err))
				}
			}()
		case <-ctx.Done():
		}
		return

	case StreamProgress:
		v, err := wire.Unmarshal(pkt.Data)
		if err != nil {
			s.logf("dispatch: bad progress payload: %v", err)
			return
		}
		if rec, ok := wire.AsProgressRecord(v); ok {
			s.hostBinding.Progress(rec)
		}
		return

	case StreamInformation:
		v, err := wire.Unmarshal(pkt.Data)
		if err != nil {
			s.logf("dispatch: bad information payload: %v", err)
			return
		}
		if text, ok := v.(string); ok {
			s.hostBinding.Line(text)
		}
		return
	}

	if IsSessionGUID(pkt.PSGuid) {
		s.logf("dispatch: unexpected session data on stream %s", pkt.Stream)
		return
	}

	val, ok := s.pipelines.Load(pkt.PSGuid)
	if !ok {
		s.logf("dispatch: no pipeline %s for %s data", pkt.PSGuid, pkt.Stream)
		return
	}
	pl := val.(*Pipeline)
	if err := pl.handleData(pkt); err != nil {
		s.logf("dispatch: pipeline %s: %v", pkt.PSGuid, err)
		pl.fail(err)
	}
}

// serveHostCall decodes a host call, lets the host answer it, and sends
// the response back on the same scope.
func (s *Shell) serveHostCall(pkt *Packet) error {
	v, err := wire.Unmarshal(pkt.Data)
	if err != nil {
		return fmt.Errorf("decode host call: %w", err)
	}
	call, ok := wire.AsHostCall(v)
	if !ok {
		return fmt.Errorf("host call stream carried %T", v)
	}

	resp := s.hostBinding.Respond(call)

	data, err := wire.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode host response: %w", err)
	}
	return s.conn.SendData(pkt.PSGuid, StreamHostResponse, data)
}

// NewPipeline prepares a pipeline for the given commands and claims the
// shell's single invocation slot. The slot is held until Release, so a
// second caller blocks here until the first invocation finishes.
func (s *Shell) NewPipeline(commands []*objects.Command) (*Pipeline, error) {
	if state := s.State(); state != StateOpened {
		return nil, fmt.Errorf("%w: shell state %s", ErrNotOpen, state)
	}

	s.invokeMu.Lock()

	// The shell may have broken while we waited for the slot.
	if state := s.State(); state != StateOpened {
		s.invokeMu.Unlock()
		return nil, fmt.Errorf("%w: shell state %s", ErrNotOpen, state)
	}

	pl := newPipeline(s, commands)
	s.pipelines.Store(pl.id, pl)
	s.logf("pipeline %s: created", pl.id)
	return pl, nil
}

func (s *Shell) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}
