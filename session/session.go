// Package session owns the lifecycle of one remote engine connection: open,
// re-open, probe, and a teardown that never fails.
//
// A Session is a thin ownership layer over a transport.Shell. The shell is
// the wire-level object; the session adds the lifecycle rules callers rely
// on:
//
//   - Open force-closes any prior state first, so a session can be re-pointed
//     at another target without leaking the old channel.
//   - Close is unconditional: it swallows and logs every teardown failure,
//     is idempotent, and always leaves the session disconnected.
//   - TestConnection probes a target with a throwaway session and reports
//     plain success or failure, never an error.
//
// The zero value is a usable, unconnected session. Options bind a host or a
// logger at construction; both may also be replaced between connections.
//
// Usage:
//
//	sess, err := session.Open(ctx, &transport.ConnectionInfo{Address: "server01"})
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
// Or scoped, with the close guaranteed on every path:
//
//	err := session.With(ctx, info, func(sess *session.Session) error {
//		return doWork(ctx, sess)
//	})
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dnielsn/go-pssession/host"
	"github.com/dnielsn/go-pssession/transport"
)

// ErrNilConnection is returned by Open when no connection descriptor was
// supplied.
var ErrNilConnection = errors.New("no connection descriptor")

// closeGrace bounds how long Close waits for an orderly shutdown before
// abandoning the channel.
const closeGrace = 5 * time.Second

// Logger receives diagnostic output from the session. *log.Logger satisfies
// it.
type Logger interface {
	Printf(format string, v ...any)
}

// Option configures a Session at construction.
type Option func(*Session)

// WithHost binds the host answering engine prompts and receiving stream
// text. Without it the session uses a silent host.
func WithHost(h *host.Host) Option {
	return func(s *Session) {
		if h != nil {
			s.hostBinding = h
		}
	}
}

// WithLogger routes session and channel diagnostics to logger.
func WithLogger(logger Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithSlogLogger routes diagnostics to a structured logger at debug level.
func WithSlogLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = slogAdapter{logger}
		}
	}
}

// Session owns at most one open channel and one host binding at a time.
// Lifecycle methods (Open, Close, With) belong to a single owning goroutine;
// the read accessors are safe from any goroutine.
type Session struct {
	mu          sync.Mutex
	hostBinding *host.Host
	logger      Logger

	info  *transport.ConnectionInfo
	shell *transport.Shell
}

// New creates an unconnected session.
func New(opts ...Option) *Session {
	s := &Session{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a session and connects it in one step.
func Open(ctx context.Context, info *transport.ConnectionInfo, opts ...Option) (*Session, error) {
	s := New(opts...)
	if err := s.Open(ctx, info); err != nil {
		return nil, err
	}
	return s, nil
}

// With opens a session, runs fn, and closes the session on every exit path.
func With(ctx context.Context, info *transport.ConnectionInfo, fn func(*Session) error, opts ...Option) error {
	s, err := Open(ctx, info, opts...)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// Open connects the session to the target described by info. Any previously
// open state is force-closed first. The descriptor is copied; later mutation
// by the caller has no effect. Dialing and the protocol handshake together
// are bounded by the descriptor's connect timeout.
func (s *Session) Open(ctx context.Context, info *transport.ConnectionInfo) error {
	if info == nil {
		return ErrNilConnection
	}

	s.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	sh := transport.NewShell(info)
	if err := sh.SetHost(s.host()); err != nil {
		return fmt.Errorf("bind host: %w", err)
	}
	if s.logger != nil {
		if err := sh.SetLogger(s.logger); err != nil {
			return fmt.Errorf("bind logger: %w", err)
		}
	}

	if err := sh.Open(ctx); err != nil {
		// Best effort: a failed open has nothing worth keeping.
		_ = sh.Close(context.Background())
		return fmt.Errorf("open session: %w", err)
	}

	s.info = info.Clone()
	s.shell = sh
	if s.logger != nil {
		s.logger.Printf("session: opened %s", describeTarget(s.info))
	}
	return nil
}

// Close releases the session's channel. It never returns an error: teardown
// failures are logged and swallowed. Closing a closed or never-opened
// session is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	sh := s.shell
	s.shell = nil
	s.mu.Unlock()

	if sh == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	if err := sh.Close(ctx); err != nil {
		s.logf("session: suppressed close failure: %v", err)
	}
	s.logf("session: closed")
}

// TestConnection probes the target with a throwaway session and reports
// whether a channel could be opened. The probe is bounded by the
// descriptor's connect timeout and is always closed before returning;
// failures and timeouts read as false, never as an error.
func (s *Session) TestConnection(ctx context.Context, info *transport.ConnectionInfo) bool {
	if info == nil {
		return false
	}

	timeout := info.ConnectTimeout
	if timeout <= 0 {
		timeout = transport.DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probe := New(WithLogger(s.currentLogger()))
	defer probe.Close()
	if err := probe.Open(ctx, info); err != nil {
		s.logf("session: probe of %s failed: %v", describeTarget(info), err)
		return false
	}
	return true
}

// Connected reports whether the session holds an open channel.
func (s *Session) Connected() bool {
	s.mu.Lock()
	sh := s.shell
	s.mu.Unlock()
	return sh != nil && sh.Connected()
}

// Info returns a copy of the descriptor of the current or most recent
// connection, or nil if the session never opened.
func (s *Session) Info() *transport.ConnectionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Clone()
}

// Host returns the session's host binding. Never nil.
func (s *Session) Host() *host.Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host()
}

// Channel returns the open channel, or nil when the session is closed.
func (s *Session) Channel() *transport.Shell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shell
}

// SetHost replaces the host binding used by the next Open. The current
// connection, if any, keeps the binding it opened with.
func (s *Session) SetHost(h *host.Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		h = host.Silent()
	}
	s.hostBinding = h
}

// SetLogger replaces the logger used by the session and by the next Open.
func (s *Session) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetSlogLogger routes diagnostics to a structured logger at debug level.
func (s *Session) SetSlogLogger(logger *slog.Logger) {
	if logger == nil {
		s.SetLogger(nil)
		return
	}
	s.SetLogger(slogAdapter{logger})
}

// EnableDebugLogging routes session diagnostics to stderr.
func (s *Session) EnableDebugLogging() {
	s.SetLogger(log.New(os.Stderr, "session: ", log.LstdFlags))
}

// host returns the binding, creating the silent default on first use.
// Callers hold s.mu.
func (s *Session) host() *host.Host {
	if s.hostBinding == nil {
		s.hostBinding = host.Silent()
	}
	return s.hostBinding
}

func (s *Session) currentLogger() Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

func (s *Session) logf(format string, v ...any) {
	if l := s.currentLogger(); l != nil {
		l.Printf(format, v...)
	}
}

// slogAdapter bridges the Printf logger contract onto log/slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Printf(format string, v ...any) {
	a.logger.Debug(fmt.Sprintf(format, v...))
}

// describeTarget renders a descriptor for log lines.
func describeTarget(info *transport.ConnectionInfo) string {
	if info == nil {
		return "<nil>"
	}
	if info.IsLocal() {
		return "local"
	}
	if info.Port > 0 {
		return fmt.Sprintf("%s:%d", info.Address, info.Port)
	}
	return info.Address
}
