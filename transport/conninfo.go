package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/dnielsn/go-pssession/objects"
)

// Default timeouts applied when a ConnectionInfo leaves them zero.
const (
	DefaultConnectTimeout   = 30 * time.Second
	DefaultOperationTimeout = 60 * time.Second
)

// DialFunc opens a raw byte stream to an engine. Supplying one on
// ConnectionInfo bypasses the built-in connectors; tests use this to wire
// a shell to an in-memory engine.
type DialFunc func(ctx context.Context, info *ConnectionInfo) (io.ReadWriteCloser, error)

// ConnectionInfo describes how to reach a remote engine. It is treated as
// immutable once a shell opens with it: the shell keeps a private copy, so
// later mutation by the caller has no effect.
//
// The Address may carry an explicit scheme to select a connector:
//
//	ssh://host:22     SSH exec of the engine subsystem
//	tcp://host:5985   plain TCP
//	tls://host:5986   TCP with TLS
//	ws://host/engine  WebSocket
//	wss://host/engine WebSocket over TLS
//
// A bare address uses SSH for remote targets. A local target (port zero
// and a loopback address or local alias) launches the engine as a child
// process instead.
type ConnectionInfo struct {
	// Address is the target host, optionally with a scheme and port.
	Address string
	// Port is the target port. Zero or negative means local.
	Port int

	// Credential authenticates remote transports. Local connections
	// ignore it.
	Credential *objects.Credential

	// KeyPath is an optional SSH private key file. When set it is tried
	// before password authentication.
	KeyPath string
	// KnownHostsPath overrides the known_hosts file used for SSH host key
	// verification. Empty means ~/.ssh/known_hosts.
	KnownHostsPath string

	// UseTLS wraps plain TCP connections in TLS even without a tls://
	// scheme.
	UseTLS bool
	// SkipVerify disables certificate and host key verification.
	SkipVerify bool

	// ConnectTimeout bounds transport dialing and the session handshake.
	// Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// OperationTimeout bounds individual remote operations issued over the
	// session. Zero means DefaultOperationTimeout.
	OperationTimeout time.Duration

	// ShellCommand is the engine command line for local connections.
	// Empty means the stock PowerShell server-mode invocation.
	ShellCommand string
	// Subsystem is the SSH subsystem hosting the engine. Empty means
	// "powershell".
	Subsystem string

	// Dial overrides the built-in connectors when non-nil.
	Dial DialFunc
}

// localAliases are addresses treated as the local machine without any
// resolution.
var localAliases = map[string]bool{
	"":          true,
	".":         true,
	"localhost": true,
}

// IsLocal reports whether the target is the local machine: a non-positive
// port combined with a loopback address or a recognized local alias.
func (ci *ConnectionInfo) IsLocal() bool {
	if ci.Port > 0 {
		return false
	}
	addr := strings.ToLower(strings.TrimSpace(ci.Address))
	if localAliases[addr] {
		return true
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// Clone returns a deep copy. The credential is shared, not copied, so a
// Clear on the original clears the copy too.
func (ci *ConnectionInfo) Clone() *ConnectionInfo {
	if ci == nil {
		return nil
	}
	out := *ci
	return &out
}

// Validate reports configuration errors that would make every dial fail.
func (ci *ConnectionInfo) Validate() error {
	if ci.Port > 65535 {
		return fmt.Errorf("port %d out of range", ci.Port)
	}
	if scheme := ci.scheme(); scheme != "" {
		switch scheme {
		case "ssh", "tcp", "tls", "ws", "wss":
		default:
			return fmt.Errorf("unsupported scheme %q", scheme)
		}
	}
	if !ci.IsLocal() && strings.TrimSpace(ci.Address) == "" {
		return fmt.Errorf("remote connection requires an address")
	}
	return nil
}

// connectTimeout returns the configured connect timeout or the default.
func (ci *ConnectionInfo) connectTimeout() time.Duration {
	if ci.ConnectTimeout > 0 {
		return ci.ConnectTimeout
	}
	return DefaultConnectTimeout
}

// operationTimeout returns the configured operation timeout or the default.
func (ci *ConnectionInfo) operationTimeout() time.Duration {
	if ci.OperationTimeout > 0 {
		return ci.OperationTimeout
	}
	return DefaultOperationTimeout
}

// scheme returns the explicit scheme of the address, or "".
func (ci *ConnectionInfo) scheme() string {
	idx := strings.Index(ci.Address, "://")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(ci.Address[:idx])
}

// bareAddress returns the address with any scheme prefix stripped.
func (ci *ConnectionInfo) bareAddress() string {
	if idx := strings.Index(ci.Address, "://"); idx >= 0 {
		return ci.Address[idx+3:]
	}
	return ci.Address
}

// hostPort returns "host:port" for dialing, applying defaultPort when
// neither the address nor the Port field carries one.
func (ci *ConnectionInfo) hostPort(defaultPort int) string {
	addr := ci.bareAddress()
	// Path suffixes only matter for WebSocket URLs, not host:port dialing.
	if idx := strings.IndexAny(addr, "/"); idx >= 0 {
		addr = addr[:idx]
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	port := ci.Port
	if port <= 0 {
		port = defaultPort
	}
	return net.JoinHostPort(addr, fmt.Sprintf("%d", port))
}

// subsystem returns the SSH subsystem name hosting the engine.
func (ci *ConnectionInfo) subsystem() string {
	if ci.Subsystem != "" {
		return ci.Subsystem
	}
	return "powershell"
}
