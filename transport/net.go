package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

// Default engine ports for socket transports.
const (
	defaultEnginePort    = 5985
	defaultEngineTLSPort = 5986
)

// dialTCP connects over plain TCP, optionally wrapped in TLS when the info
// asks for a secure transport.
func dialTCP(ctx context.Context, info *ConnectionInfo) (io.ReadWriteCloser, error) {
	if info.UseTLS {
		return dialTLS(ctx, info)
	}

	addr := info.hostPort(defaultEnginePort)
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// dialTLS connects over TCP and completes a TLS handshake before handing
// the stream over.
func dialTLS(ctx context.Context, info *ConnectionInfo) (io.ReadWriteCloser, error) {
	addr := info.hostPort(defaultEngineTLSPort)
	dialer := net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	serverName, _, err := net.SplitHostPort(addr)
	if err != nil {
		serverName = addr
	}
	conn := tls.Client(raw, &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: info.SkipVerify,
		MinVersion:         tls.VersionTLS12,
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return conn, nil
}

// dialWebSocket connects to an engine exposed behind a WebSocket endpoint.
// The address must be a full ws:// or wss:// URL.
func dialWebSocket(ctx context.Context, info *ConnectionInfo) (io.ReadWriteCloser, error) {
	opts := &websocket.DialOptions{}
	if info.SkipVerify {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in via SkipVerify
			},
		}
	}

	wsConn, _, err := websocket.Dial(ctx, info.Address, opts)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", info.Address, err)
	}

	// The connection outlives the dial context.
	return websocket.NetConn(context.Background(), wsConn, websocket.MessageBinary), nil
}
