package transport

import (
	"context"
	"io"
)

// dialConnection opens the byte stream for a connection, picking a
// connector from the address scheme. A custom Dial on the info wins over
// everything.
func dialConnection(ctx context.Context, info *ConnectionInfo) (io.ReadWriteCloser, error) {
	if info.Dial != nil {
		return info.Dial(ctx, info)
	}

	switch info.scheme() {
	case "ssh":
		return dialSSH(ctx, info)
	case "tcp":
		return dialTCP(ctx, info)
	case "tls":
		return dialTLS(ctx, info)
	case "ws", "wss":
		return dialWebSocket(ctx, info)
	}

	if info.IsLocal() {
		return startLocalProcess(ctx, info)
	}

	// Remote targets without an explicit scheme go over SSH.
	return dialSSH(ctx, info)
}
