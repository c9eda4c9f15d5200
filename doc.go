// Package pssession runs PowerShell command pipelines on a remote engine
// and moves files over the same channel.
//
// # Architecture
//
// The module is organized into layers:
//
//   - session: connection lifecycle, one open channel and host binding at a time
//   - pipeline: the drain loop turning invocations into typed results
//   - transfer / archive: idempotent file copy and zip extraction built on pipelines
//   - transport: packet framing, the shell state machine, and the connectors
//   - wire / objects / coercion / escape: records, commands, result typing, script quoting
//   - host: the callback surface the engine talks back through
//
// This package re-exports the three calls most programs need; the leaf
// packages stay importable for everything else.
//
// # Basic Usage
//
//	info := &transport.ConnectionInfo{Address: "ssh://build01", Port: 22}
//	sess, err := pssession.Open(ctx, info)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	// Run a pipeline and coerce the results.
//	names, err := pssession.Run[string](ctx, sess,
//	    objects.NewCommand("Get-Process").WithParameter("Name", "pwsh"),
//	    objects.NewCommand("Select-Object").WithParameter("ExpandProperty", "ProcessName"))
//
//	// Ship a build artifact.
//	err = pssession.Copy(ctx, sess, "dist/agent.zip", "C:/staging/agent.zip")
//
// # Transports
//
// The connection target decides the transport. An empty or loopback
// address with no port starts a local engine child process; ssh:// dials
// an SSH subsystem; tcp:// and tls:// speak the packet protocol over a
// socket; ws:// and wss:// tunnel it through a WebSocket. A
// ConnectionInfo.Dial override plugs in anything else that behaves like
// a byte stream.
package pssession

// Version is the library version.
const Version = "0.1.0-dev"
