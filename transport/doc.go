// Package transport connects to a remote engine and runs pipelines on it.
//
// A Shell owns one connection: it dials the engine, performs the session
// handshake, and routes incoming packets. Connectors exist for a local
// child process (stdin/stdout), SSH subsystems, plain TCP, TLS, and
// WebSocket endpoints; a ConnectionInfo.Dial override plugs in anything
// else that behaves like a byte stream.
//
// # Protocol Overview
//
// The wire protocol frames everything as single-line XML elements, one
// packet per newline. Data packets carry their payload base64-encoded and
// tagged with a Stream that names the logical channel:
//
//	<Hello PSGuid='null-guid' Version='1.0' />             - Client handshake
//	<HelloAck PSGuid='null-guid' Version='1.0' />          - Engine handshake
//	<Command PSGuid='pipeline-guid' />                     - Create pipeline
//	<CommandAck PSGuid='pipeline-guid' />                  - Pipeline created
//	<Data Stream='Default' PSGuid='guid'>base64</Data>     - Payload
//	<DataAck PSGuid='guid' />                              - Data receipt
//	<InputEnd PSGuid='pipeline-guid' />                    - Input feed closed
//	<Close PSGuid='guid' />                                - Close request
//	<CloseAck PSGuid='guid' />                             - Close acknowledgment
//
// The null GUID scopes a packet to the session; any other GUID names a
// pipeline. Data payloads are encoded by the wire package. Streams for
// pipeline traffic are Default (definitions and input), Output, Error,
// Progress, Information, and State; HostCall and HostResponse carry host
// interaction in either scope.
//
// # Usage
//
//	info := &transport.ConnectionInfo{Address: "build-07", Port: 22}
//	shell := transport.NewShell(info)
//	if err := shell.Open(ctx); err != nil {
//		return err
//	}
//	defer shell.Close(ctx)
//
//	pl, err := shell.NewPipeline(commands)
//	if err != nil {
//		return err
//	}
//	defer pl.Release()
//
//	if err := pl.Start(ctx); err != nil {
//		return err
//	}
//	if err := pl.CloseInput(); err != nil {
//		return err
//	}
//	// Drain pl.TryReadOutput / pl.TryReadError until pl.EndOfStreams().
//
// A Shell allows one pipeline in flight at a time: NewPipeline blocks
// while another invocation holds the slot, and Release frees it.
package transport
