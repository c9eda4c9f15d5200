// Package transporttest provides an in-memory engine for exercising
// shells, sessions, and executors without a real remote process.
//
// An Engine speaks the packet protocol over one end of a net.Pipe and
// hands every completed pipeline definition to a Handler, which plays the
// remote side through a Replier:
//
//	engine := transporttest.NewEngine(func(reply *transporttest.Replier, cmds []*objects.Command) {
//		reply.Output("hello")
//		reply.Complete()
//	})
//	shell := transport.NewShell(engine.Info())
//
// Like a real engine, it does not run a pipeline until the client has
// closed the input feed, so code that forgets InputEnd hangs instead of
// passing.
package transporttest

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/dnielsn/go-pssession/objects"
	"github.com/dnielsn/go-pssession/transport"
	"github.com/dnielsn/go-pssession/wire"
)

// Handler plays the engine side of one pipeline invocation. It must end
// the pipeline with reply.Complete or reply.Fail; the client drains until
// a terminal state arrives.
type Handler func(reply *Replier, commands []*objects.Command)

// Engine is an in-memory endpoint speaking the session packet protocol.
// One engine can serve many connections.
type Engine struct {
	handler Handler
	version string

	mu          sync.Mutex
	invocations [][]*objects.Command

	responses chan *wire.HostResponse
}

// Option adjusts engine behavior.
type Option func(*Engine)

// WithVersion overrides the protocol version announced in HelloAck. Used
// to provoke handshake rejections.
func WithVersion(version string) Option {
	return func(e *Engine) { e.version = version }
}

// NewEngine creates an engine that serves every pipeline with handler.
func NewEngine(handler Handler, opts ...Option) *Engine {
	e := &Engine{
		handler:   handler,
		version:   transport.ProtocolVersion,
		responses: make(chan *wire.HostResponse, 16),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dial returns a DialFunc connecting shells to this engine.
func (e *Engine) Dial() transport.DialFunc {
	return func(_ context.Context, _ *transport.ConnectionInfo) (io.ReadWriteCloser, error) {
		client, server := net.Pipe()
		go e.serve(server)
		return client, nil
	}
}

// Info returns a local ConnectionInfo wired to this engine.
func (e *Engine) Info() *transport.ConnectionInfo {
	return &transport.ConnectionInfo{Dial: e.Dial()}
}

// Invocations returns the pipeline definitions received so far, in order.
func (e *Engine) Invocations() [][]*objects.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]*objects.Command, len(e.invocations))
	copy(out, e.invocations)
	return out
}

// HostResponses delivers host call answers sent by the client.
func (e *Engine) HostResponses() <-chan *wire.HostResponse {
	return e.responses
}

// pendingPipeline tracks one announced pipeline until it can run. The
// engine refuses to start it before the definition arrived and the input
// feed closed.
type pendingPipeline struct {
	commands []*objects.Command
	inputEnd bool
	started  bool
}

func (e *Engine) serve(conn io.ReadWriteCloser) {
	defer conn.Close()

	pc := transport.NewPacketConnFromReadWriter(conn)
	pipes := make(map[uuid.UUID]*pendingPipeline)

	for {
		pkt, err := pc.Receive()
		if err != nil {
			return
		}

		switch pkt.Type {
		case transport.PacketTypeHello:
			_ = pc.SendHelloAck(e.version)

		case transport.PacketTypeCommand:
			pipes[pkt.PSGuid] = &pendingPipeline{}
			_ = pc.SendCommandAck(pkt.PSGuid)

		case transport.PacketTypeData:
			_ = pc.SendDataAck(pkt.PSGuid)
			e.handleData(pc, pipes, pkt)

		case transport.PacketTypeInputEnd:
			if p, ok := pipes[pkt.PSGuid]; ok {
				p.inputEnd = true
				e.maybeRun(pc, pkt.PSGuid, p)
			}

		case transport.PacketTypeClose:
			_ = pc.SendCloseAck(pkt.PSGuid)
			if transport.IsSessionGUID(pkt.PSGuid) {
				return
			}
			delete(pipes, pkt.PSGuid)
		}
	}
}

func (e *Engine) handleData(pc *transport.PacketConn, pipes map[uuid.UUID]*pendingPipeline, pkt *transport.Packet) {
	switch pkt.Stream {
	case transport.StreamDefault:
		p, ok := pipes[pkt.PSGuid]
		if !ok {
			return
		}
		commands, err := wire.UnmarshalPipeline(pkt.Data)
		if err != nil {
			return
		}
		p.commands = commands
		e.maybeRun(pc, pkt.PSGuid, p)

	case transport.StreamHostResponse:
		v, err := wire.Unmarshal(pkt.Data)
		if err != nil {
			return
		}
		if resp, ok := wire.AsHostResponse(v); ok {
			select {
			case e.responses <- resp:
			default:
			}
		}
	}
}

func (e *Engine) maybeRun(pc *transport.PacketConn, guid uuid.UUID, p *pendingPipeline) {
	if p.started || p.commands == nil || !p.inputEnd {
		return
	}
	p.started = true

	e.mu.Lock()
	e.invocations = append(e.invocations, p.commands)
	e.mu.Unlock()

	// A goroutine keeps the serve loop reading while the handler writes.
	reply := &Replier{conn: pc, guid: guid}
	go e.handler(reply, p.commands)
}

// Replier writes one pipeline's engine-side traffic.
type Replier struct {
	conn *transport.PacketConn
	guid uuid.UUID
}

// ID returns the pipeline GUID being served.
func (r *Replier) ID() uuid.UUID {
	return r.guid
}

// Output emits one record on the output stream.
func (r *Replier) Output(v any) error {
	data, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	return r.conn.SendData(r.guid, transport.StreamOutput, data)
}

// Error emits one record on the error stream.
func (r *Replier) Error(rec *objects.ErrorRecord) error {
	data, err := wire.Marshal(rec)
	if err != nil {
		return err
	}
	return r.conn.SendData(r.guid, transport.StreamError, data)
}

// Progress emits a progress record.
func (r *Replier) Progress(rec *objects.ProgressRecord) error {
	data, err := wire.Marshal(rec)
	if err != nil {
		return err
	}
	return r.conn.SendData(r.guid, transport.StreamProgress, data)
}

// Information emits an informational message.
func (r *Replier) Information(text string) error {
	data, err := wire.Marshal(text)
	if err != nil {
		return err
	}
	return r.conn.SendData(r.guid, transport.StreamInformation, data)
}

// State emits a pipeline state record.
func (r *Replier) State(code wire.StateCode, reason *objects.ErrorRecord) error {
	data, err := wire.Marshal(&wire.State{Code: code, Reason: reason})
	if err != nil {
		return err
	}
	return r.conn.SendData(r.guid, transport.StreamState, data)
}

// Complete marks the pipeline completed.
func (r *Replier) Complete() error {
	return r.State(wire.StateCompleted, nil)
}

// Fail marks the pipeline failed with the given reason.
func (r *Replier) Fail(reason *objects.ErrorRecord) error {
	return r.State(wire.StateFailed, reason)
}

// HostCall asks the client to invoke a host capability on this pipeline's
// scope. The answer arrives on Engine.HostResponses.
func (r *Replier) HostCall(call *wire.HostCall) error {
	data, err := wire.Marshal(call)
	if err != nil {
		return err
	}
	return r.conn.SendData(r.guid, transport.StreamHostCall, data)
}
