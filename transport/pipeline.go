package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dnielsn/go-pssession/objects"
	"github.com/dnielsn/go-pssession/wire"
)

// streamBuffer is the per-stream buffer between the dispatch goroutine and
// the reader.
const streamBuffer = 256

// handoffTimeout bounds how long dispatch waits on a full stream buffer
// before declaring the reader stuck.
const handoffTimeout = 5 * time.Second

// Pipeline is one invocation in flight on a shell. It is created by
// Shell.NewPipeline, fed by the shell's dispatch loop, and drained by the
// caller through the non-blocking TryRead methods.
//
// A Pipeline holds the shell's invocation slot from creation until
// Release. Callers must Release, usually via defer, or the shell deadlocks
// on the next invocation.
type Pipeline struct {
	id       uuid.UUID
	shell    *Shell
	commands []*objects.Command

	mu       sync.Mutex
	started  bool
	finished bool
	failure  error

	outputCh chan any
	errorCh  chan *objects.ErrorRecord
	doneCh   chan struct{}

	releaseOnce sync.Once
}

func newPipeline(s *Shell, commands []*objects.Command) *Pipeline {
	return &Pipeline{
		id:       uuid.New(),
		shell:    s,
		commands: commands,
		outputCh: make(chan any, streamBuffer),
		errorCh:  make(chan *objects.ErrorRecord, streamBuffer),
		doneCh:   make(chan struct{}),
	}
}

// ID returns the pipeline's GUID, which scopes its packets on the wire.
func (p *Pipeline) ID() uuid.UUID {
	return p.id
}

// Start sends the pipeline definition to the engine and begins execution.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("%w: pipeline already started", ErrInvalidState)
	}
	p.started = true
	p.mu.Unlock()

	payload, err := wire.MarshalPipeline(p.commands)
	if err != nil {
		p.fail(err)
		return fmt.Errorf("encode pipeline: %w", err)
	}
	if err := p.shell.conn.SendCommand(p.id); err != nil {
		p.fail(err)
		return fmt.Errorf("send command: %w", err)
	}
	if err := p.shell.conn.SendData(p.id, StreamDefault, payload); err != nil {
		p.fail(err)
		return fmt.Errorf("send pipeline: %w", err)
	}
	return nil
}

// CloseInput closes the pipeline's input feed. Without this the engine
// waits for interactive input instead of running the command, so callers
// must close input before draining.
func (p *Pipeline) CloseInput() error {
	if err := p.shell.conn.SendInputEnd(p.id); err != nil {
		return fmt.Errorf("send input end: %w", err)
	}
	return nil
}

// TryReadOutput performs a non-blocking read of the output stream.
func (p *Pipeline) TryReadOutput() (any, bool) {
	select {
	case v := <-p.outputCh:
		return v, true
	default:
		return nil, false
	}
}

// TryReadError performs a non-blocking read of the error stream.
func (p *Pipeline) TryReadError() (*objects.ErrorRecord, bool) {
	select {
	case rec := <-p.errorCh:
		return rec, true
	default:
		return nil, false
	}
}

// Finished reports whether the engine declared the pipeline terminal or
// the transport failed underneath it. Stream buffers may still hold
// unread records after this turns true.
func (p *Pipeline) Finished() bool {
	select {
	case <-p.doneCh:
		return true
	default:
		return false
	}
}

// EndOfStreams reports whether the pipeline is finished and both stream
// buffers are fully drained.
func (p *Pipeline) EndOfStreams() bool {
	return p.Finished() && len(p.outputCh) == 0 && len(p.errorCh) == 0
}

// Failure returns the terminal failure reason. A pipeline that completed
// normally, or has not finished yet, returns nil.
func (p *Pipeline) Failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}

// Wait blocks until the pipeline reaches a terminal state and returns its
// failure, if any.
func (p *Pipeline) Wait(ctx context.Context) error {
	select {
	case <-p.doneCh:
		return p.Failure()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release discards any unread stream remainder, closes the pipeline on
// the engine side, and frees the shell's invocation slot. Only the first
// call has effect.
func (p *Pipeline) Release() {
	p.releaseOnce.Do(func() {
		for {
			if _, ok := p.TryReadOutput(); !ok {
				break
			}
		}
		for {
			if _, ok := p.TryReadError(); !ok {
				break
			}
		}

		// Unregister before the Close round trip so dispatch drops any
		// still-arriving remainder instead of queueing it.
		p.shell.pipelines.Delete(p.id)

		// Best effort: on a broken shell the write just fails.
		_ = p.shell.conn.SendClose(p.id)

		p.shell.logf("pipeline %s: released", p.id)
		p.shell.invokeMu.Unlock()
	})
}

// handleData routes one Data packet into the pipeline. Called only from
// the shell's dispatch goroutine.
func (p *Pipeline) handleData(pkt *Packet) error {
	switch pkt.Stream {
	case StreamOutput:
		v, err := wire.Unmarshal(pkt.Data)
		if err != nil {
			return fmt.Errorf("decode output: %w", err)
		}
		return p.deliver(pkt.Stream, func() bool {
			select {
			case p.outputCh <- v:
				return true
			default:
				return false
			}
		})

	case StreamError:
		v, err := wire.Unmarshal(pkt.Data)
		if err != nil {
			return fmt.Errorf("decode error record: %w", err)
		}
		rec, ok := wire.AsErrorRecord(v)
		if !ok {
			return fmt.Errorf("error stream carried %T", v)
		}
		return p.deliver(pkt.Stream, func() bool {
			select {
			case p.errorCh <- rec:
				return true
			default:
				return false
			}
		})

	case StreamState:
		v, err := wire.Unmarshal(pkt.Data)
		if err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
		st, ok := wire.AsState(v)
		if !ok {
			return fmt.Errorf("state stream carried %T", v)
		}
		p.handleState(st)
		return nil

	default:
		// Default-stream data from the engine carries no meaning for a
		// client pipeline.
		return nil
	}
}

// deliver retries a buffered send until it lands, the pipeline finishes,
// or the handoff times out. The timeout means the reader stopped draining;
// failing the pipeline beats blocking dispatch forever.
func (p *Pipeline) deliver(stream Stream, send func() bool) error {
	if send() {
		return nil
	}

	deadline := time.NewTimer(handoffTimeout)
	defer deadline.Stop()
	retry := time.NewTicker(5 * time.Millisecond)
	defer retry.Stop()

	for {
		select {
		case <-p.doneCh:
			// Terminal already; the remainder is discarded anyway.
			return nil
		case <-deadline.C:
			return fmt.Errorf("%s stream buffer full for %s", stream, handoffTimeout)
		case <-retry.C:
			if send() {
				return nil
			}
		}
	}
}

// handleState applies an engine state record.
func (p *Pipeline) handleState(st *wire.State) {
	switch st.Code {
	case wire.StateCompleted:
		p.finish(nil)
	case wire.StateFailed:
		if st.Reason != nil {
			p.finish(st.Reason.Err())
		} else {
			p.finish(fmt.Errorf("pipeline failed without a reason"))
		}
	case wire.StateStopped:
		p.finish(ErrStopped)
	default:
		// Running and other non-terminal notifications.
	}
}

// finish marks the pipeline terminal exactly once.
func (p *Pipeline) finish(failure error) {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	p.failure = failure
	p.mu.Unlock()
	close(p.doneCh)
}

// fail marks the pipeline terminal with the given reason. The shell uses
// it when the transport breaks underneath a running pipeline.
func (p *Pipeline) fail(err error) {
	p.finish(err)
}
