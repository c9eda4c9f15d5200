package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dnielsn/go-pssession/coercion"
	"github.com/dnielsn/go-pssession/host"
	"github.com/dnielsn/go-pssession/objects"
	"github.com/dnielsn/go-pssession/transport"
)

var (
	// ErrNotConnected is returned when the session has no open channel.
	ErrNotConnected = errors.New("session has no open channel")

	// ErrNoCommands is returned when no non-nil command was supplied.
	ErrNoCommands = errors.New("no commands to invoke")

	// ErrUnspecified is returned when an invocation failed without any
	// reported cause.
	ErrUnspecified = errors.New("execution failed without a reported cause")
)

// DefaultPollInterval is the drain loop backoff applied when the Executor
// leaves PollInterval zero.
const DefaultPollInterval = 50 * time.Millisecond

// Logger receives diagnostic output from the executor. *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Session is the slice of session surface the executor needs. It is
// satisfied by *session.Session.
type Session interface {
	Channel() *transport.Shell
	Host() *host.Host
}

// Executor runs pipelines. The zero value is usable; fields adjust the
// drain behavior.
type Executor struct {
	// PollInterval is the fixed backoff slept when neither stream yields
	// and the pipeline is still running. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// Logger receives diagnostic output. Nil means silent.
	Logger Logger
}

// Invoke runs the commands as one pipeline and returns the results in
// arrival order. Nil commands are ignored; supplying none is ErrNoCommands.
// Concurrent calls on one session serialize, they never interleave.
func (e *Executor) Invoke(ctx context.Context, sess Session, cmds ...*objects.Command) ([]any, error) {
	return e.invoke(ctx, sess, reflect.TypeFor[any](), cmds)
}

// Invoke runs the commands as one pipeline, coercing every result to T.
// Results that do not coerce go to the host default sink as text instead of
// the returned slice. Use coercion.Discard as T when the results do not
// matter.
func Invoke[T any](ctx context.Context, e *Executor, sess Session, cmds ...*objects.Command) ([]T, error) {
	if e == nil {
		e = &Executor{}
	}
	raw, err := e.invoke(ctx, sess, reflect.TypeFor[T](), cmds)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		if v == nil {
			var zero T
			out = append(out, zero)
			continue
		}
		if t, ok := v.(T); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *Executor) invoke(ctx context.Context, sess Session, target reflect.Type, cmds []*objects.Command) ([]any, error) {
	if sess == nil {
		return nil, ErrNotConnected
	}
	ch := sess.Channel()
	if ch == nil || !ch.Connected() {
		return nil, ErrNotConnected
	}

	run := make([]*objects.Command, 0, len(cmds))
	for _, c := range cmds {
		if c != nil {
			run = append(run, c)
		}
	}
	if len(run) == 0 {
		return nil, ErrNoCommands
	}

	h := sess.Host()

	pl, err := ch.NewPipeline(run)
	if err != nil {
		if errors.Is(err, transport.ErrNotOpen) {
			return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	defer pl.Release()

	e.logf("invoke: pipeline %s, %d commands", pl.ID(), len(run))

	if err := pl.Start(ctx); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	// Close the input feed before draining. An engine left with an open
	// input feed waits for interactive input instead of running the
	// command.
	if err := pl.CloseInput(); err != nil {
		return nil, fmt.Errorf("close input: %w", err)
	}

	interval := e.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var (
		results []any
		causes  []error
		aborted bool
	)

drain:
	for {
		if rec, ok := pl.TryReadError(); ok {
			h.ErrorLine(rec.String())
			causes = append(causes, rec.Err())
			aborted = true
			break
		}

		moved := false
		if v, ok := pl.TryReadOutput(); ok {
			moved = true
			if coerced, ok := coercion.Coerce(v, target); ok {
				results = append(results, coerced)
			} else {
				h.Line(coercion.Stringify(v))
			}
		}

		if pl.Failure() != nil {
			aborted = true
			break
		}
		if pl.EndOfStreams() {
			break
		}
		if moved {
			continue
		}

		select {
		case <-ctx.Done():
			causes = append(causes, ctx.Err())
			aborted = true
			break drain
		case <-time.After(interval):
		}
	}

	// An aborted drain still settles the terminal state, bounded by ctx,
	// so the engine's failure reason makes it into the aggregate.
	if aborted {
		_ = pl.Wait(ctx)
	}

	// A terminal failure reason leads the cause list.
	if reason := pl.Failure(); reason != nil {
		causes = append([]error{reason}, causes...)
		aborted = true
	}

	if !aborted {
		e.logf("invoke: pipeline %s completed, %d results", pl.ID(), len(results))
		return results, nil
	}

	e.logf("invoke: pipeline %s failed, %d causes", pl.ID(), len(causes))
	switch len(causes) {
	case 0:
		return nil, ErrUnspecified
	case 1:
		return nil, causes[0]
	default:
		return nil, &InvocationError{Causes: causes}
	}
}

func (e *Executor) logf(format string, v ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, v...)
	}
}

// InvocationError aggregates several failure causes from one invocation,
// in the order they were recorded.
type InvocationError struct {
	Causes []error
}

// Error returns a first-cause-first summary.
func (e *InvocationError) Error() string {
	if len(e.Causes) == 0 {
		return "invocation failed"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "invocation failed with %d errors: %v", len(e.Causes), e.Causes[0])
	for _, c := range e.Causes[1:] {
		b.WriteString("; ")
		b.WriteString(c.Error())
	}
	return b.String()
}

// Unwrap exposes every cause to errors.Is and errors.As.
func (e *InvocationError) Unwrap() []error {
	return e.Causes
}
