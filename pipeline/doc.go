// Package pipeline runs command pipelines over an open session and shapes
// their results.
//
// An Executor drives one invocation end to end: it claims the session's
// single invocation slot, starts the pipeline, closes the input feed, and
// drains the output and error streams until the engine reports a terminal
// state. Closing the input feed before draining is load-bearing: an engine
// holding an open input feed waits for interactive input instead of running
// the command.
//
// # Drain loop
//
// Each turn performs one non-blocking read of the error stream, then one of
// the output stream. An error record goes to the host error sink and ends
// the invocation; the unread remainder of both streams is discarded. Output
// records are coerced to the requested result type; values that do not
// coerce are stringified to the host default sink rather than dropped. When
// neither stream yields and the pipeline is still running, the loop sleeps
// a fixed poll interval.
//
// # Failure aggregation
//
// A terminal pipeline failure reason is prepended to the recorded causes.
// A single cause is returned as that exact error; several become an
// *InvocationError unwrapping to all of them in order.
//
// # Usage
//
//	exec := &pipeline.Executor{}
//	stamps, err := pipeline.Invoke[string](ctx, exec, sess,
//		objects.NewCommand("Get-Date").WithParameter("Format", "o"))
package pipeline
