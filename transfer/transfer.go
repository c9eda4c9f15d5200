// Package transfer copies files and directories to and from a remote
// engine over an open session.
//
// Every operation synthesizes a small PowerShell script, runs it through
// the pipeline executor, and coerces the replies. Remote paths and
// payloads are spliced into the scripts through the escape package, so a
// quote in a file name can never break out of its literal.
//
// Uploads are idempotent. PutFile verifies the remote content by length
// and hash first and skips the write when it already matches; payloads at
// or over the chunk size are staged as numbered sibling files and
// reassembled remotely in one pass.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnielsn/go-pssession/coercion"
	"github.com/dnielsn/go-pssession/escape"
	"github.com/dnielsn/go-pssession/objects"
	"github.com/dnielsn/go-pssession/pipeline"
	"github.com/dnielsn/go-pssession/session"
)

// DefaultChunkSize is the payload size at which PutFile switches from a
// single inline write to staged chunk files.
const DefaultChunkSize = 1 << 20

var (
	// ErrNoPathKind is returned by PathExists when neither files nor
	// folders are requested.
	ErrNoPathKind = errors.New("path probe needs files, folders, or both")

	// ErrUnknownAlgorithm is returned for hash algorithms outside the
	// supported set.
	ErrUnknownAlgorithm = errors.New("unsupported hash algorithm")

	// ErrVerificationFailed is returned when an uploaded file does not
	// verify against the payload that was sent.
	ErrVerificationFailed = errors.New("uploaded file failed verification")

	// ErrDeleteFailed is returned when a path still exists after its
	// delete command ran without error.
	ErrDeleteFailed = errors.New("path still exists after delete")
)

// Option adjusts a Transfer.
type Option func(*Transfer)

// WithChunkSize overrides the chunking threshold. Values below one byte
// keep the default.
func WithChunkSize(n int) Option {
	return func(t *Transfer) {
		if n > 0 {
			t.chunkSize = n
		}
	}
}

// WithHashAlgorithm selects the algorithm VerifyFileContents compares
// with, and through it the one PutFile trusts. The default is MD5.
func WithHashAlgorithm(algorithm string) Option {
	return func(t *Transfer) {
		if algorithm != "" {
			t.algorithm = algorithm
		}
	}
}

// WithExecutor substitutes the pipeline executor, usually to share poll
// settings with the rest of the application.
func WithExecutor(e *pipeline.Executor) Option {
	return func(t *Transfer) {
		if e != nil {
			t.exec = e
		}
	}
}

// Transfer runs file operations on one session. Methods are safe for
// concurrent use; their pipelines serialize on the session like any
// others.
type Transfer struct {
	sess      *session.Session
	exec      *pipeline.Executor
	chunkSize int
	algorithm string
}

// New returns a Transfer bound to sess.
func New(sess *session.Session, opts ...Option) *Transfer {
	t := &Transfer{
		sess:      sess,
		exec:      &pipeline.Executor{},
		chunkSize: DefaultChunkSize,
		algorithm: AlgorithmMD5,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Session returns the session the Transfer runs on.
func (t *Transfer) Session() *session.Session {
	return t.sess
}

// PathExists reports whether path exists remotely as a file, a folder, or
// either, per the flags. Requesting neither kind is ErrNoPathKind.
func (t *Transfer) PathExists(ctx context.Context, path string, files, folders bool) (bool, error) {
	var kind string
	switch {
	case files && folders:
		kind = "Any"
	case files:
		kind = "Leaf"
	case folders:
		kind = "Container"
	default:
		return false, ErrNoPathKind
	}
	out, err := pipeline.Invoke[bool](ctx, t.exec, t.sess, objects.NewScript(
		fmt.Sprintf("Test-Path -LiteralPath %s -PathType %s", escape.Literal(path), kind)))
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, fmt.Errorf("path probe for %s returned nothing", path)
	}
	return out[len(out)-1], nil
}

// EnsureDirectory creates path and any missing parents. An existing
// directory is left alone.
func (t *Transfer) EnsureDirectory(ctx context.Context, path string) error {
	return t.runScript(ctx, fmt.Sprintf(
		"$null = New-Item -ItemType Directory -Path %s -Force", escape.Literal(path)))
}

// DeleteFile removes a remote file. A missing file is success; a file
// that survives its remove is ErrDeleteFailed.
func (t *Transfer) DeleteFile(ctx context.Context, path string) error {
	return t.remove(ctx, path, false)
}

// DeleteFolderRecursively removes a remote directory tree. A missing
// directory is success.
func (t *Transfer) DeleteFolderRecursively(ctx context.Context, path string) error {
	return t.remove(ctx, path, true)
}

func (t *Transfer) remove(ctx context.Context, path string, folder bool) error {
	exists, err := t.PathExists(ctx, path, !folder, folder)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	flags := "-Force"
	if folder {
		flags = "-Recurse -Force"
	}
	if err := t.runScript(ctx, fmt.Sprintf(
		"Remove-Item -LiteralPath %s %s", escape.Literal(path), flags)); err != nil {
		return err
	}
	exists, err = t.PathExists(ctx, path, !folder, folder)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDeleteFailed, path)
	}
	return nil
}

// runScript invokes a script whose output does not matter.
func (t *Transfer) runScript(ctx context.Context, script string) error {
	_, err := pipeline.Invoke[coercion.Discard](ctx, t.exec, t.sess, objects.NewScript(script))
	return err
}
