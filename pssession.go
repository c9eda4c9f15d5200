package pssession

import (
	"context"
	"fmt"
	"os"

	"github.com/dnielsn/go-pssession/objects"
	"github.com/dnielsn/go-pssession/pipeline"
	"github.com/dnielsn/go-pssession/session"
	"github.com/dnielsn/go-pssession/transfer"
	"github.com/dnielsn/go-pssession/transport"
)

// Open connects a new session to the engine described by info. The
// caller owns the session and must Close it.
func Open(ctx context.Context, info *transport.ConnectionInfo, opts ...session.Option) (*session.Session, error) {
	return session.Open(ctx, info, opts...)
}

// Run invokes the commands as one pipeline on sess and coerces every
// result to T. Values that will not coerce go to the session host's
// default sink instead.
func Run[T any](ctx context.Context, sess *session.Session, cmds ...*objects.Command) ([]T, error) {
	return pipeline.Invoke[T](ctx, nil, sess, cmds...)
}

// Copy uploads the local file at localPath to remotePath over sess. The
// upload is skipped when the remote content already matches.
func Copy(ctx context.Context, sess *session.Session, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}
	return transfer.New(sess).PutFile(ctx, remotePath, data, false)
}
