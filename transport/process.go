package transport

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// defaultShellCommand launches PowerShell in stdio server mode.
const defaultShellCommand = "pwsh -NoLogo -NoProfile -s"

// processExitGrace is how long Close waits for the engine to exit after
// stdin closes before killing it.
const processExitGrace = 3 * time.Second

// processConn is a byte stream over a child engine's stdin and stdout.
type processConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// startLocalProcess launches the engine as a child process and wires its
// standard streams as the connection. The context only bounds startup; the
// process must outlive it, so the command is not context-bound.
func startLocalProcess(ctx context.Context, info *ConnectionInfo) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	command := info.ShellCommand
	if command == "" {
		command = defaultShellCommand
	}
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty shell command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	return &processConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (c *processConn) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *processConn) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

// Close shuts stdin so the engine exits on its own, then reaps it, killing
// after a grace period.
func (c *processConn) Close() error {
	_ = c.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(processExitGrace):
		_ = c.cmd.Process.Kill()
		return <-done
	}
}
