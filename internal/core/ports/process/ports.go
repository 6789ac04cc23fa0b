package process

import (
	"context"
	"io"

	"songhost.dev/cli/internal/core/domain/process"
)

// Process is a running sandbox host. Stdin and Stdout carry protocol
// frames; Stderr carries diagnostics only.
type Process interface {
	PID() int
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser

	// Wait blocks until the process exits.
	Wait() error
	Signal(signal process.ProcessSignal) error
	Kill() error
	IsRunning() bool
	// ExitCode is meaningful once Wait has returned.
	ExitCode() int
}

// Executor starts host processes.
type Executor interface {
	Execute(ctx context.Context, cmd process.Command) (Process, error)
}
