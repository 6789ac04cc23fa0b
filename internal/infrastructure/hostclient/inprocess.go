package hostclient

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"songhost.dev/cli/internal/application/ports"
	"songhost.dev/cli/internal/core/domain/process"
	procp "songhost.dev/cli/internal/core/ports/process"
	"songhost.dev/cli/internal/host"
)

// InProcessExecutor runs the host on goroutines behind pipes instead of
// spawning a child. The command is ignored. Used when process isolation is
// switched off and in tests.
type InProcessExecutor struct {
	Options host.Options
	Logger  ports.LoggingGateway
}

var _ procp.Executor = (*InProcessExecutor)(nil)

// Execute starts a host server and returns a handle to it.
func (e *InProcessExecutor) Execute(ctx context.Context, _ process.Command) (procp.Process, error) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	ctx, cancel := context.WithCancel(ctx)

	p := &pipeProcess{
		stdin:   stdinW,
		stdout:  stdoutR,
		stdinR:  stdinR,
		stdoutW: stdoutW,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	srv := host.NewStdioServer(e.Options, stdinR, stdoutW, e.Logger)
	go func() {
		err := srv.Serve(ctx)
		stdoutW.Close()
		p.exit(err)
	}()
	return p, nil
}

type pipeProcess struct {
	stdin   *io.PipeWriter
	stdout  *io.PipeReader
	stdinR  *io.PipeReader
	// stdoutW is closed on Kill before the server stops, so the reader
	// sees the death before any reply the shutdown could produce.
	stdoutW *io.PipeWriter
	cancel  context.CancelFunc

	mu       sync.Mutex
	err      error
	exitCode int
	done     chan struct{}
}

func (p *pipeProcess) exit(err error) {
	p.mu.Lock()
	p.err = err
	if err != nil {
		p.exitCode = 1
	}
	p.mu.Unlock()
	close(p.done)
}

func (p *pipeProcess) PID() int { return os.Getpid() }

func (p *pipeProcess) Stdin() io.WriteCloser { return p.stdin }

func (p *pipeProcess) Stdout() io.ReadCloser { return p.stdout }

func (p *pipeProcess) Stderr() io.ReadCloser { return io.NopCloser(strings.NewReader("")) }

func (p *pipeProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *pipeProcess) Signal(process.ProcessSignal) error {
	return p.Kill()
}

// Kill stops the server as if the process died.
func (p *pipeProcess) Kill() error {
	p.stdoutW.CloseWithError(errKilled)
	p.cancel()
	p.stdinR.CloseWithError(io.ErrClosedPipe)
	return nil
}

var errKilled = errors.New("in-process host killed")

func (p *pipeProcess) IsRunning() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *pipeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}
