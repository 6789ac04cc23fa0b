package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"songhost.dev/cli/internal/core/domain/process"
	procp "songhost.dev/cli/internal/core/ports/process"
)

// Executor spawns host processes with piped stdio
type Executor struct {
	env []string
}

// NewExecutor creates a process executor inheriting the current environment
func NewExecutor() *Executor {
	return &Executor{env: os.Environ()}
}

var _ procp.Executor = (*Executor)(nil)

// Execute starts a new process and returns a Process handle. The process is
// killed when ctx is cancelled.
func (e *Executor) Execute(ctx context.Context, cmd process.Command) (procp.Process, error) {
	execCmd := exec.CommandContext(ctx, cmd.Executable(), cmd.Args()...)
	execCmd.Env = append(append([]string(nil), e.env...), cmd.EnvList()...)

	stdin, err := execCmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := execCmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := execCmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := execCmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	p := &processImpl{
		cmd:     execCmd,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		running: true,
		done:    make(chan struct{}),
	}
	go p.monitor()
	return p, nil
}

// processImpl implements the Process interface
type processImpl struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu       sync.RWMutex
	running  bool
	exitCode int
	done     chan struct{}
	waitErr  error
}

func (p *processImpl) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

func (p *processImpl) Stdin() io.WriteCloser { return p.stdin }

func (p *processImpl) Stdout() io.ReadCloser { return p.stdout }

func (p *processImpl) Stderr() io.ReadCloser { return p.stderr }

// Wait waits for the process to exit
func (p *processImpl) Wait() error {
	<-p.done
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.waitErr
}

func (p *processImpl) Signal(signal process.ProcessSignal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not running")
	}
	return p.cmd.Process.Signal(ConvertSignal(signal))
}

func (p *processImpl) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not running")
	}
	if p.stdin != nil {
		p.stdin.Close()
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *processImpl) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *processImpl) ExitCode() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitCode
}

// ConvertSignal converts domain signal to OS signal
func ConvertSignal(signal process.ProcessSignal) os.Signal {
	switch signal {
	case process.SignalTerminate:
		return syscall.SIGTERM
	case process.SignalInterrupt:
		return syscall.SIGINT
	case process.SignalKill:
		return syscall.SIGKILL
	default:
		return syscall.SIGTERM
	}
}

// monitor records the exit status. cmd.Wait closes the stdio pipes once the
// process has exited.
func (p *processImpl) monitor() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.running = false
	p.waitErr = err
	var exitError *exec.ExitError
	switch {
	case errors.As(err, &exitError):
		p.exitCode = exitError.ExitCode()
	case err == nil:
		p.exitCode = 0
	default:
		p.exitCode = -1
	}
	p.mu.Unlock()

	close(p.done)
}
