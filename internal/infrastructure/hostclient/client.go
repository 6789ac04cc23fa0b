package hostclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"songhost.dev/cli/internal/application/ports"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/core/domain/process"
	httpports "songhost.dev/cli/internal/core/ports/http"
	procp "songhost.dev/cli/internal/core/ports/process"
	"songhost.dev/cli/internal/infrastructure/logging"
	"songhost.dev/cli/internal/protocol"
)

// ErrClosed is returned once the client has been closed.
var ErrClosed = errors.New("host client is closed")

const shutdownGrace = 2 * time.Second

// Options configures timeouts and restart policy.
type Options struct {
	// CallTimeout is the host's per-call bound; the client waits
	// CallTimeout+TimeoutMargin.
	CallTimeout    time.Duration
	TimeoutMargin  time.Duration
	LoadTimeout    time.Duration
	MaxLineBytes   int
	RestartBackoff time.Duration
	// MaxRestarts caps respawns within one minute.
	MaxRestarts int
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 15 * time.Second
	}
	if o.TimeoutMargin <= 0 {
		o.TimeoutMargin = 5 * time.Second
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 10 * time.Second
	}
	if o.RestartBackoff <= 0 {
		o.RestartBackoff = 500 * time.Millisecond
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = 5
	}
	return o
}

// Stats tracks supervisor activity
type Stats struct {
	Requests  int64     `json:"requests"`
	Failures  int64     `json:"failures"`
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"started_at"`
	PID       int       `json:"pid"`
	Running   bool      `json:"running"`
}

// Client supervises one host process at a time and implements
// ports.HostGateway. When the process dies, in-flight calls fail with
// HostProcessUnavailable and a replacement is spawned with backoff.
type Client struct {
	executor procp.Executor
	command  process.Command
	fetcher  httpports.Fetcher
	opts     Options
	logger   ports.LoggingGateway

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	proc      procp.Process
	conn      *Conn
	hooks     []func(ctx context.Context)
	restartAt []time.Time
	stats     Stats
	closed    bool
	gaveUp    bool
	// replayed is open while restart hooks run against a new host.
	// Requests not issued by a hook wait for it to close.
	replayed chan struct{}
}

type restartHookKey struct{}

var _ ports.HostGateway = (*Client)(nil)

// New creates a client; Start spawns the first host.
func New(executor procp.Executor, command process.Command, fetcher httpports.Fetcher, opts Options, logger ports.LoggingGateway) *Client {
	if logger == nil {
		logger = logging.NopGateway{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		executor: executor,
		command:  command,
		fetcher:  fetcher,
		opts:     opts.WithDefaults(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start spawns the host process.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.spawnLocked()
}

func (c *Client) spawnLocked() error {
	proc, err := c.executor.Execute(c.ctx, c.command)
	if err != nil {
		return fmt.Errorf("failed to start host: %w", err)
	}
	conn := NewConn(proc.Stdin(), proc.Stdout(), c.fetcher, c.opts.MaxLineBytes, c.logger)
	c.proc, c.conn = proc, conn
	c.stats.StartedAt = time.Now()
	c.stats.PID = proc.PID()

	go c.pipeStderr(proc)
	go c.watch(proc, conn)

	c.log(ports.LogLevelInfo, "host started", map[string]interface{}{"pid": proc.PID(), "command": c.command.String()})
	return nil
}

// pipeStderr forwards host diagnostics to the log.
func (c *Client) pipeStderr(proc procp.Process) {
	stderr := proc.Stderr()
	if stderr == nil {
		return
	}
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.log(ports.LogLevelDebug, scanner.Text(), map[string]interface{}{"source": "host", "pid": proc.PID()})
	}
}

// watch waits for the process to exit and respawns it.
func (c *Client) watch(proc procp.Process, conn *Conn) {
	waitErr := proc.Wait()
	conn.fail(fmt.Errorf("host exited: %v", waitErr))

	c.mu.Lock()
	if c.closed || c.proc != proc {
		c.mu.Unlock()
		return
	}
	c.log(ports.LogLevelWarn, "host exited", map[string]interface{}{"pid": proc.PID(), "exit_code": proc.ExitCode()})
	c.mu.Unlock()

	c.restart()
}

func (c *Client) restart() {
	backoff := c.opts.RestartBackoff
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if !c.allowRestartLocked(time.Now()) {
			c.gaveUp = true
			c.mu.Unlock()
			c.log(ports.LogLevelError, "host restart limit reached", map[string]interface{}{"max_restarts": c.opts.MaxRestarts})
			return
		}
		err := c.spawnLocked()
		if err == nil {
			c.stats.Restarts++
			hooks := append([]func(context.Context){}, c.hooks...)
			replayed := make(chan struct{})
			c.replayed = replayed
			c.mu.Unlock()

			hookCtx := context.WithValue(c.ctx, restartHookKey{}, true)
			for _, hook := range hooks {
				hook(hookCtx)
			}

			c.mu.Lock()
			c.replayed = nil
			c.mu.Unlock()
			close(replayed)
			return
		}
		c.mu.Unlock()

		c.log(ports.LogLevelError, "host restart failed", map[string]interface{}{"error": err.Error()})
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// allowRestartLocked enforces MaxRestarts within a sliding minute.
func (c *Client) allowRestartLocked(now time.Time) bool {
	cutoff := now.Add(-time.Minute)
	kept := c.restartAt[:0]
	for _, at := range c.restartAt {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	c.restartAt = kept
	if len(c.restartAt) >= c.opts.MaxRestarts {
		return false
	}
	c.restartAt = append(c.restartAt, now)
	return true
}

// OnRestart registers hook to run after every respawn. Requests made with
// the hook's context reach the new host at once; every other request waits
// until all hooks have returned.
func (c *Client) OnRestart(hook func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

func (c *Client) current(ctx context.Context) (*Conn, error) {
	fromHook, _ := ctx.Value(restartHookKey{}).(bool)
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if c.conn == nil || c.gaveUp {
			c.mu.Unlock()
			return nil, plugindomain.NewFailure(plugindomain.KindHostProcessUnavailable, "", "", "host process is not running")
		}
		replayed := c.replayed
		if replayed == nil || fromHook {
			conn := c.conn
			c.mu.Unlock()
			return conn, nil
		}
		c.mu.Unlock()

		select {
		case <-replayed:
		case <-ctx.Done():
			return nil, plugindomain.NewFailure(plugindomain.KindHostProcessUnavailable, "", "", "host is still restarting: %v", ctx.Err())
		}
	}
}

func (c *Client) request(ctx context.Context, timeout time.Duration, req protocol.Request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := c.current(ctx)
	if err != nil {
		return nil, err
	}

	result, err := conn.Request(ctx, req)
	c.mu.Lock()
	c.stats.Requests++
	if err != nil {
		c.stats.Failures++
	}
	c.mu.Unlock()
	return result, err
}

// Load sends a load request; the wait covers the host's load timeout.
func (c *Client) Load(ctx context.Context, name string, runtime plugindomain.Runtime, source string) (plugindomain.Capability, error) {
	raw, err := c.request(ctx, c.opts.LoadTimeout+c.opts.TimeoutMargin, protocol.Request{
		Action:  protocol.ActionLoad,
		Target:  name,
		Code:    source,
		Runtime: string(runtime),
	})
	if err != nil {
		return 0, err
	}
	var res struct {
		Capabilities plugindomain.Capability `json:"capabilities"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, plugindomain.NewFailure(plugindomain.KindProtocolParseError, name, protocol.ActionLoad, "bad load result: %v", err)
	}
	return res.Capabilities, nil
}

// Unload removes a plugin from the host.
func (c *Client) Unload(ctx context.Context, name string) (bool, error) {
	raw, err := c.request(ctx, c.opts.CallTimeout+c.opts.TimeoutMargin, protocol.Request{
		Action: protocol.ActionUnload,
		Target: name,
	})
	if err != nil {
		return false, err
	}
	var removed bool
	if err := json.Unmarshal(raw, &removed); err != nil {
		return false, plugindomain.NewFailure(plugindomain.KindProtocolParseError, name, protocol.ActionUnload, "bad unload result: %v", err)
	}
	return removed, nil
}

// Call dispatches a plugin action.
func (c *Client) Call(ctx context.Context, name string, action plugindomain.Action, args plugindomain.Args) (json.RawMessage, error) {
	return c.request(ctx, c.opts.CallTimeout+c.opts.TimeoutMargin, protocol.Request{
		Action: string(action),
		Target: name,
		Args:   args,
	})
}

// Ping asks the host for its pid and plugin list.
func (c *Client) Ping(ctx context.Context) (ports.HostStatus, error) {
	raw, err := c.request(ctx, c.opts.CallTimeout+c.opts.TimeoutMargin, protocol.Request{Action: protocol.ActionPing})
	if err != nil {
		return ports.HostStatus{}, err
	}
	var status ports.HostStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return ports.HostStatus{}, fmt.Errorf("bad ping result: %w", err)
	}
	c.mu.Lock()
	status.Restarts = c.stats.Restarts
	c.mu.Unlock()
	return status, nil
}

// Stats returns a snapshot of supervisor counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Running = c.proc != nil && c.proc.IsRunning()
	return stats
}

// Close stops supervising and kills the host.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	proc, conn := c.proc, c.conn
	c.mu.Unlock()

	defer c.cancel()
	if conn != nil {
		conn.fail(ErrClosed)
	}
	if proc == nil {
		return nil
	}
	if err := proc.Stdin().Close(); err != nil {
		c.log(ports.LogLevelDebug, "closing host stdin", map[string]interface{}{"error": err.Error()})
	}
	done := waitChan(proc)
	select {
	case <-done:
		return nil
	case <-time.After(shutdownGrace):
	}

	c.log(ports.LogLevelDebug, "host did not exit on stdin close", map[string]interface{}{"signal": process.SignalTerminate.String()})
	if err := proc.Signal(process.SignalTerminate); err == nil {
		select {
		case <-done:
			return nil
		case <-time.After(shutdownGrace):
		}
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill host: %w", err)
	}
	return nil
}

func waitChan(proc procp.Process) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		_ = proc.Wait()
		close(ch)
	}()
	return ch
}

func (c *Client) log(level ports.LogLevel, msg string, fields map[string]interface{}) {
	c.logger.Log(level, msg, fields)
}
