// Package hostclient is the parent side of the host protocol: it spawns the
// sandbox host, correlates requests with responses and fulfils the host's
// network requests.
package hostclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"songhost.dev/cli/internal/application/ports"
	httpdomain "songhost.dev/cli/internal/core/domain/http"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	httpports "songhost.dev/cli/internal/core/ports/http"
	"songhost.dev/cli/internal/infrastructure/logging"
	"songhost.dev/cli/internal/protocol"
)

// Conn is one protocol session with one host process.
type Conn struct {
	out     *protocol.LineWriter
	in      *protocol.LineReader
	fetcher httpports.Fetcher
	logger  ports.LoggingGateway

	mu      sync.Mutex
	pending map[string]chan protocol.HostFrame

	done    chan struct{}
	once    sync.Once
	doneErr error
}

// NewConn starts reading frames from stdout. Fetch frames are fulfilled
// with fetcher; a nil fetcher answers them with an error.
func NewConn(stdin io.Writer, stdout io.Reader, fetcher httpports.Fetcher, maxLine int, logger ports.LoggingGateway) *Conn {
	if logger == nil {
		logger = logging.NopGateway{}
	}
	c := &Conn{
		out:     protocol.NewLineWriter(stdin),
		in:      protocol.NewLineReader(stdout, maxLine),
		fetcher: fetcher,
		logger:  logger,
		pending: make(map[string]chan protocol.HostFrame),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Done is closed when the session can no longer carry requests.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the session ended.
func (c *Conn) Err() error {
	<-c.done
	return c.doneErr
}

// Request sends req with a fresh id and waits for its response, ctx, or the
// end of the session. Late responses for abandoned ids are dropped.
func (c *Conn) Request(ctx context.Context, req protocol.Request) (json.RawMessage, error) {
	req.ID = protocol.NewRequestID()
	ch := make(chan protocol.HostFrame, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, c.unavailable(req, c.doneErr)
	default:
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer c.forget(req.ID)

	if err := c.out.WriteFrame(req); err != nil {
		c.fail(err)
		return nil, c.unavailable(req, err)
	}

	select {
	case frame := <-ch:
		if !frame.Success {
			if frame.Error == nil {
				return nil, plugindomain.NewFailure(plugindomain.KindProtocolParseError, req.Plugin(), req.Action, "failure response without error")
			}
			return nil, frame.Error
		}
		return frame.Result, nil
	case <-ctx.Done():
		return nil, plugindomain.NewFailure(plugindomain.KindTimeout, req.Plugin(), req.Action, "no response from host: %v", ctx.Err())
	case <-c.done:
		return nil, c.unavailable(req, c.doneErr)
	}
}

func (c *Conn) unavailable(req protocol.Request, cause error) error {
	msg := "host process is not running"
	if cause != nil && !errors.Is(cause, io.EOF) {
		msg += ": " + cause.Error()
	}
	return plugindomain.NewFailure(plugindomain.KindHostProcessUnavailable, req.Plugin(), req.Action, "%s", msg)
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.doneErr = err
		close(c.done)
		c.mu.Unlock()
	})
}

func (c *Conn) readLoop() {
	for {
		line, err := c.in.Next()
		if err != nil {
			if errors.Is(err, protocol.ErrLineTooLong) {
				c.log(ports.LogLevelWarn, "dropped oversized frame from host", nil)
				continue
			}
			c.fail(err)
			return
		}

		frame, err := protocol.ParseHostFrame(line)
		if err != nil {
			c.log(ports.LogLevelWarn, "unparseable frame from host", map[string]interface{}{"error": err.Error()})
			frame.Error = plugindomain.NewFailure(plugindomain.KindProtocolParseError, "", "", "%v", err)
		}
		if frame.IsFetch() {
			go c.serveFetch(frame.ID, *frame.Fetch)
			continue
		}
		c.deliver(frame)
	}
}

func (c *Conn) deliver(frame protocol.HostFrame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	c.mu.Unlock()
	if !ok {
		c.log(ports.LogLevelDebug, "dropping response for unknown id", map[string]interface{}{"id": frame.ID})
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

// serveFetch performs a sandbox network request and answers the host.
func (c *Conn) serveFetch(id string, req httpdomain.FetchRequest) {
	reply := protocol.Request{ID: id, Action: protocol.ActionFetchResult}

	if c.fetcher == nil {
		reply.Error = plugindomain.NewFailure(plugindomain.KindHostProcessUnavailable, "", "fetch", "network access is disabled")
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		resp, err := c.fetcher.Fetch(ctx, req)
		cancel()
		if err != nil {
			reply.Error = plugindomain.NewFailure(plugindomain.KindPluginThrew, "", "fetch", "%v", err)
		} else {
			reply.Response = &resp
		}
	}

	if err := c.out.WriteFrame(reply); err != nil {
		c.log(ports.LogLevelDebug, "failed to answer fetch", map[string]interface{}{"id": id, "error": err.Error()})
	}
}

func (c *Conn) log(level ports.LogLevel, msg string, fields map[string]interface{}) {
	c.logger.Log(level, msg, fields)
}
