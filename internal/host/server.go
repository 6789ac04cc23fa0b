package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"songhost.dev/cli/internal/application/ports"
	httpdomain "songhost.dev/cli/internal/core/domain/http"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	httpports "songhost.dev/cli/internal/core/ports/http"
	"songhost.dev/cli/internal/protocol"
)

// Errors returned to sandboxed network calls.
var (
	ErrServerClosed    = errors.New("host is shutting down")
	ErrFetchDuringLoad = errors.New("network calls are not available while a plugin is loading")
)

type loadingKey struct{}

// Server speaks the line protocol for a Host over a reader/writer pair,
// normally the process's stdin and stdout.
type Server struct {
	host   *Host
	in     *protocol.LineReader
	out    *protocol.LineWriter
	logger ports.LoggingGateway

	mu      sync.Mutex
	pending map[string]chan protocol.Request

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

var _ httpports.Fetcher = (*Server)(nil)

// NewServer wires a host to its transport. maxLine bounds one inbound frame.
func NewServer(h *Host, in io.Reader, out io.Writer, maxLine int, logger ports.LoggingGateway) *Server {
	return &Server{
		host:    h,
		in:      protocol.NewLineReader(in, maxLine),
		out:     protocol.NewLineWriter(out),
		logger:  logger,
		pending: make(map[string]chan protocol.Request),
		closed:  make(chan struct{}),
	}
}

// Serve reads frames until the input ends or ctx is cancelled. Load, unload
// and ping are handled in arrival order; plugin actions run concurrently and
// answer when they settle. fetchResult frames are resolved as soon as they
// are read, so a slow load never holds up another plugin's network reply.
// Every request receives exactly one response while ctx is live; once it is
// cancelled, pending replies are dropped.
func (s *Server) Serve(ctx context.Context) error {
	defer s.shutdown()

	requests := make(chan protocol.Request)
	readErr := make(chan error, 1)
	go func() {
		defer close(requests)
		for {
			line, err := s.in.Next()
			if err != nil {
				if errors.Is(err, protocol.ErrLineTooLong) {
					s.respondFailure(protocol.UnknownID, plugindomain.NewFailure(plugindomain.KindProtocolParseError, "", "", "%v", err))
					continue
				}
				readErr <- err
				return
			}
			req, err := protocol.ParseRequest(line)
			if err != nil {
				s.respondFailure(req.ID, plugindomain.AsFailure(err, plugindomain.KindProtocolParseError, req.Plugin(), req.Action))
				continue
			}
			if req.Action == protocol.ActionFetchResult {
				s.resolveFetch(req)
				continue
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				select {
				case err := <-readErr:
					if errors.Is(err, io.EOF) {
						return nil
					}
					return fmt.Errorf("failed to read frame: %w", err)
				default:
					return nil
				}
			}
			s.handle(ctx, req)
		}
	}
}

func (s *Server) handle(ctx context.Context, req protocol.Request) {
	switch req.Action {
	case protocol.ActionLoad:
		loadCtx := context.WithValue(ctx, loadingKey{}, true)
		result, err := s.host.Load(loadCtx, req.Plugin(), plugindomain.Runtime(req.Runtime), req.Code)
		s.respond(req.ID, result, err)
	case protocol.ActionUnload:
		s.respond(req.ID, s.host.Unload(req.Plugin()), nil)
	case protocol.ActionPing:
		s.respond(req.ID, ports.HostStatus{PID: os.Getpid(), Plugins: s.host.Plugins()}, nil)
	default:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			result, err := s.host.Dispatch(ctx, req.Plugin(), req.Action, req.Args)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.respondFailure(req.ID, plugindomain.AsFailure(err, plugindomain.KindPluginThrew, req.Plugin(), req.Action))
				return
			}
			s.write(protocol.NewSuccess(req.ID, result))
		}()
	}
}

func (s *Server) respond(id string, result interface{}, err error) {
	if err != nil {
		s.respondFailure(id, plugindomain.AsFailure(err, plugindomain.KindInvalidRequest, "", ""))
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.respondFailure(id, plugindomain.NewFailure(plugindomain.KindInvalidResultShape, "", "", "%v", err))
		return
	}
	s.write(protocol.NewSuccess(id, raw))
}

func (s *Server) respondFailure(id string, failure *plugindomain.Failure) {
	s.write(protocol.NewFailureResponse(id, failure))
}

func (s *Server) write(frame interface{}) {
	if err := s.out.WriteFrame(frame); err != nil && s.logger != nil {
		s.logger.LogError(err, "failed to write frame", nil)
	}
}

// Fetch implements the sandbox network primitive by asking the parent.
func (s *Server) Fetch(ctx context.Context, req httpdomain.FetchRequest) (httpdomain.FetchResponse, error) {
	if loading, _ := ctx.Value(loadingKey{}).(bool); loading {
		return httpdomain.FetchResponse{}, ErrFetchDuringLoad
	}

	id := protocol.NewFetchID()
	ch := make(chan protocol.Request, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.out.WriteFrame(protocol.FetchFrame{ID: id, Fetch: &req}); err != nil {
		return httpdomain.FetchResponse{}, err
	}

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return httpdomain.FetchResponse{}, fmt.Errorf("request failed: %s", reply.Error.Message)
		}
		if reply.Response == nil {
			return httpdomain.FetchResponse{}, fmt.Errorf("request failed: empty response")
		}
		return *reply.Response, nil
	case <-ctx.Done():
		return httpdomain.FetchResponse{}, ctx.Err()
	case <-s.closed:
		return httpdomain.FetchResponse{}, ErrServerClosed
	}
}

// resolveFetch hands a fetchResult to its waiting call. Late results for
// abandoned fetches are dropped.
func (s *Server) resolveFetch(req protocol.Request) {
	s.mu.Lock()
	ch, ok := s.pending[req.ID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- req:
	default:
	}
}

func (s *Server) shutdown() {
	s.once.Do(func() {
		close(s.closed)
		s.wg.Wait()
		s.host.Close()
	})
}
