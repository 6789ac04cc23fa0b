package host

import (
	"io"

	"songhost.dev/cli/internal/application/ports"
	"songhost.dev/cli/internal/sandbox"
	"songhost.dev/cli/internal/sandbox/jsengine"
	"songhost.dev/cli/internal/sandbox/luaengine"
)

// Options assembles a complete host.
type Options struct {
	Sandbox      sandbox.Options
	Host         Config
	MaxLineBytes int
}

// NewStdioServer builds a host with every registered engine, serving the
// protocol over in/out. Sandbox network calls are proxied back over out.
func NewStdioServer(opts Options, in io.Reader, out io.Writer, logger ports.LoggingGateway) *Server {
	factory := sandbox.NewFactory(opts.Sandbox, jsengine.New(), luaengine.New())
	srv := NewServer(New(factory, opts.Host, logger), in, out, opts.MaxLineBytes, logger)
	factory.SetFetcher(srv)
	return srv
}
