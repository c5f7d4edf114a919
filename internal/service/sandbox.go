package service

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/imgfirewall/internal/protocol"
	"github.com/GriffinCanCode/imgfirewall/internal/sandbox"
)

// Connector opens the host end of a channel to an inference sandbox. The
// channel lives until it is closed or ctx ends.
type Connector interface {
	Connect(ctx context.Context) (protocol.Channel, error)
}

// LocalSandbox serves the sandbox protocol in-process behind a pipe.
// Messages are still encoded on every hop.
type LocalSandbox struct {
	Handler *sandbox.Handler
	Buffer  int
}

// Connect starts a handler goroutine bound to ctx and returns the host end.
func (l LocalSandbox) Connect(ctx context.Context) (protocol.Channel, error) {
	if l.Handler == nil {
		return nil, fmt.Errorf("local sandbox: no handler")
	}
	host, peer := protocol.NewPipe(l.Buffer)
	go func() {
		defer peer.Close()
		_ = l.Handler.Serve(ctx, peer)
	}()
	return host, nil
}

// RemoteSandbox dials a sandbox served by `imgfirewall sandbox`.
type RemoteSandbox struct {
	URL string
}

// Connect dials the websocket endpoint.
func (r RemoteSandbox) Connect(ctx context.Context) (protocol.Channel, error) {
	ch, err := protocol.Dial(ctx, r.URL)
	if err != nil {
		return nil, fmt.Errorf("dial sandbox %s: %w", r.URL, err)
	}
	return ch, nil
}
