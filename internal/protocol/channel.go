package protocol

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClosed  = errors.New("channel closed")
	ErrDropped = errors.New("message dropped: peer buffer full")
)

// DefaultBuffer is the per-direction queue depth of an in-memory pipe.
const DefaultBuffer = 256

// Channel is a best-effort, unordered message link between the two
// contexts. Implementations never share memory with the peer: every message
// crosses as encoded bytes.
type Channel interface {
	Send(ctx context.Context, m Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

type pipe struct {
	done chan struct{}
	once sync.Once
}

type pipeEnd struct {
	p   *pipe
	in  <-chan []byte
	out chan<- []byte
}

// NewPipe returns two connected in-process endpoints. Closing either end
// closes both.
func NewPipe(buffer int) (host, sandbox Channel) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	p := &pipe{done: make(chan struct{})}
	toSandbox := make(chan []byte, buffer)
	toHost := make(chan []byte, buffer)
	return &pipeEnd{p: p, in: toHost, out: toSandbox},
		&pipeEnd{p: p, in: toSandbox, out: toHost}
}

func (e *pipeEnd) Send(ctx context.Context, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-e.p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case e.out <- data:
		return nil
	default:
		return ErrDropped
	}
}

func (e *pipeEnd) Receive(ctx context.Context) (Message, error) {
	select {
	case data := <-e.in:
		return Decode(data)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.p.done:
		return nil, ErrClosed
	}
}

func (e *pipeEnd) Close() error {
	e.p.once.Do(func() { close(e.p.done) })
	return nil
}
