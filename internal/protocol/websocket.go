package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 << 20
)

type inbound struct {
	data []byte
	err  error
}

// WSChannel carries protocol messages over a websocket connection, one
// message per text frame.
type WSChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	frames  chan inbound
	done    chan struct{}
	once    sync.Once
}

// NewWSChannel wraps an established connection and starts its read pump.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	conn.SetReadLimit(maxMessageSize)
	c := &WSChannel{
		conn:   conn,
		frames: make(chan inbound, DefaultBuffer),
		done:   make(chan struct{}),
	}
	go c.readPump()
	return c
}

// Dial connects to a sandbox websocket endpoint.
func Dial(ctx context.Context, url string) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial sandbox %s: %w", url, err)
	}
	return NewWSChannel(conn), nil
}

func (c *WSChannel) readPump() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.frames <- inbound{err: err}:
			case <-c.done:
			}
			return
		}
		select {
		case c.frames <- inbound{data: data}:
		case <-c.done:
			return
		}
	}
}

func (c *WSChannel) Send(ctx context.Context, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", m.Kind(), err)
	}
	return nil
}

func (c *WSChannel) Receive(ctx context.Context) (Message, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, ErrClosed
		}
		if f.err != nil {
			if websocket.IsCloseError(f.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("read frame: %w", f.err)
		}
		return Decode(f.data)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *WSChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
