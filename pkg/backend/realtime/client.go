package realtime

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-statesync/pkg/provider"
	"github.com/gorilla/websocket"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout bounds every request. Zero waits for the caller's
// context only.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithDialer replaces the default dialer.
func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// Client implements provider.Documents and provider.Subscriber over a
// websocket connection. Requests are correlated by ref; subscription events
// are delivered in order on a dedicated goroutine so callbacks may issue
// further requests.
type Client struct {
	conn    *websocket.Conn
	dialer  *websocket.Dialer
	timeout time.Duration
	nextRef atomic.Uint64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame
	subs    map[string]func([]provider.Record)

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ provider.Documents  = (*Client)(nil)
	_ provider.Subscriber = (*Client)(nil)
)

// Dial connects to a Server at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		timeout: 10 * time.Second,
		pending: make(map[string]chan Frame),
		subs:    make(map[string]func([]provider.Record)),
		events:  make(chan func(), 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", url, err)
	}
	c.conn = conn
	go c.readLoop()
	go c.eventLoop()
	return c, nil
}

// Close closes the connection. Pending and later calls fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Op {
		case OpReply:
			c.mu.Lock()
			ch := c.pending[f.Ref]
			delete(c.pending, f.Ref)
			c.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		case OpEvent:
			sub := f.Sub
			records := fromFrames(f.Records)
			select {
			case c.events <- func() { c.deliver(sub, records) }:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) eventLoop() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Client) deliver(sub string, records []provider.Record) {
	c.mu.Lock()
	fn := c.subs[sub]
	c.mu.Unlock()
	if fn != nil {
		fn(records)
	}
}

func (c *Client) ref() string {
	return strconv.FormatUint(c.nextRef.Add(1), 10)
}

func (c *Client) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("realtime: write %s: %w", f.Op, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, f Frame) (Frame, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	f.Ref = c.ref()
	ch := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[f.Ref] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, f.Ref)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return Frame{}, err
	}
	select {
	case reply := <-ch:
		if reply.Error != "" {
			return reply, fmt.Errorf("%w: %s %s: %s", ErrRemote, f.Op, f.Path, reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, ErrClosed
	}
}

// Get implements provider.Documents.
func (c *Client) Get(ctx context.Context, path string) (provider.Record, bool, error) {
	reply, err := c.request(ctx, Frame{Op: OpGet, Path: path})
	if err != nil || !reply.Found || len(reply.Records) == 0 {
		return provider.Record{}, false, err
	}
	return fromFrames(reply.Records)[0], true, nil
}

// List implements provider.Documents.
func (c *Client) List(ctx context.Context, collection string) ([]provider.Record, error) {
	reply, err := c.request(ctx, Frame{Op: OpList, Path: collection})
	if err != nil {
		return nil, err
	}
	return fromFrames(reply.Records), nil
}

// Set implements provider.Documents.
func (c *Client) Set(ctx context.Context, path string, data map[string]any) error {
	_, err := c.request(ctx, Frame{Op: OpSet, Path: path, Data: data})
	return err
}

// Add implements provider.Documents.
func (c *Client) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	reply, err := c.request(ctx, Frame{Op: OpAdd, Path: collection, Data: data})
	if err != nil {
		return "", err
	}
	return reply.ID, nil
}

// Delete implements provider.Documents.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.request(ctx, Frame{Op: OpDelete, Path: path})
	return err
}

// Subscribe implements provider.Subscriber. The subscription ends when
// cancel is called, ctx is done or the connection closes.
func (c *Client) Subscribe(ctx context.Context, path string, fn func([]provider.Record)) (func(), error) {
	sub := "s" + c.ref()
	c.mu.Lock()
	c.subs[sub] = fn
	c.mu.Unlock()
	remove := func() {
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
	}

	if _, err := c.request(ctx, Frame{Op: OpSubscribe, Path: path, Sub: sub}); err != nil {
		remove()
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			remove()
			// the server's reply carries no ref and is dropped
			_ = c.write(Frame{Op: OpUnsubscribe, Sub: sub})
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				cancel()
			case <-c.done:
			}
		}()
	}
	return cancel, nil
}
