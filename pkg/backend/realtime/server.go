package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/goliatone/go-statesync/pkg/provider"
	"github.com/gorilla/websocket"
)

// Backend is what Server exposes.
type Backend interface {
	provider.Documents
	provider.Subscriber
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger for connection-level failures.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCheckOrigin overrides the upgrader origin check.
func WithCheckOrigin(fn func(*http.Request) bool) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// Server is an http.Handler serving the document protocol on a websocket.
type Server struct {
	backend  Backend
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*serverConn]struct{}
}

// NewServer returns a Server over backend.
func NewServer(backend Backend, opts ...ServerOption) *Server {
	s := &Server{
		backend: backend,
		logger:  slog.New(slog.DiscardHandler),
		conns:   make(map[*serverConn]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type serverConn struct {
	ws   *websocket.Conn
	out  chan Frame
	done chan struct{}
	subs map[string]func()
}

func (c *serverConn) send(f Frame) {
	select {
	case c.out <- f:
	case <-c.done:
	}
}

func (c *serverConn) writeLoop(logger *slog.Logger) {
	for {
		select {
		case f := <-c.out:
			if err := c.ws.WriteJSON(f); err != nil {
				logger.Debug("realtime write failed", slog.String("error", err.Error()))
				c.ws.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// ServeHTTP upgrades the request and serves frames until the peer leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("realtime upgrade failed", slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &serverConn{
		ws:   ws,
		out:  make(chan Frame, 64),
		done: make(chan struct{}),
		subs: make(map[string]func()),
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		for _, unsubscribe := range c.subs {
			unsubscribe()
		}
		cancel()
		close(c.done)
		ws.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	go c.writeLoop(s.logger)
	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("realtime read failed", slog.String("error", err.Error()))
			}
			return
		}
		s.handle(ctx, c, f)
	}
}

func (s *Server) handle(ctx context.Context, c *serverConn, f Frame) {
	reply := Frame{Ref: f.Ref, Op: OpReply, Path: f.Path, Sub: f.Sub}
	var err error
	switch f.Op {
	case OpGet:
		var record provider.Record
		record, reply.Found, err = s.backend.Get(ctx, f.Path)
		if reply.Found {
			reply.Records = toFrames([]provider.Record{record})
		}
	case OpList:
		var records []provider.Record
		records, err = s.backend.List(ctx, f.Path)
		reply.Records = toFrames(records)
	case OpSet:
		err = s.backend.Set(ctx, f.Path, normalizeData(f.Data))
	case OpAdd:
		reply.ID, err = s.backend.Add(ctx, f.Path, normalizeData(f.Data))
	case OpDelete:
		err = s.backend.Delete(ctx, f.Path)
	case OpSubscribe:
		err = s.subscribe(ctx, c, f)
	case OpUnsubscribe:
		if unsubscribe, ok := c.subs[f.Sub]; ok {
			unsubscribe()
			delete(c.subs, f.Sub)
		}
	default:
		err = fmt.Errorf("unknown op %q", f.Op)
	}
	if err != nil {
		reply.Error = err.Error()
	}
	c.send(reply)
}

func (s *Server) subscribe(ctx context.Context, c *serverConn, f Frame) error {
	if f.Sub == "" {
		return fmt.Errorf("subscribe requires a subscription id")
	}
	if _, exists := c.subs[f.Sub]; exists {
		return fmt.Errorf("subscription %q already active", f.Sub)
	}
	sub := f.Sub
	cancel, err := s.backend.Subscribe(ctx, f.Path, func(records []provider.Record) {
		c.send(Frame{Op: OpEvent, Sub: sub, Path: f.Path, Records: toFrames(records)})
	})
	if err != nil {
		return err
	}
	c.subs[sub] = cancel
	return nil
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close drops every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
	return nil
}
