package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = time.Minute
	defaultDialTimeout  = 10 * time.Second
)

// Config contains stream connection settings.
type Config struct {
	URL          string
	InitialDelay time.Duration
	MaxDelay     time.Duration
	DialTimeout  time.Duration
}

// Logger defines the logging interface used by the push client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client opens push-stream sessions.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger Logger
}

// NewClient creates a client. Zero delays fall back to defaults.
func NewClient(cfg Config) *Client {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = max(defaultMaxDelay, cfg.InitialDelay)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the client and the sessions it opens.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// Open connects to the stream and starts delivering events to handler.
//
// The first connection is made before Open returns so a bad token or an
// unreachable stream is reported to the caller. After that the session
// reconnects with exponential backoff until Stop is called or ctx ends.
func (c *Client) Open(ctx context.Context, token string, handler Handler) (*Session, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	conn, err := c.dial(ctx, token)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		client:  c,
		token:   token,
		handler: handler,
		cancel:  cancel,
		done:    make(chan struct{}),
		conn:    conn,
	}
	// Closing the connection is what interrupts a blocked read.
	context.AfterFunc(sctx, s.closeConn)
	go s.run(sctx)

	c.logger.Info("push stream connected", "url", c.cfg.URL)
	return s, nil
}

func (c *Client) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(dctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: status %d: %w", ErrDial, c.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDial, c.cfg.URL, err)
	}
	return conn, nil
}

// Session is one logical push subscription. It survives reconnects and ends
// only on Stop or when its parent context ends.
type Session struct {
	client  *Client
	token   string
	handler Handler

	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stop ends the session and waits for its read loop to exit. It is safe to
// call more than once.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

func (s *Session) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.closeConn()

	logger := s.client.logger
	for {
		conn := s.current()
		if conn == nil {
			var ok bool
			if conn, ok = s.reconnect(ctx); !ok {
				return
			}
		}

		err := s.readLoop(conn)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("push stream disconnected", "error", err)
		s.mu.Lock()
		if s.conn == conn {
			s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
	}
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.client.logger.Warn("undecodable push event", "error", err)
			continue
		}
		if ev.Type == "" {
			continue
		}
		s.handler(ev)
	}
}

// reconnect dials with exponential backoff until it succeeds or ctx ends.
func (s *Session) reconnect(ctx context.Context) (*websocket.Conn, bool) {
	delay := s.client.cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		conn, err := s.client.dial(ctx, s.token)
		if err == nil {
			s.mu.Lock()
			if ctx.Err() != nil {
				s.mu.Unlock()
				conn.Close()
				return nil, false
			}
			s.conn = conn
			s.mu.Unlock()
			s.client.logger.Info("push stream reconnected", "attempt", attempt)
			return conn, true
		}

		s.client.logger.Debug("push reconnect failed", "attempt", attempt, "error", err)
		delay = min(delay*2, s.client.cfg.MaxDelay)
	}
}
