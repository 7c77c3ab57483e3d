package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type streamServer struct {
	*httptest.Server
	connects atomic.Int32

	// script is written to each new connection; the server then closes it
	// when dropAfter is set, otherwise holds it open.
	script    []string
	dropAfter bool
}

func newStreamServer(t *testing.T, script []string, dropAfter bool) *streamServer {
	t.Helper()
	s := &streamServer{script: script, dropAfter: dropAfter}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.connects.Add(1)

		for _, msg := range s.script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		if s.dropAfter {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *streamServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

type collector struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 64)}
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.events)
		c.mu.Unlock()
		if got >= n {
			c.mu.Lock()
			defer c.mu.Unlock()
			return append([]Event(nil), c.events...)
		}
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("received %d events, want %d", got, n)
		}
	}
}

func TestOpen_DeliversEvents(t *testing.T) {
	srv := newStreamServer(t, []string{
		`{"type":"presence","subType":"enterLocation","user":{"id":"user-1"},"location":{"id":"loc-1","name":"Kitchen"},"sphereId":"s1"}`,
		`not json`,
		`{"subType":"missing type"}`,
		`{"type":"switchStateUpdate","stoneId":"stone-1","sphereId":"s1"}`,
	}, false)

	c := NewClient(Config{URL: srv.wsURL()})
	col := newCollector()
	s, err := c.Open(context.Background(), "good-token", col.handle)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Stop()

	events := col.wait(t, 2)
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	first := events[0]
	if !first.IsPresence() || first.User.ID != "user-1" || first.Location.Name != "Kitchen" || first.SphereID != "s1" {
		t.Errorf("first event = %+v", first)
	}
	if events[1].Type != TypeSwitchStateUpdate || events[1].StoneID != "stone-1" || events[1].IsPresence() {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestOpen_Errors(t *testing.T) {
	srv := newStreamServer(t, nil, false)
	c := NewClient(Config{URL: srv.wsURL()})

	if _, err := c.Open(context.Background(), "", func(Event) {}); !errors.Is(err, ErrNoToken) {
		t.Errorf("Open(no token) error = %v, want ErrNoToken", err)
	}
	if _, err := c.Open(context.Background(), "bad-token", func(Event) {}); !errors.Is(err, ErrDial) {
		t.Errorf("Open(bad token) error = %v, want ErrDial", err)
	}
}

func TestSession_Reconnects(t *testing.T) {
	srv := newStreamServer(t, []string{`{"type":"dataChange"}`}, true)

	c := NewClient(Config{URL: srv.wsURL(), InitialDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond})
	col := newCollector()
	s, err := c.Open(context.Background(), "good-token", col.handle)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Stop()

	col.wait(t, 3)
	if got := srv.connects.Load(); got < 3 {
		t.Errorf("connects = %d, want at least 3", got)
	}
}

func TestSession_Stop(t *testing.T) {
	srv := newStreamServer(t, nil, false)
	c := NewClient(Config{URL: srv.wsURL()})

	s, err := c.Open(context.Background(), "good-token", func(Event) {})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	s.Stop()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done() not closed after Stop()")
	}
	// Stopping twice is harmless.
	s.Stop()
}

func TestSession_StopsWithParentContext(t *testing.T) {
	srv := newStreamServer(t, nil, false)
	c := NewClient(Config{URL: srv.wsURL()})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := c.Open(ctx, "good-token", func(Event) {})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	cancel()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session still running after context cancel")
	}
}
