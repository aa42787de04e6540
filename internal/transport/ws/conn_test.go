package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/coopchat/coopchat-client/internal/proto"
)

func newTestManager(t *testing.T, apiBaseURL string) *Manager {
	t.Helper()
	logger := zerolog.Nop()
	m, err := NewManager(apiBaseURL, NewDispatcher(&logger), &logger)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestEndpointDerivation(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://chat.example.com", "wss://chat.example.com/ws"},
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://chat.example.com/api/", "wss://chat.example.com/api/ws"},
	}
	for _, tc := range cases {
		m := newTestManager(t, tc.in)
		if m.endpoint != tc.want {
			t.Fatalf("endpoint for %q: got %q, want %q", tc.in, m.endpoint, tc.want)
		}
	}
}

func TestBackoffDelaySchedule(t *testing.T) {
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}
	for retry, d := range want {
		if got := backoffDelay(retry); got != d {
			t.Fatalf("retry %d: got %v, want %v", retry, got, d)
		}
	}
	if got := backoffDelay(6); got != 30*time.Second {
		t.Fatalf("delay must cap at 30s, got %v", got)
	}
}

func TestReconnectGivesUpAfterMaxRetries(t *testing.T) {
	m := newTestManager(t, "http://localhost:1")

	var dials atomic.Int32
	m.dial = func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
		dials.Add(1)
		return nil, errors.New("refused")
	}
	m.backoff = func(int) time.Duration { return time.Millisecond }

	if err := m.Connect(context.Background(), "tok"); err == nil {
		t.Fatalf("expected dial error")
	}

	// The initial attempt plus maxRetries scheduled attempts.
	waitFor(t, func() bool { return dials.Load() == 1+maxRetries })
	time.Sleep(50 * time.Millisecond)
	if got := dials.Load(); got != 1+maxRetries {
		t.Fatalf("manager kept dialing after giving up: %d attempts", got)
	}
	if st := m.State(); st != StateDisconnected {
		t.Fatalf("expected disconnected after exhaustion, got %v", st)
	}
}

func TestConnectResetsRetryBudget(t *testing.T) {
	m := newTestManager(t, "http://localhost:1")

	var dials atomic.Int32
	m.dial = func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
		dials.Add(1)
		return nil, errors.New("refused")
	}
	m.backoff = func(int) time.Duration { return time.Millisecond }

	_ = m.Connect(context.Background(), "tok")
	waitFor(t, func() bool { return dials.Load() == 1+maxRetries })

	// A fresh Connect after exhaustion starts the budget over.
	_ = m.Connect(context.Background(), "tok")
	waitFor(t, func() bool { return dials.Load() == 2*(1+maxRetries) })
}

func TestSendWhileDisconnected(t *testing.T) {
	m := newTestManager(t, "http://localhost:1")
	err := m.Send(context.Background(), proto.Command{Type: proto.TypeMessage})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnectDispatchAndClose(t *testing.T) {
	var gotToken atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken.Store(r.URL.Query().Get("token"))
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "test done")

		// One malformed frame, then a real event.
		_ = conn.Write(r.Context(), websocket.MessageText, []byte("{not json"))
		_ = wsjson.Write(r.Context(), conn, proto.Event{
			Type:    proto.TypeMessage,
			Message: &proto.Message{ID: 42, ChatID: 1, Content: "hi"},
		})
		<-r.Context().Done()
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	dispatcher := NewDispatcher(&logger)
	m, err := NewManager(srv.URL, dispatcher, &logger)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	events := make(chan proto.Event, 8)
	dispatcher.AddListener(func(ev proto.Event) { events <- ev })

	opened := make(chan struct{}, 1)
	m.OnStateChange(func(s State) {
		if s == StateOpen {
			select {
			case opened <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Connect(ctx, "secret-token"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case <-opened:
	case <-ctx.Done():
		t.Fatalf("state never reached open")
	}

	select {
	case ev := <-events:
		if ev.Type != proto.TypeMessage || ev.Message == nil || ev.Message.ID != 42 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("no event dispatched")
	}

	if tok, _ := gotToken.Load().(string); tok != "secret-token" {
		t.Fatalf("token not passed in query, got %q", tok)
	}

	m.Close()
	waitFor(t, func() bool { return m.State() == StateDisconnected })
}

func TestUnexpectedCloseSchedulesReconnect(t *testing.T) {
	var accepts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		n := accepts.Add(1)
		if n == 1 {
			// Drop the first connection immediately.
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.backoff = func(int) time.Duration { return time.Millisecond }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Connect(ctx, "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, func() bool { return accepts.Load() >= 2 && m.State() == StateOpen })
	m.Close()
}

func TestCloseDuringDialStaysDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "test done")
		<-r.Context().Done()
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)

	// Park the dial so Close can run while it is in flight.
	gate := make(chan struct{})
	realDial := m.dial
	m.dial = func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
		<-gate
		return realDial(ctx, endpoint)
	}

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), "tok") }()
	waitFor(t, func() bool { return m.State() == StateConnecting })

	m.Close()
	close(gate)
	<-done

	// The dial completed after teardown; its socket must be discarded,
	// not stored and promoted to Open.
	time.Sleep(50 * time.Millisecond)
	if st := m.State(); st == StateOpen {
		t.Fatalf("manager came back up after close, state %v", st)
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		t.Fatalf("superseded dial left a stored socket")
	}
}

func TestCloseDuringFailedDialStopsReconnect(t *testing.T) {
	m := newTestManager(t, "http://localhost:1")

	gate := make(chan struct{})
	var dials atomic.Int32
	m.dial = func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
		dials.Add(1)
		<-gate
		return nil, errors.New("refused")
	}
	m.backoff = func(int) time.Duration { return time.Millisecond }

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), "tok") }()
	waitFor(t, func() bool { return dials.Load() == 1 })

	m.Close()
	close(gate)
	<-done

	// A dial failing after teardown must not re-arm the reconnect timer.
	time.Sleep(50 * time.Millisecond)
	if got := dials.Load(); got != 1 {
		t.Fatalf("reconnect re-armed after close: %d dials", got)
	}
	if st := m.State(); st != StateDisconnected {
		t.Fatalf("state after close: %v", st)
	}
}

func TestRejectsUnsupportedScheme(t *testing.T) {
	logger := zerolog.Nop()
	if _, err := NewManager("ftp://example.com", NewDispatcher(&logger), &logger); err == nil {
		t.Fatalf("expected error for ftp scheme")
	}
}

func TestTokenEscapedInQuery(t *testing.T) {
	m := newTestManager(t, "http://localhost:1")

	var dialed atomic.Value
	m.dial = func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
		dialed.Store(endpoint)
		return nil, errors.New("stop here")
	}
	m.backoff = func(int) time.Duration { return time.Hour }

	_ = m.Connect(context.Background(), "a b+c")

	endpoint, _ := dialed.Load().(string)
	if !strings.HasSuffix(endpoint, "?token="+url.QueryEscape("a b+c")) {
		t.Fatalf("token not escaped: %q", endpoint)
	}
	m.Close()
}
