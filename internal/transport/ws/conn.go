// Package ws owns the client's persistent websocket: dialing with the
// session token, bounded reconnects with exponential backoff, and the
// fan-out of decoded inbound frames to listeners.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/coopchat/coopchat-client/internal/proto"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// maxRetries bounds consecutive reconnect attempts. Once exhausted the
// manager stays Disconnected until a fresh Connect call.
const maxRetries = 5

const dialTimeout = 10 * time.Second

// ErrNotConnected is returned by Send while the socket is not open.
var ErrNotConnected = errors.New("websocket not connected")

type dialFunc func(ctx context.Context, endpoint string) (*websocket.Conn, error)

// Manager owns at most one live websocket per session and recovers it
// across transient failures.
type Manager struct {
	endpoint   string
	dispatcher *Dispatcher
	log        *zerolog.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	token      string
	retry      int
	timer      *time.Timer
	ctx        context.Context
	readCancel context.CancelFunc
	subSeq     int
	stateSubs  []stateSub

	// gen is bumped by Connect and Close. A dial, read loop, or
	// reconnect timer carrying a stale generation has been superseded
	// and must not touch the manager's state.
	gen uint64

	// Injection points for tests.
	dial    dialFunc
	backoff func(retry int) time.Duration
}

type stateSub struct {
	id int
	fn func(State)
}

// NewManager derives the websocket endpoint from the HTTP API base URL
// (https becomes wss, http becomes ws) and builds a disconnected
// manager.
func NewManager(apiBaseURL string, dispatcher *Dispatcher, logger *zerolog.Logger) (*Manager, error) {
	u, err := url.Parse(apiBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	case "ws", "wss":
		// already a websocket url
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	return &Manager{
		endpoint:   u.String(),
		dispatcher: dispatcher,
		log:        logger,
		dial: func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
			conn, _, err := websocket.Dial(ctx, endpoint, nil)
			return conn, err
		},
		backoff: backoffDelay,
	}, nil
}

// backoffDelay implements the reconnect schedule: 1s, 2s, 4s, ...
// capped at 30s.
func backoffDelay(retry int) time.Duration {
	d := time.Duration(1<<retry) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Connect opens the socket with the given auth token. It cancels any
// pending reconnect timer and resets the failure budget, so a fresh
// call after exhausted retries starts over. The context scopes the
// whole connection including later reconnect attempts.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.stopTimerLocked()
	m.token = token
	m.retry = 0
	m.ctx = ctx
	if m.state == StateConnecting {
		// Disown an in-flight dial; its result is discarded by the
		// generation check.
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	return m.dialOnce(gen)
}

func (m *Manager) dialOnce(gen uint64) error {
	m.mu.Lock()
	if gen != m.gen || m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	subs := m.setStateLocked(StateConnecting)
	ctx := m.ctx
	token := m.token
	m.mu.Unlock()
	m.notify(StateConnecting, subs)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := m.dial(dialCtx, m.endpoint+"?token="+url.QueryEscape(token))

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		// Close or a newer Connect won the race while we were dialing.
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return nil
	}
	if err != nil {
		subs = m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.notify(StateDisconnected, subs)
		m.log.Warn().Err(err).Msg("websocket dial failed")
		m.scheduleReconnect(gen)
		return err
	}

	readCtx, readCancel := context.WithCancel(ctx)
	m.conn = conn
	m.retry = 0
	m.readCancel = readCancel
	subs = m.setStateLocked(StateOpen)
	m.mu.Unlock()
	m.notify(StateOpen, subs)
	m.log.Info().Str("endpoint", m.endpoint).Msg("websocket connected")

	go m.readLoop(readCtx, conn, gen)
	return nil
}

// readLoop decodes inbound frames and forwards them to the dispatcher.
// Malformed frames are dropped and logged; they never tear down the
// connection.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.handleClosed(conn, err, gen)
			return
		}

		ev, err := proto.DecodeEvent(data)
		if err != nil {
			m.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		m.dispatcher.Dispatch(ev)
	}
}

func (m *Manager) handleClosed(conn *websocket.Conn, err error, gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		// Intentional teardown or a newer connection owns the state now.
		if m.conn == conn {
			m.conn = nil
			m.readCancel = nil
		}
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.readCancel = nil
	subs := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	m.notify(StateDisconnected, subs)

	m.log.Warn().Err(err).Msg("websocket closed unexpectedly")
	m.scheduleReconnect(gen)
}

// scheduleReconnect arms exactly one reconnect timer, or gives up after
// maxRetries consecutive failures.
func (m *Manager) scheduleReconnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state == StateClosing {
		return
	}
	if m.retry >= maxRetries {
		m.log.Error().Int("attempts", maxRetries).Msg("reconnect attempts exhausted")
		return
	}

	delay := m.backoff(m.retry)
	m.retry++
	m.stopTimerLocked()
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.timer = nil
		m.mu.Unlock()
		_ = m.dialOnce(gen)
	})
	m.log.Info().Dur("delay", delay).Int("attempt", m.retry).Msg("reconnect scheduled")
}

// Send writes one command frame. It fails with ErrNotConnected instead
// of blocking or panicking while the socket is down; the caller keeps
// the content and decides whether to retry.
func (m *Manager) Send(ctx context.Context, v any) error {
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	if err := wsjson.Write(ctx, conn, v); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close tears the connection down intentionally: the generation bump
// supersedes any in-flight dial or armed reconnect, so neither can
// bring the socket back up after teardown.
func (m *Manager) Close() {
	m.mu.Lock()
	m.gen++
	m.stopTimerLocked()
	conn := m.conn
	readCancel := m.readCancel
	m.conn = nil
	m.readCancel = nil
	alreadyDown := m.state == StateDisconnected && conn == nil
	m.mu.Unlock()

	if alreadyDown {
		return
	}

	m.setState(StateClosing)
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	if readCancel != nil {
		readCancel()
	}
	m.setState(StateDisconnected)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers fn for state transitions and returns an
// unsubscribe function.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	m.subSeq++
	id := m.subSeq
	m.stateSubs = append(m.stateSubs, stateSub{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.stateSubs {
			if sub.id == id {
				m.stateSubs = append(m.stateSubs[:i], m.stateSubs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	subs := m.setStateLocked(s)
	m.mu.Unlock()
	m.notify(s, subs)
}

// setStateLocked applies the transition and returns the subscribers to
// notify, nil when the state did not change. Keeping the check and the
// write under one lock hold lets callers pair a transition with other
// guarded mutations atomically.
func (m *Manager) setStateLocked(s State) []stateSub {
	if m.state == s {
		return nil
	}
	m.state = s
	subs := make([]stateSub, len(m.stateSubs))
	copy(subs, m.stateSubs)
	return subs
}

func (m *Manager) notify(s State, subs []stateSub) {
	if subs == nil {
		return
	}
	m.log.Debug().Stringer("state", s).Msg("connection state changed")
	for _, sub := range subs {
		sub.fn(s)
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
