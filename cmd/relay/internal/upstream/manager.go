// Package upstream owns the single outbound streaming connection to the
// market data feed: dial, authenticate, detect failure, reconnect after a
// fixed delay. Validated frames are pushed onto a channel consumed by the
// fan-out dispatcher, keeping socket I/O out of broadcast logic.
package upstream

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/protocol"
)

// State of the upstream connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the transport surface the manager needs; *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a new transport connection.
type Dialer func(ctx context.Context) (Conn, error)

// NewDialer returns a Dialer for the given websocket URL.
func NewDialer(wsURL string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (Conn, error) {
		d := websocket.Dialer{HandshakeTimeout: timeout}
		conn, _, err := d.DialContext(ctx, wsURL, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type Manager struct {
	dial           Dialer
	credential     string
	reconnectDelay time.Duration
	logger         *zap.Logger

	frames chan []byte

	// writeMu serializes writes to the transport. Gorilla allows a single
	// concurrent writer, and any subscriber forwarding a control message can
	// reach the connection from its own goroutine.
	writeMu sync.Mutex

	mu       sync.Mutex
	state    State
	conn     Conn
	retries  int
	channels map[string]struct{} // subscribed channels, replayed after reconnect
	shutdown bool
	timer    *time.Timer
}

func NewManager(dial Dialer, credential string, reconnectDelay time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		dial:           dial,
		credential:     credential,
		reconnectDelay: reconnectDelay,
		logger:         logger,
		frames:         make(chan []byte, 1024),
		state:          StateIdle,
		channels:       make(map[string]struct{}),
	}
}

// Frames is the stream of validated upstream payloads.
func (m *Manager) Frames() <-chan []byte { return m.frames }

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retries reports how many reconnect attempts have been made since the last
// successful stream.
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// EnsureConnected starts a connection attempt if the manager is Idle or
// Closed. It is idempotent: while a connection is being established or is
// live, the call is a no-op.
func (m *Manager) EnsureConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown || (m.state != StateIdle && m.state != StateClosed) {
		return
	}
	m.state = StateConnecting
	go m.connect()
}

// Send forwards a control message upstream. Messages are dropped (not queued)
// unless the connection is Streaming. Subscribe/unsubscribe messages update
// the channel set replayed after a reconnect.
func (m *Manager) Send(raw []byte) bool {
	m.mu.Lock()
	if m.state != StateStreaming {
		m.mu.Unlock()
		return false
	}
	conn := m.conn
	if msg, ok := protocol.ParseControl(raw); ok {
		m.trackChannelsLocked(msg)
	}
	m.mu.Unlock()

	if err := m.write(conn, raw); err != nil {
		m.logger.Warn("Upstream write failed", zap.Error(err))
		m.disconnect(conn)
		return false
	}
	return true
}

// write is the only path to the transport's writer.
func (m *Manager) write(conn Conn, payload []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Shutdown closes the connection permanently; no reconnect is scheduled.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	m.state = StateClosed
	if m.timer != nil {
		m.timer.Stop()
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (m *Manager) connect() {
	// The dialer carries its own handshake timeout.
	conn, err := m.dial(context.Background())
	if err != nil {
		m.logger.Warn("Upstream dial failed", zap.Error(err))
		m.failAndReschedule(nil)
		return
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.state = StateAuthenticating
	m.conn = conn
	replay := m.channelsLocked()
	m.mu.Unlock()

	auth, _ := json.Marshal(protocol.AuthMessage(m.credential))
	if err := m.write(conn, auth); err != nil {
		m.logger.Warn("Upstream auth failed", zap.Error(err))
		m.failAndReschedule(conn)
		return
	}

	if len(replay) > 0 {
		sub, _ := json.Marshal(protocol.ControlMessage{
			Action: protocol.ActionSubscribe,
			Params: strings.Join(replay, ","),
		})
		if err := m.write(conn, sub); err != nil {
			m.logger.Warn("Subscription replay failed", zap.Error(err))
			m.failAndReschedule(conn)
			return
		}
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.state = StateStreaming
	m.retries = 0
	m.mu.Unlock()

	m.logger.Info("Upstream connection established",
		zap.Int("replayed_channels", len(replay)))
	m.readLoop(conn)
}

// readLoop owns the connection until it dies. Malformed payloads are dropped
// per-message and never touch connection state.
func (m *Manager) readLoop(conn Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.logger.Warn("Upstream connection lost", zap.Error(err))
			m.disconnect(conn)
			return
		}

		if !json.Valid(payload) {
			m.logger.Debug("Dropping malformed upstream frame", zap.Int("bytes", len(payload)))
			continue
		}

		select {
		case m.frames <- payload:
		default:
			// Dispatcher is behind; dropping beats stalling the socket.
			m.logger.Warn("Frame buffer full, dropping upstream frame")
		}
	}
}

// disconnect moves to Closed and schedules exactly one delayed reconnect.
// Concurrent callers (read loop and a failed Send) race to the state check,
// so only the first one schedules.
func (m *Manager) disconnect(conn Conn) {
	m.mu.Lock()
	if m.shutdown || m.conn != conn || m.state == StateClosed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.state = StateClosed
	m.conn = nil
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	conn.Close()
}

func (m *Manager) failAndReschedule(conn Conn) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.state = StateClosed
	m.conn = nil
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (m *Manager) scheduleReconnectLocked() {
	m.retries++
	m.timer = time.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		if m.shutdown || m.state != StateClosed {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()
		m.connect()
	})
}

func (m *Manager) trackChannelsLocked(msg protocol.ControlMessage) {
	switch msg.Action {
	case protocol.ActionSubscribe:
		for _, ch := range splitChannels(msg.Params) {
			m.channels[ch] = struct{}{}
		}
	case protocol.ActionUnsubscribe:
		for _, ch := range splitChannels(msg.Params) {
			delete(m.channels, ch)
		}
	}
}

func (m *Manager) channelsLocked() []string {
	out := make([]string, 0, len(m.channels))
	for ch := range m.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func splitChannels(params string) []string {
	var out []string
	for _, ch := range strings.Split(params, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			out = append(out, ch)
		}
	}
	return out
}
