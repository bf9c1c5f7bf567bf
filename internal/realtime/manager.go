package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classroom-messaging/internal/models"
	"classroom-messaging/internal/observability"
)

// ErrClosed is returned by Connect after the manager has been shut down.
var ErrClosed = errors.New("realtime: manager closed")

const (
	initialReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay     = 30 * time.Second
)

// Manager owns the single realtime connection for one session identity. It
// dials the relay, announces presence on every successful (re)connect, tears
// the connection down on Close, and exposes connectivity to the rest of the
// client. It implements Channel.
type Manager struct {
	url      string
	token    string
	identity models.Identity
	dialer   *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	gen       int
	connected bool
	closed    bool
	done      chan struct{}

	writeMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[string]map[int]Handler
	nextSub int

	onConnectivity func(bool)
}

// NewManager builds a Manager for the given session identity. url is the
// relay websocket endpoint, token the bearer credential presented on dial.
func NewManager(url, token string, identity models.Identity) *Manager {
	return &Manager{
		url:      url,
		token:    token,
		identity: identity,
		dialer:   websocket.DefaultDialer,
		done:     make(chan struct{}),
		subs:     make(map[string]map[int]Handler),
	}
}

// OnConnectivityChange registers a callback invoked with the new connectivity
// state on every transition. Must be called before Connect.
func (m *Manager) OnConnectivityChange(fn func(connected bool)) {
	m.onConnectivity = fn
}

// Identity returns the session identity the connection was established for.
func (m *Manager) Identity() models.Identity {
	return m.identity
}

// Connect establishes the connection. Calling it again while connected is a
// no-op, so repeated identical identities never produce a second connection.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	conn, _, err := m.dialer.DialContext(ctx, m.url, m.authHeader())
	if err != nil {
		return err
	}
	m.adopt(conn)
	return nil
}

// Close tears the connection down and stops any reconnect attempts.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	conn := m.conn
	m.conn = nil
	wasConnected := m.connected
	m.connected = false
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	if wasConnected {
		m.notifyConnectivity(false)
		observability.DecWSActive("client")
	}
}

// Connected reports whether the connection is currently up.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Emit sends one envelope to the relay.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.connected
	m.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return err
	}
	observability.IncWSEvent("client", event)
	return nil
}

// Subscribe registers h for event and returns its removal function.
func (m *Manager) Subscribe(event string, h Handler) func() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if m.subs[event] == nil {
		m.subs[event] = make(map[int]Handler)
	}
	id := m.nextSub
	m.nextSub++
	m.subs[event][id] = h
	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.subs[event], id)
	}
}

func (m *Manager) authHeader() http.Header {
	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}
	return header
}

// adopt installs a freshly dialed connection, flips connectivity, announces
// presence and starts the read loop.
func (m *Manager) adopt(conn *websocket.Conn) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.connected = true
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.notifyConnectivity(true)
	observability.IncWSActive("client")

	// Presence is announced on every (re)connect so it is never silently lost.
	if err := m.Emit(EventJoinRoom, models.JoinPayload(m.identity)); err != nil {
		log.Printf("realtime: join announcement failed: %v", err)
	}

	go m.readLoop(conn, gen)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(conn, gen, err)
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("realtime: bad frame: %v", err)
			continue
		}
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env models.Envelope) {
	m.subsMu.Lock()
	handlers := make([]Handler, 0, len(m.subs[env.Event]))
	for _, h := range m.subs[env.Event] {
		handlers = append(handlers, h)
	}
	m.subsMu.Unlock()

	for _, h := range handlers {
		h(env.Data)
	}
}

func (m *Manager) handleDrop(conn *websocket.Conn, gen int, cause error) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.connected = false
	m.mu.Unlock()

	_ = conn.Close()
	if !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("realtime: connection dropped: %v", cause)
	}
	m.notifyConnectivity(false)
	observability.DecWSActive("client")
	observability.IncWSEvent("client", "drop")

	go m.reconnectLoop()
}

func (m *Manager) reconnectLoop() {
	delay := initialReconnectDelay
	for {
		select {
		case <-m.done:
			return
		case <-time.After(delay):
		}

		conn, _, err := m.dialer.Dial(m.url, m.authHeader())
		if err == nil {
			m.adopt(conn)
			return
		}
		log.Printf("realtime: reconnect failed: %v", err)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (m *Manager) notifyConnectivity(connected bool) {
	if m.onConnectivity != nil {
		m.onConnectivity(connected)
	}
}
