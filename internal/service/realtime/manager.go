package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State describes the single logical channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateErrored      State = "errored"
)

var errNoCredential = errors.New("realtime: connect requires a credential")

// Event is the one inbound notification kind the client consumes: a new
// message was recorded for a conversation the caller can see.
type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// StateListener observes channel state transitions. Errors arrive here as a
// state, never as a panic or a thrown failure; only the REST layer's 401
// handling can end a session.
type StateListener func(state State, err error)

// Options bound the channel's dial and keepalive behavior.
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteTimeout     time.Duration
	MaxRetries       int
}

// DefaultOptions returns the production dial/keepalive settings.
func DefaultOptions(wsURL string) Options {
	return Options{
		URL:              wsURL,
		HandshakeTimeout: 30 * time.Second,
		PingInterval:     30 * time.Second,
		PongWait:         60 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxRetries:       5,
	}
}

// Manager owns the single persistent channel for the process. It is created
// once, injected into consumers, and rebinding to a new credential always
// goes through an explicit Disconnect/Connect cycle.
type Manager struct {
	opts       Options
	instanceID string
	events     chan Event

	mu         sync.Mutex
	state      State
	lastErr    error
	conn       *websocket.Conn
	credential string
	done       chan struct{}
	ready      chan struct{}
	listeners  []StateListener
}

// NewManager builds a disconnected manager. The instance id identifies this
// client process to the server across reconnects.
func NewManager(opts Options) *Manager {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 2 * opts.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Manager{
		opts:       opts,
		instanceID: uuid.NewString(),
		events:     make(chan Event, 16),
		state:      StateDisconnected,
		ready:      make(chan struct{}),
	}
}

// Connect opens the channel authenticated with credential. It is idempotent:
// a connected channel or an in-flight attempt is reused rather than racing a
// second dial. The call returns immediately; readiness is observed through
// Ready and state listeners.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	if credential == "" {
		return errNoCredential
	}

	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.lastErr = nil
	m.credential = credential
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.notify(StateConnecting, nil)
	go m.dialLoop(ctx, done)
	return nil
}

// dialLoop performs a bounded number of attempts with increasing delay.
// Reconnection reuses the handshake payload captured at Connect time; a new
// credential requires an explicit Disconnect/Connect cycle.
func (m *Manager) dialLoop(ctx context.Context, done chan struct{}) {
	var lastErr error
	for attempt := 0; attempt < m.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			select {
			case <-ctx.Done():
				m.fail(done, ctx.Err())
				return
			case <-done:
				return
			case <-time.After(delay):
			}
		}

		conn, err := m.dial(ctx)
		if err == nil {
			m.attach(conn, done)
			return
		}
		lastErr = err

		// An explicit Disconnect while the dial was in flight wins; its
		// clean state must not be overwritten with a stale failure.
		select {
		case <-done:
			return
		default:
		}

		log.Printf("[realtime] dial attempt %d/%d failed: %v", attempt+1, m.opts.MaxRetries, err)
		m.notify(StateConnecting, err)

		if ctx.Err() != nil {
			m.fail(done, ctx.Err())
			return
		}
	}
	m.fail(done, fmt.Errorf("connect failed after %d attempts: %w", m.opts.MaxRetries, lastErr))
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	m.mu.Lock()
	credential := m.credential
	m.mu.Unlock()

	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", credential)
	q.Set("client_id", m.instanceID)
	u.RawQuery = q.Encode()

	dialer := &websocket.Dialer{HandshakeTimeout: m.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (m *Manager) attach(conn *websocket.Conn, done chan struct{}) {
	m.mu.Lock()
	select {
	case <-done:
		// Disconnected while the dial was in flight.
		m.mu.Unlock()
		conn.Close()
		return
	default:
	}
	m.conn = conn
	m.state = StateConnected
	m.lastErr = nil
	close(m.ready)
	m.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
		return nil
	})

	log.Printf("[realtime] channel connected")
	m.notify(StateConnected, nil)

	go m.pingLoop(conn, done)
	go m.readPump(conn, done)
}

func (m *Manager) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(m.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// The read pump will observe the broken connection.
				return
			}
		}
	}
}

func (m *Manager) readPump(conn *websocket.Conn, done chan struct{}) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Deliberate teardown.
				return
			default:
			}
			log.Printf("[realtime] read failed, reconnecting: %v", err)
			m.mu.Lock()
			m.conn = nil
			m.state = StateConnecting
			m.ready = make(chan struct{})
			m.mu.Unlock()
			m.notify(StateConnecting, err)
			m.dialLoop(context.Background(), done)
			return
		}

		var evt Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			log.Printf("[realtime] dropping malformed event: %v", err)
			continue
		}
		if evt.ConversationID == "" {
			continue
		}

		select {
		case m.events <- evt:
		case <-done:
			return
		}
	}
}

func (m *Manager) fail(done chan struct{}, err error) {
	select {
	case <-done:
		// Torn down deliberately while the attempt was still running.
		return
	default:
	}
	m.mu.Lock()
	m.state = StateErrored
	m.lastErr = err
	m.mu.Unlock()
	log.Printf("[realtime] channel errored: %v", err)
	m.notify(StateErrored, err)
}

// Get returns the current channel handle, or false when none exists. It
// never blocks and never initiates a connection.
func (m *Manager) Get() (*websocket.Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn, m.conn != nil
}

// State reports the channel state and the last connection error, if any.
func (m *Manager) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastErr
}

// Ready returns a channel closed once the current connection attempt
// succeeds. Dependents register once and are notified on connect instead of
// polling Get in a retry loop.
func (m *Manager) Ready() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Events is the inbound notification stream. The channel is owned by the
// manager and survives reconnects, so consumers subscribe once.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// OnState registers a listener for state transitions. Listeners are released
// by Disconnect.
func (m *Manager) OnState(fn StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notify(state State, err error) {
	m.mu.Lock()
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(state, err)
	}
}

// Disconnect closes the channel, releases registered listeners and resets
// internal state so a subsequent Connect starts clean. Safe to call when no
// channel exists. Pending events already in the stream are left for the
// consumer to drain; no new ones are delivered after return.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
	m.lastErr = nil
	m.credential = ""
	m.listeners = nil
	m.ready = make(chan struct{})
	m.mu.Unlock()
}
