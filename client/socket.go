package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scrumdash/boardsync/board"
)

// SocketSettings controls dial behaviour and the reconnect loop.
type SocketSettings struct {
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

func DefaultSocketSettings() *SocketSettings {
	return &SocketSettings{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
	}
}

// reconnectDelay returns the capped exponential backoff delay before retry
// number attempt (0-based): base×2^attempt up to the configured ceiling.
func (s *SocketSettings) reconnectDelay(attempt int) time.Duration {
	delay := s.ReconnectBaseDelay << uint(attempt)
	if delay > s.ReconnectMaxDelay || delay <= 0 {
		delay = s.ReconnectMaxDelay
	}
	return delay
}

// Socket owns one logical websocket connection to a realtime endpoint. It
// delivers every inbound frame, parsed as an envelope, in arrival order on
// Messages, and redials with capped exponential backoff when the connection
// drops. After MaxReconnectAttempts consecutive failures it stops silently;
// callers watch connection state, not socket errors, to detect that.
type Socket struct {
	settings *SocketSettings

	mu        sync.Mutex
	conn      *websocket.Conn
	url       string
	active    bool
	connected bool
	attempts  int
	stop      chan struct{}

	messages chan board.Envelope

	// stateHandler is invoked from the socket's own goroutine on every
	// open/close transition.
	stateHandler func(connected bool)

	// test seams
	dial  func(url string) (*websocket.Conn, error)
	sleep func(d time.Duration, stop <-chan struct{}) bool
}

func NewSocketWithDefaults() *Socket {
	return NewSocket(DefaultSocketSettings())
}

func NewSocket(settings *SocketSettings) *Socket {
	s := &Socket{
		settings: settings,
		messages: make(chan board.Envelope, 256),
	}
	s.dial = func(url string) (*websocket.Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: settings.HandshakeTimeout}
		conn, _, err := dialer.Dial(url, nil)
		return conn, err
	}
	s.sleep = func(d time.Duration, stop <-chan struct{}) bool {
		select {
		case <-time.After(d):
			return true
		case <-stop:
			return false
		}
	}
	return s
}

// SetStateHandler registers a callback for open/close transitions. Must be
// called before Connect.
func (s *Socket) SetStateHandler(handler func(connected bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateHandler = handler
}

// Messages returns the inbound frame stream. The channel stays open for the
// lifetime of the socket, across reconnects.
func (s *Socket) Messages() <-chan board.Envelope {
	return s.messages
}

// IsConnected reports whether the underlying connection is currently open.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect starts the connection loop against url. Calling Connect while a
// previous connection is still active is a caller error; Disconnect first.
// Dial failures do not surface here, they drive the backoff loop.
func (s *Socket) Connect(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return errors.New("socket already connected, call Disconnect first")
	}

	s.active = true
	s.url = url
	s.attempts = 0
	s.stop = make(chan struct{})

	go s.run(s.stop)

	return nil
}

// Send transmits a message on the current connection. When disconnected the
// message is dropped and the condition is logged and returned as an error.
func (s *Socket) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		log.Printf("Socket send while disconnected, dropping message")
		return errors.New("socket not connected")
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// Disconnect tears down the connection and cancels any pending reconnect.
// The reconnect counter resets so a later Connect starts fresh. Safe to call
// when already disconnected.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}

	s.active = false
	s.attempts = 0
	close(s.stop)

	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Socket) run(stop chan struct{}) {
	for {
		conn, err := s.dial(s.url)
		if err != nil {
			log.Printf("Socket connection to %s failed: %v", s.url, err)
			if !s.waitForRetry(stop, err) {
				return
			}
			continue
		}

		s.mu.Lock()
		select {
		case <-stop:
			// Disconnected while dialing
			s.mu.Unlock()
			conn.Close()
			return
		default:
		}
		s.conn = conn
		s.connected = true
		s.attempts = 0
		handler := s.stateHandler
		s.mu.Unlock()

		if handler != nil {
			handler(true)
		}

		err = s.readLoop(conn)

		s.mu.Lock()
		s.conn = nil
		s.connected = false
		handler = s.stateHandler
		s.mu.Unlock()

		if handler != nil {
			handler(false)
		}

		select {
		case <-stop:
			return
		default:
		}

		log.Printf("Socket connection to %s dropped: %v", s.url, err)
		if !s.waitForRetry(stop, err) {
			return
		}
	}
}

// readLoop pushes every inbound frame, in arrival order, onto the message
// channel. Unparseable frames are logged and skipped.
func (s *Socket) readLoop(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return err
		}

		var env board.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("Error unmarshalling WebSocket message: %v", err)
			continue
		}

		s.messages <- env
	}
}

// waitForRetry sleeps out the backoff delay for the current attempt. It
// returns false when retries are exhausted or the socket was disconnected,
// in which case the run loop exits.
func (s *Socket) waitForRetry(stop <-chan struct{}, cause error) bool {
	s.mu.Lock()
	attempt := s.attempts
	s.attempts++
	s.mu.Unlock()

	if attempt >= s.settings.MaxReconnectAttempts {
		log.Printf("Socket giving up after %d attempts: %v", attempt, cause)
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		return false
	}

	delay := s.settings.reconnectDelay(attempt)
	log.Printf("Socket reconnecting in %v (attempt %d)", delay, attempt+1)
	return s.sleep(delay, stop)
}
