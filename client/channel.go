package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/scrumdash/boardsync/board"
)

const subscriptionBuffer = 32

// BoardChannel binds a socket to one board+token session and splits the raw
// inbound stream into typed, named event streams. Subscribers see events
// from the moment of subscription onward.
type BoardChannel struct {
	socket   *Socket
	wsBase   string
	notifier Notifier

	done chan struct{}

	mu        sync.Mutex
	boardID   string
	closed    bool
	subs      map[string][]chan board.Envelope
	allSubs   []chan board.Envelope
	connSubs  []chan bool
	connected bool
}

// NewBoardChannel creates a channel adapter dialing against wsBase, e.g.
// "ws://localhost:3001".
func NewBoardChannel(wsBase string, notifier Notifier) *BoardChannel {
	c := &BoardChannel{
		socket:   NewSocketWithDefaults(),
		wsBase:   wsBase,
		notifier: notifier,
		done:     make(chan struct{}),
		subs:     make(map[string][]chan board.Envelope),
	}
	c.socket.SetStateHandler(c.onSocketState)
	go c.dispatch()
	return c
}

// ConnectToBoard opens the realtime channel for one board. Reconnecting to
// the board already connected is a no-op, so redundant navigation events are
// harmless. Switching boards tears the previous channel down first. An empty
// token is refused client-side before any socket work.
func (c *BoardChannel) ConnectToBoard(boardID, token string) error {
	if token == "" {
		if c.notifier != nil {
			c.notifier.Error("You must be signed in to view this board")
		}
		return errors.New("no auth token, not connecting to board channel")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("board channel is closed")
	}
	if c.boardID == boardID && c.socket.IsConnected() {
		c.mu.Unlock()
		return nil
	}
	switching := c.boardID != "" && c.boardID != boardID
	c.boardID = boardID
	c.mu.Unlock()

	if switching {
		c.socket.Disconnect()
	}

	target := fmt.Sprintf("%s/ws/boards/%s/?token=%s", c.wsBase, boardID, url.QueryEscape(token))
	if err := c.socket.Connect(target); err != nil {
		// A stale session can leave the socket active; reset and retry once.
		c.socket.Disconnect()
		if err := c.socket.Connect(target); err != nil {
			return fmt.Errorf("failed to connect board channel: %w", err)
		}
	}

	return nil
}

// DisconnectFromBoard tears down the channel and forgets the current board.
func (c *BoardChannel) DisconnectFromBoard() {
	c.mu.Lock()
	c.boardID = ""
	c.mu.Unlock()

	c.socket.Disconnect()
}

// BoardID returns the board this channel is currently bound to.
func (c *BoardChannel) BoardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boardID
}

// IsConnected reports the live connection state of the channel.
func (c *BoardChannel) IsConnected() bool {
	return c.socket.IsConnected()
}

// Connected returns a stream of connection state transitions, bound to the
// actual socket open/close callbacks.
func (c *BoardChannel) Connected() <-chan bool {
	ch := make(chan bool, subscriptionBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.connSubs = append(c.connSubs, ch)
	return ch
}

// Events returns the raw envelope stream of every inbound board event.
func (c *BoardChannel) Events() <-chan board.Envelope {
	ch := make(chan board.Envelope, subscriptionBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.allSubs = append(c.allSubs, ch)
	return ch
}

// UserJoined streams user.joined events.
func (c *BoardChannel) UserJoined() <-chan board.PresencePayload {
	return subscribe[board.PresencePayload](c, board.EventUserJoined)
}

// UserLeft streams user.left events.
func (c *BoardChannel) UserLeft() <-chan board.PresencePayload {
	return subscribe[board.PresencePayload](c, board.EventUserLeft)
}

// IssueMoved streams issue.moved events.
func (c *BoardChannel) IssueMoved() <-chan board.IssueMovedPayload {
	return subscribe[board.IssueMovedPayload](c, board.EventIssueMoved)
}

// IssueCreated streams issue.created events.
func (c *BoardChannel) IssueCreated() <-chan board.IssueChangedPayload {
	return subscribe[board.IssueChangedPayload](c, board.EventIssueCreated)
}

// IssueUpdated streams issue.updated events.
func (c *BoardChannel) IssueUpdated() <-chan board.IssueChangedPayload {
	return subscribe[board.IssueChangedPayload](c, board.EventIssueUpdated)
}

// IssueDeleted streams issue.deleted events.
func (c *BoardChannel) IssueDeleted() <-chan board.IssueDeletedPayload {
	return subscribe[board.IssueDeletedPayload](c, board.EventIssueDeleted)
}

// ColumnCreated streams column.created events.
func (c *BoardChannel) ColumnCreated() <-chan board.ColumnChangedPayload {
	return subscribe[board.ColumnChangedPayload](c, board.EventColumnCreated)
}

// ColumnUpdated streams column.updated events.
func (c *BoardChannel) ColumnUpdated() <-chan board.ColumnChangedPayload {
	return subscribe[board.ColumnChangedPayload](c, board.EventColumnUpdated)
}

// ColumnDeleted streams column.deleted events.
func (c *BoardChannel) ColumnDeleted() <-chan board.ColumnDeletedPayload {
	return subscribe[board.ColumnDeletedPayload](c, board.EventColumnDeleted)
}

// Close disconnects the channel and closes every subscription stream. The
// adapter cannot be reused afterwards.
func (c *BoardChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.boardID = ""
	close(c.done)
	subs := c.subs
	allSubs := c.allSubs
	connSubs := c.connSubs
	c.subs = make(map[string][]chan board.Envelope)
	c.allSubs = nil
	c.connSubs = nil
	c.mu.Unlock()

	c.socket.Disconnect()

	for _, chans := range subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, ch := range allSubs {
		close(ch)
	}
	for _, ch := range connSubs {
		close(ch)
	}
}

// dispatch fans the socket's raw frames out to subscribers. Slow subscribers
// lose events rather than stalling the channel.
func (c *BoardChannel) dispatch() {
	for {
		var env board.Envelope
		select {
		case env = <-c.socket.Messages():
		case <-c.done:
			return
		}

		// The lock is held through the fan-out so Close cannot pull a
		// subscriber channel out from under a send. Sends never block.
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		targets := append([]chan board.Envelope{}, c.subs[env.Type]...)
		targets = append(targets, c.allSubs...)
		for _, ch := range targets {
			select {
			case ch <- env:
			default:
				log.Printf("Board channel subscriber full, dropping %s event", env.Type)
			}
		}
		c.mu.Unlock()
	}
}

func (c *BoardChannel) onSocketState(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.connected = connected
	for _, ch := range c.connSubs {
		select {
		case ch <- connected:
		default:
		}
	}
}

// subscribe registers a typed stream for one event type. Payloads that fail
// to decode are logged and skipped, never delivered half-formed.
func subscribe[T any](c *BoardChannel, eventType string) <-chan T {
	raw := make(chan board.Envelope, subscriptionBuffer)
	typed := make(chan T, subscriptionBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(typed)
		return typed
	}
	c.subs[eventType] = append(c.subs[eventType], raw)
	c.mu.Unlock()

	go func() {
		defer close(typed)
		for env := range raw {
			var payload T
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				log.Printf("Malformed %s payload: %v", eventType, err)
				continue
			}
			select {
			case typed <- payload:
			default:
				log.Printf("Board channel subscriber full, dropping %s event", eventType)
			}
		}
	}()

	return typed
}
