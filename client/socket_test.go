package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrumdash/boardsync/board"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// frameServer upgrades and writes the given envelopes, then blocks until
// the client goes away.
func frameServer(t *testing.T, envelopes ...board.Envelope) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, env := range envelopes {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestSocketDeliversFramesInOrder(t *testing.T) {
	first, err := board.NewEnvelope(board.EventUserJoined, board.PresencePayload{UserID: "u2"})
	require.NoError(t, err)
	second, err := board.NewEnvelope(board.EventIssueDeleted, board.IssueDeletedPayload{IssueID: "I1"})
	require.NoError(t, err)

	server := frameServer(t, first, second)
	defer server.Close()

	socket := NewSocketWithDefaults()
	require.NoError(t, socket.Connect(wsURL(server)))
	defer socket.Disconnect()

	for _, want := range []string{board.EventUserJoined, board.EventIssueDeleted} {
		select {
		case env := <-socket.Messages():
			assert.Equal(t, want, env.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s frame", want)
		}
	}
}

func TestSocketConnectWhileActiveIsError(t *testing.T) {
	server := frameServer(t)
	defer server.Close()

	socket := NewSocketWithDefaults()
	require.NoError(t, socket.Connect(wsURL(server)))
	defer socket.Disconnect()

	assert.Error(t, socket.Connect(wsURL(server)))
}

func TestSocketSendWhileDisconnected(t *testing.T) {
	socket := NewSocketWithDefaults()
	err := socket.Send(map[string]string{"type": "ping"})
	assert.Error(t, err)
}

func TestSocketDisconnectIdempotent(t *testing.T) {
	socket := NewSocketWithDefaults()
	assert.NotPanics(t, func() {
		socket.Disconnect()
		socket.Disconnect()
	})
}

func TestSocketReconnectBackoffBounds(t *testing.T) {
	socket := NewSocketWithDefaults()

	var mu sync.Mutex
	var delays []time.Duration
	dials := 0

	socket.dial = func(url string) (*websocket.Conn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, errors.New("connection refused")
	}
	socket.sleep = func(d time.Duration, stop <-chan struct{}) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return true
	}

	require.NoError(t, socket.Connect("ws://example.invalid/ws/boards/b1/"))

	// Initial dial plus five retries, then the loop gives up
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials == 6
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 6, dials, "no retry beyond the fifth")
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}, delays)
	assert.False(t, socket.IsConnected())
}

func TestReconnectDelayCapped(t *testing.T) {
	settings := DefaultSocketSettings()

	assert.Equal(t, 1*time.Second, settings.reconnectDelay(0))
	assert.Equal(t, 16*time.Second, settings.reconnectDelay(4))
	// 2^5 = 32s is clipped to the 30s ceiling
	assert.Equal(t, 30*time.Second, settings.reconnectDelay(5))
	assert.Equal(t, 30*time.Second, settings.reconnectDelay(20))
}

func TestSocketDisconnectCancelsPendingReconnect(t *testing.T) {
	socket := NewSocketWithDefaults()

	var mu sync.Mutex
	dials := 0
	firstDial := make(chan struct{})

	socket.dial = func(url string) (*websocket.Conn, error) {
		mu.Lock()
		dials++
		if dials == 1 {
			close(firstDial)
		}
		mu.Unlock()
		return nil, errors.New("connection refused")
	}

	require.NoError(t, socket.Connect("ws://example.invalid/ws/boards/b1/"))

	select {
	case <-firstDial:
	case <-time.After(2 * time.Second):
		t.Fatal("dial was never attempted")
	}

	// The run loop is now sleeping out the 1s backoff; Disconnect must
	// cancel it instead of letting a retry fire.
	socket.Disconnect()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, dials)
}

func TestSocketReconnectsAfterDrop(t *testing.T) {
	env, err := board.NewEnvelope(board.EventUserJoined, board.PresencePayload{UserID: "u2"})
	require.NoError(t, err)

	var mu sync.Mutex
	conns := 0
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		if n == 1 {
			// Drop the first connection immediately
			conn.Close()
			return
		}

		if err := conn.WriteJSON(env); err != nil {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	defer server.Close()

	socket := NewSocketWithDefaults()
	socket.sleep = func(d time.Duration, stop <-chan struct{}) bool {
		select {
		case <-time.After(time.Millisecond):
			return true
		case <-stop:
			return false
		}
	}

	require.NoError(t, socket.Connect(wsURL(server)))
	defer socket.Disconnect()

	select {
	case got := <-socket.Messages():
		assert.Equal(t, board.EventUserJoined, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("socket never recovered from the dropped connection")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, conns, 2)
}
