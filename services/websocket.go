package services

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scrumdash/boardsync/board"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024 * 1024 // 1MB
)

// Client represents a connected WebSocket client viewing one board
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	BoardID string
	User    board.UserRef
}

// ReadPump pumps messages from the WebSocket connection to the hub.
// Mutations arrive over REST, so inbound frames are only keepalive traffic.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var env board.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("Error unmarshalling WebSocket message: %v", err)
			continue
		}

		// Handle ping messages specially
		if env.Type == "ping" {
			// Reply with a pong directly to this client only
			pong, err := board.NewEnvelope("pong", map[string]string{
				"timestamp": time.Now().Format(time.RFC3339),
			})
			if err != nil {
				continue
			}
			pongJSON, err := json.Marshal(pong)
			if err == nil {
				c.Send <- pongJSON
			}
			continue
		}

		log.Printf("Ignoring unexpected message of type '%s' from user %s", env.Type, c.User.ID)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type boardMessage struct {
	boardID string
	payload []byte
}

// Hub maintains the set of active clients grouped by board and fans board
// events out to every client viewing that board
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan boardMessage
	register   chan *Client
	unregister chan *Client
}

// NewHub creates a new hub instance
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan boardMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastEvent sends an event to every client viewing the given board,
// including the acting user's own connection. Receivers are responsible for
// suppressing the echo of their own actions.
func (h *Hub) BroadcastEvent(boardID, eventType string, payload any) {
	env, err := board.NewEnvelope(eventType, payload)
	if err != nil {
		log.Printf("Error building %s event: %v", eventType, err)
		return
	}

	jsonMessage, err := json.Marshal(env)
	if err != nil {
		log.Printf("Error marshalling WebSocket message: %v", err)
		return
	}

	h.broadcast <- boardMessage{boardID: boardID, payload: jsonMessage}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			log.Printf("Client connected to board %s: %s", client.BoardID, client.User.ID)
			h.announce(client, board.EventUserJoined)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				log.Printf("Client disconnected from board %s: %s", client.BoardID, client.User.ID)
				h.announce(client, board.EventUserLeft)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				if client.BoardID != message.boardID {
					continue
				}

				select {
				case client.Send <- message.payload:
					// Message sent successfully
				default:
					// Client's send buffer is full, assume disconnected
					log.Printf("Client send buffer full, removing client: %s", client.User.ID)
					close(client.Send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// announce broadcasts a presence event for the given client to everyone on
// the same board. The client itself is included; receivers drop their own
// presence echoes the same way they drop other self events.
func (h *Hub) announce(subject *Client, eventType string) {
	env, err := board.NewEnvelope(eventType, board.PresencePayload{
		UserID:   subject.User.ID,
		UserName: subject.User.Name,
	})
	if err != nil {
		log.Printf("Error building %s event: %v", eventType, err)
		return
	}

	jsonMessage, err := json.Marshal(env)
	if err != nil {
		log.Printf("Error marshalling WebSocket message: %v", err)
		return
	}

	for client := range h.clients {
		if client.BoardID != subject.BoardID || client == subject {
			continue
		}

		select {
		case client.Send <- jsonMessage:
		default:
			log.Printf("Client send buffer full, removing client: %s", client.User.ID)
			close(client.Send)
			delete(h.clients, client)
		}
	}
}
