package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// Hub fans realtime channel traffic out to connected browser clients.
// It subscribes to a session's game and presence channels while at least
// one client for that session is connected, and relays every envelope
// verbatim.
type Hub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	mutex      sync.RWMutex

	db       *gorm.DB
	realtime *Realtime
	relays   map[string]*sessionRelay

	// newPresence constructs the per-player presence tracker; swapped for
	// a fake in tests.
	newPresence func(sessionID string) presenceSession
}

// presenceSession is the slice of PlayerSync the hub drives for each
// connected client.
type presenceSession interface {
	Initialize(ctx context.Context, playerID, nickname string) error
	BroadcastDisconnection(ctx context.Context, reason string) error
	Cleanup()
}

type sessionRelay struct {
	game     *Channel
	presence *Channel
	refs     int
}

type WSClient struct {
	hub       *Hub
	id        string
	socket    *websocket.Conn
	send      chan []byte
	sessionID string
	playerID  string
	nickname  string
	presence  presenceSession
}

// Message is the client-to-server websocket frame.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func NewHub(db *gorm.DB, realtime *Realtime) *Hub {
	return &Hub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		db:         db,
		realtime:   realtime,
		relays:     make(map[string]*sessionRelay),
		newPresence: func(sessionID string) presenceSession {
			return NewPlayerSync(db, realtime, sessionID)
		},
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.addRelayLocked(client.sessionID)
			h.mutex.Unlock()
			log.Printf("client %s registered for session %s (player %s: %s)", client.id, client.sessionID, client.playerID, client.nickname)

		case client := <-h.unregister:
			h.mutex.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
				h.dropRelayLocked(client.sessionID)
			}
			h.mutex.Unlock()

			if ok {
				h.detachPresence(client)
				log.Printf("client %s unregistered from session %s", client.id, client.sessionID)
			}
		}
	}
}

// addRelayLocked opens the session's channels on the first client.
func (h *Hub) addRelayLocked(sessionID string) {
	if relay, ok := h.relays[sessionID]; ok {
		relay.refs++
		return
	}

	relay := &sessionRelay{
		game:     h.realtime.Channel("session:" + sessionID + ":game"),
		presence: h.realtime.Channel("session:" + sessionID + ":presence"),
		refs:     1,
	}

	forward := func(event string, payload json.RawMessage) {
		env := Envelope{
			Event:     event,
			Payload:   payload,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		data, err := json.Marshal(env)
		if err != nil {
			log.Printf("failed to marshal relayed %s event: %v", event, err)
			return
		}
		h.broadcastToSession(sessionID, data)
	}
	relay.game.OnAny(forward)
	relay.presence.OnAny(forward)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := relay.game.Subscribe(ctx); err != nil {
		log.Printf("failed to open game relay for session %s: %v", sessionID, err)
	}
	if err := relay.presence.Subscribe(ctx); err != nil {
		log.Printf("failed to open presence relay for session %s: %v", sessionID, err)
	}

	h.relays[sessionID] = relay
}

// dropRelayLocked closes the session's channels when the last client
// disconnects.
func (h *Hub) dropRelayLocked(sessionID string) {
	relay, ok := h.relays[sessionID]
	if !ok {
		return
	}
	relay.refs--
	if relay.refs > 0 {
		return
	}
	relay.game.Close()
	relay.presence.Close()
	delete(h.relays, sessionID)
}

// broadcastToSession sends a raw frame to every client of the session.
// Callers must not hold h.mutex for writing.
func (h *Hub) broadcastToSession(sessionID string, data []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if client.sessionID != sessionID {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Slow client; the read pump will unregister it.
			log.Printf("client %s send buffer full, dropping frame", client.id)
		}
	}
}

// ConnectedPlayers returns the player ids currently connected for a
// session.
func (h *Hub) ConnectedPlayers(sessionID string) []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var playerIDs []string
	for client := range h.clients {
		if client.sessionID == sessionID {
			playerIDs = append(playerIDs, client.playerID)
		}
	}
	return playerIDs
}

func (h *Hub) RegisterClient(conn *websocket.Conn, sessionID, playerID, nickname string) *WSClient {
	client := &WSClient{
		hub:       h,
		id:        uuid.NewString(),
		socket:    conn,
		send:      make(chan []byte, 256),
		sessionID: sessionID,
		playerID:  playerID,
		nickname:  nickname,
	}

	h.attachPresence(client)
	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

// attachPresence starts tracking the player on the session's presence
// channel. A transport failure degrades to an untracked connection
// instead of refusing it.
func (h *Hub) attachPresence(client *WSClient) {
	presence := h.newPresence(client.sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := presence.Initialize(ctx, client.playerID, client.nickname); err != nil {
		log.Printf("presence tracking for player %s unavailable: %v", client.playerID, err)
		return
	}

	client.presence = presence
}

// detachPresence announces the disconnect to the session and tears the
// tracker down.
func (h *Hub) detachPresence(client *WSClient) {
	if client.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := client.presence.BroadcastDisconnection(ctx, "connection closed"); err != nil {
		log.Printf("failed to announce disconnect for player %s: %v", client.playerID, err)
	}
	cancel()

	client.presence.Cleanup()
	client.presence = nil
}

func (h *Hub) UnregisterClient(client *WSClient) {
	h.unregister <- client
}

// sendStateSnapshot pushes a fresh game-state snapshot to one client.
// This is the self-heal path for clients that missed broadcasts.
func (h *Hub) sendStateSnapshot(client *WSClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state := LoadGameState(ctx, h.db, client.sessionID)
	if state == nil {
		log.Printf("no state snapshot available for session %s", client.sessionID)
		return
	}

	payload, err := json.Marshal(GameStatePayload{SessionID: client.sessionID, State: state})
	if err != nil {
		log.Printf("failed to marshal state snapshot: %v", err)
		return
	}

	env := Envelope{
		Event:     EventGameStateSync,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("failed to marshal snapshot envelope: %v", err)
		return
	}

	select {
	case client.send <- data:
	default:
		log.Printf("client %s send buffer full, dropping snapshot", client.id)
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("error unmarshaling message: %v", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	defer c.socket.Close()

	for message := range c.send {
		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *WSClient) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		response := Message{Type: "pong", Payload: "pong"}
		data, _ := json.Marshal(response)
		select {
		case c.send <- data:
		default:
		}

	case "join_game", "player_ready", "request_game_state":
		// All three want the current snapshot; a late joiner self-heals
		// here rather than relying on broadcast replay.
		c.hub.sendStateSnapshot(c)

	case "leave_game":
		log.Printf("player %s (%s) left session %s", c.playerID, c.nickname, c.sessionID)

	default:
		log.Printf("unknown message type %q from player %s in session %s", msg.Type, c.playerID, c.sessionID)
	}
}
