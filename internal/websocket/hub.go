package websocket

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type recruiterVerifier interface {
	ParseRecruiterToken(tokenStr string) (string, error)
}

// Hub fans the live proctoring feed of a session out to every recruiter
// watching it. One pub/sub subscription is held per watched session.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
	cancelFuncs map[uuid.UUID]context.CancelFunc
	auth        recruiterVerifier
	subscribe   func(ctx context.Context, channel string) <-chan string
}

func NewHub(redisClient *redis.Client, auth recruiterVerifier) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*websocket.Conn),
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		auth:        auth,
		subscribe:   redisSubscriber(redisClient),
	}
}

func redisSubscriber(client *redis.Client) func(ctx context.Context, channel string) <-chan string {
	return func(ctx context.Context, channel string) <-chan string {
		out := make(chan string)
		go func() {
			defer close(out)
			pubsub := client.Subscribe(ctx, channel)
			defer pubsub.Close()

			ch := pubsub.Channel()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- msg.Payload:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out
	}
}

// HandleWebSocket upgrades a recruiter connection for ?session_id=. The
// recruiter token is passed as ?token=.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if _, err := h.auth.ParseRecruiterToken(r.URL.Query().Get("token")); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, err := uuid.Parse(r.URL.Query().Get("session_id"))
	if err != nil {
		http.Error(w, "Invalid session_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.registerConnection(sessionID, conn)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(sessionID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (h *Hub) registerConnection(sessionID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[sessionID] = append(h.connections[sessionID], conn)

	// First watcher of this session starts the subscription
	if len(h.connections[sessionID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[sessionID] = cancel
		go h.relay(ctx, sessionID)
	}

	log.Printf("WebSocket connected: session %s (watchers: %d)", sessionID, len(h.connections[sessionID]))
}

func (h *Hub) unregisterConnection(sessionID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	conns := h.connections[sessionID]
	for i, c := range conns {
		if c == conn {
			h.connections[sessionID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.connections[sessionID]) == 0 {
		delete(h.connections, sessionID)
		if cancel, ok := h.cancelFuncs[sessionID]; ok {
			cancel()
			delete(h.cancelFuncs, sessionID)
		}
	}

	log.Printf("WebSocket disconnected: session %s", sessionID)
}

func (h *Hub) relay(ctx context.Context, sessionID uuid.UUID) {
	for payload := range h.subscribe(ctx, channelFor(sessionID)) {
		h.broadcast(sessionID, []byte(payload))
	}
}

func channelFor(sessionID uuid.UUID) string {
	return "session_events:" + sessionID.String()
}

// broadcast is only called from the session's relay goroutine, so each
// connection has a single writer.
func (h *Hub) broadcast(sessionID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[sessionID] {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("WebSocket write to session %s watcher failed: %v", sessionID, err)
		}
	}
}

// Watchers returns the number of open connections for a session.
func (h *Hub) Watchers(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[sessionID])
}

// Close drops every subscription and connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, cancel := range h.cancelFuncs {
		cancel()
		delete(h.cancelFuncs, id)
	}
	for id, conns := range h.connections {
		for _, c := range conns {
			c.Close()
		}
		delete(h.connections, id)
	}
}
