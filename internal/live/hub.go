package live

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
)

// Update is one live progress message pushed to a user's sockets.
type Update struct {
	JobID                  string                   `json:"jobId"`
	Status                 domain.JobStatus         `json:"status"`
	Progress               int                      `json:"progress"`
	Message                string                   `json:"message,omitempty"`
	Timestamp              time.Time                `json:"timestamp"`
	EstimatedTimeRemaining *int                     `json:"estimatedTimeRemaining,omitempty"`
	Result                 *domain.GenerationResult `json:"result,omitempty"`
}

const (
	writeWait     = 10 * time.Second
	clientBacklog = 32
)

type client struct {
	conn *websocket.Conn
	send chan Update
}

// Hub fans live updates out to the websocket connections of each user.
// Delivery is strictly best-effort: a send never blocks the caller, slow
// consumers drop messages, and failures must never affect the job that
// produced the update.
type Hub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// ServeWS upgrades the request and registers the connection under userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("live: websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan Update, clientBacklog)}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(userID, c)
	go h.readPump(userID, c)
}

// Broadcast queues the update for every socket of the user. It never
// blocks and never returns an error; delivery problems are logged inside
// the write pump.
func (h *Hub) Broadcast(userID string, update Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- update:
		default:
			// Slow consumer: drop rather than stall the pipeline.
		}
	}
}

func (h *Hub) writePump(userID string, c *client) {
	defer h.drop(userID, c)
	for update := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(update); err != nil {
			h.logger.Debug().Err(err).Str("user_id", userID).Msg("live: write failed, dropping client")
			return
		}
	}
}

// readPump discards inbound frames; its job is to notice closed peers.
func (h *Hub) readPump(userID string, c *client) {
	defer h.drop(userID, c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(userID string, c *client) {
	h.mu.Lock()
	if set, ok := h.clients[userID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.clients, userID)
			}
		}
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}
