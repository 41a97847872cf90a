package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/zispr/zispr-server/cmd/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	EventMessage      = "message"
	EventNotification = "notification"
	EventEngagement   = "engagement"
)

// Event is the envelope pushed to connected sessions. Payload is whatever
// the producing service wants the client to see.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type client struct {
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks every open session per user. The same user may hold several
// connections (multiple tabs); pushes go to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string][]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string][]*client)}
}

func (h *Hub) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", utils.AuthMiddleware(h.handleConnection))
}

func (h *Hub) handleConnection(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{userID: userID, conn: conn}
	h.register(c)
	go h.readLoop(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.userID] = append(h.clients[c.userID], c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.clients[c.userID]
	for i, existing := range conns {
		if existing == c {
			h.clients[c.userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.clients[c.userID]) == 0 {
		delete(h.clients, c.userID)
	}
}

// readLoop drains the connection until it closes. Clients only listen;
// inbound frames are ignored.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				utils.Logger.Debugw("websocket closed", "user", c.userID, "error", err)
			}
			return
		}
	}
}

// Push delivers an event to every open session of userID. Delivery is best
// effort: a session that cannot be written to is dropped, never retried.
func (h *Hub) Push(userID string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		utils.Logger.Warnw("marshal ws event", "error", err)
		return
	}

	h.mu.RLock()
	conns := append([]*client(nil), h.clients[userID]...)
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.send(data); err != nil {
			h.unregister(c)
			c.conn.Close()
		}
	}
}
