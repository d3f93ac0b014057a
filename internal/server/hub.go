package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/notify"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	clientBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// Hub pushes notify bus events to every connected websocket client.
// Slow clients miss messages rather than stall the bus.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	logger  *zap.Logger
	wg      sync.WaitGroup
	done    chan struct{}
	stop    sync.Once
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*wsClient),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Attach forwards every bus event to the connected clients.
func (h *Hub) Attach(bus *notify.Bus) func() {
	return bus.Subscribe(func(ev notify.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Warn("Failed to marshal bus event", zap.String("kind", string(ev.Kind)), zap.Error(err))
			return
		}
		h.Broadcast(data)
	})
}

func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("Dropping message for slow websocket client", zap.String("client_id", c.id))
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, clientBufferSize),
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		conn.Close()
		return
	default:
	}
	h.clients[c.id] = c
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Debug("WebSocket client connected", zap.String("client_id", c.id))

	go h.writePump(c)
	go h.readPump(c)
}

// Close disconnects every client and waits for their pumps to exit.
func (h *Hub) Close() {
	h.stop.Do(func() { close(h.done) })

	h.mu.Lock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
	h.mu.Unlock()

	h.wg.Wait()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

// readPump discards inbound messages; it exists to notice disconnects and
// answer pings.
func (h *Hub) readPump(c *wsClient) {
	defer h.wg.Done()
	defer h.unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	defer h.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		case <-c.closed:
			return
		}
	}
}
