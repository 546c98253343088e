package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// configUpdatedEvent is the text frame the admin UI listens for; it
// refetches whatever section it is showing when one arrives.
const configUpdatedEvent = "config_updated"

const clientWriteTimeout = 10 * time.Second

// Notifier is the websocket hub behind /ws/config-updates. It pushes a
// text frame to every connected client after each configuration change.
// The feed is one-way; inbound frames are drained and discarded.
type Notifier struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*wsClient
	closed  bool
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes to the connection
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// NewNotifier creates an empty hub.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The admin UI is served from arbitrary origins on a LAN.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		logger:  logger.With("component", "config-notifier"),
		clients: make(map[string]*wsClient),
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (n *Notifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		n.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{id: uuid.NewString(), conn: conn}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		_ = conn.Close()
		return
	}
	n.clients[client.id] = client
	n.mu.Unlock()

	n.logger.Debug("websocket client connected", "client_id", client.id)
	go n.readLoop(client)
}

// readLoop drains inbound frames so close handshakes are seen promptly.
func (n *Notifier) readLoop(client *wsClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			n.drop(client)
			return
		}
	}
}

// Broadcast sends a text frame to every client, dropping the ones whose
// connection has gone bad.
func (n *Notifier) Broadcast(event string) {
	n.mu.Lock()
	targets := make([]*wsClient, 0, len(n.clients))
	for _, client := range n.clients {
		targets = append(targets, client)
	}
	n.mu.Unlock()

	data := []byte(event)
	for _, client := range targets {
		if err := client.write(websocket.TextMessage, data); err != nil {
			n.logger.Warn("dropping websocket client", "client_id", client.id, "error", err)
			n.drop(client)
		}
	}
}

// ClientCount reports connected clients.
func (n *Notifier) ClientCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// Close disconnects every client and rejects new ones.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	targets := make([]*wsClient, 0, len(n.clients))
	for _, client := range n.clients {
		targets = append(targets, client)
	}
	n.clients = make(map[string]*wsClient)
	n.mu.Unlock()

	message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	for _, client := range targets {
		_ = client.write(websocket.CloseMessage, message)
		_ = client.conn.Close()
	}
}

func (n *Notifier) drop(client *wsClient) {
	n.mu.Lock()
	_, present := n.clients[client.id]
	delete(n.clients, client.id)
	n.mu.Unlock()

	_ = client.conn.Close()
	if present {
		n.logger.Debug("websocket client disconnected", "client_id", client.id)
	}
}
