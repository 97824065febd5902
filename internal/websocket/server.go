// Package websocket pushes dataset refresh events to connected browsers.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/aemet-connector/internal/aemet"
	"github.com/yegors/aemet-connector/pkg/logger"
)

// Message types
const (
	MessageTypeDatasetRefreshed = "dataset_refreshed"
	MessageTypeDatasetFailed    = "dataset_failed"
	MessageTypeSubscribe        = "subscribe" // client narrows the datasets it receives
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Client represents a WebSocket client
type Client struct {
	conn     *websocket.Conn
	send     chan *Message
	server   *Server
	mu       sync.Mutex
	closed   bool
	datasets map[aemet.DatasetKind]bool // empty means every dataset
}

// Server fans messages out to every registered client
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	done       chan struct{}
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewServer creates a new WebSocket server. allowedOrigins of ["*"] or empty accepts any origin.
func NewServer(allowedOrigins []string, log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, sendBuffer),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: log.Named("web-socket"),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Run dispatches registrations and broadcasts until ctx is done
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("Starting WebSocket server")
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				delete(s.clients, client)
				client.shutdown()
			}
			s.mu.Unlock()
			s.logger.Info("WebSocket server stopped")
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", count))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.shutdown()
			}
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", count))

		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				if !client.wants(message) {
					continue
				}
				select {
				case client.send <- message:
				default:
					// Slow consumer
					delete(s.clients, client)
					client.shutdown()
				}
			}
			s.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleConnection upgrades the request and starts the client pumps
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	s.logger.Debug("WebSocket connection established",
		logger.String("remote_addr", r.RemoteAddr))

	client := &Client{
		conn:   conn,
		send:   make(chan *Message, sendBuffer),
		server: s,
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// Broadcast queues a message for every interested client. It never blocks;
// when the queue is full the message is dropped.
func (s *Server) Broadcast(message *Message) {
	select {
	case s.broadcast <- message:
		s.logger.Debug("Broadcasting message", logger.String("message_type", message.Type))
	default:
		s.logger.Warn("Broadcast queue full, dropping message", logger.String("message_type", message.Type))
	}
}

// shutdown closes the send channel once; the write pump then closes the connection
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// wants reports whether the client subscribed to the dataset of message.
// Events whose dataset is not a known kind reach every client.
func (c *Client) wants(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.datasets) == 0 {
		return true
	}
	name, _ := message.Data["dataset"].(string)
	kind, err := aemet.ParseDatasetKind(name)
	if err != nil {
		return true
	}
	return c.datasets[kind]
}

// subscribe replaces the client's dataset filter. English names and Spanish
// wire names are both accepted; unknown names are ignored.
func (c *Client) subscribe(data map[string]any) {
	datasets := make(map[aemet.DatasetKind]bool)
	if list, ok := data["datasets"].([]any); ok {
		for _, d := range list {
			name, _ := d.(string)
			kind, err := aemet.ParseDatasetKind(name)
			if err != nil {
				c.server.logger.Debug("Ignoring unknown dataset in subscription", logger.String("dataset", name))
				continue
			}
			datasets[kind] = true
		}
	}

	c.mu.Lock()
	c.datasets = datasets
	c.mu.Unlock()
}

// readPump consumes client messages until the connection fails
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", logger.Error(err))
			}
			return
		}

		var message Message
		if err := json.Unmarshal(raw, &message); err != nil {
			c.server.logger.Warn("Failed to parse WebSocket message", logger.Error(err))
			continue
		}

		switch message.Type {
		case MessageTypeSubscribe:
			c.subscribe(message.Data)
			c.server.logger.Debug("Client subscription updated",
				logger.String("client", c.conn.RemoteAddr().String()))
		default:
			c.server.logger.Debug("Ignoring WebSocket message", logger.String("type", message.Type))
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(message); err != nil {
			c.server.logger.Debug("WebSocket write failed", logger.Error(err))
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
