package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket hub limits
const (
	MaxWebSocketClients   = 100
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongTimeout  = 60 * time.Second
	WebSocketPingInterval = 30 * time.Second
)

// FeedMessage is the envelope for every event-feed broadcast.
type FeedMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// feedClient is one connected WebSocket subscriber.
type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// EventFeedService pushes newly scraped events and analysis results to
// connected chart pages over WebSocket.
type EventFeedService struct {
	clients    map[*feedClient]bool
	broadcast  chan FeedMessage
	register   chan *feedClient
	unregister chan *feedClient
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// GlobalEventFeed is the process-wide event feed hub.
var GlobalEventFeed *EventFeedService

// InitEventFeed initializes the event feed hub and starts its run loop.
func InitEventFeed() {
	GlobalEventFeed = &EventFeedService{
		clients:    make(map[*feedClient]bool),
		broadcast:  make(chan FeedMessage, 256),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	go GlobalEventFeed.run()
	log.Println("Event feed service initialized")
}

// Shutdown closes all client connections and stops the hub.
func (s *EventFeedService) Shutdown() {
	close(s.shutdown)

	s.mu.Lock()
	for client := range s.clients {
		close(client.send)
		client.conn.Close()
	}
	s.clients = make(map[*feedClient]bool)
	s.mu.Unlock()

	log.Println("Event feed service shutdown complete")
}

func (s *EventFeedService) run() {
	for {
		select {
		case <-s.shutdown:
			return

		case client := <-s.register:
			s.mu.Lock()
			if len(s.clients) >= MaxWebSocketClients {
				s.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("WebSocket client rejected: max clients reached (%d)", MaxWebSocketClients)
				continue
			}
			s.clients[client] = true
			count := len(s.clients)
			s.mu.Unlock()
			log.Printf("Event feed client connected. Total clients: %d", count)

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
			count := len(s.clients)
			s.mu.Unlock()
			log.Printf("Event feed client disconnected. Total clients: %d", count)

		case message := <-s.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("Error marshaling broadcast message: %v", err)
				continue
			}

			s.mu.Lock()
			var dead []*feedClient
			for client := range s.clients {
				select {
				case client.send <- data:
				default:
					// buffer full, drop the client
					dead = append(dead, client)
				}
			}
			for _, client := range dead {
				delete(s.clients, client)
				close(client.send)
			}
			s.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades the request and registers the client.
func (s *EventFeedService) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	atCapacity := len(s.clients) >= MaxWebSocketClients
	s.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &feedClient{
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case s.register <- client:
	case <-s.shutdown:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(s)
}

// deregister hands the client back to the hub. Once the hub has shut down
// nothing drains the unregister channel, so bail out instead of blocking.
func (s *EventFeedService) deregister(c *feedClient) {
	select {
	case s.unregister <- c:
	case <-s.shutdown:
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services pings; the feed is one-way.
func (c *feedClient) readPump(s *EventFeedService) {
	defer func() {
		s.deregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}
	}
}

// BroadcastMessage pushes a message to all connected clients.
func (s *EventFeedService) BroadcastMessage(msgType string, data interface{}) {
	select {
	case s.broadcast <- FeedMessage{
		Type: msgType,
		Data: data,
		Time: time.Now().Format(time.RFC3339),
	}:
	default:
		log.Println("Event feed broadcast buffer full, message dropped")
	}
}

// GetClientCount returns the number of connected clients.
func (s *EventFeedService) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// GetStatus returns hub status info.
func (s *EventFeedService) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"client_count": len(s.clients),
		"max_clients":  MaxWebSocketClients,
	}
}
