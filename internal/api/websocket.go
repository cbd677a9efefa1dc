// internal/api/websocket.go
package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/AIDungeonMaster/internal/services"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection is the part of *websocket.Conn the feed uses.
type WebSocketConnection interface {
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient is one connection following a session's events.
type WebSocketClient struct {
	conn      WebSocketConnection
	sessionID string
	events    chan services.GameEvent
	closed    int32
	createdAt time.Time
}

// Close shuts the connection once.
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		client.conn.Close()
	}
}

func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// WebSocketManager tracks live feed connections per session.
type WebSocketManager struct {
	events      *services.EventService
	logger      *utils.Logger
	connections map[string]map[*WebSocketClient]bool
	mutex       sync.RWMutex
}

func NewWebSocketManager(events *services.EventService, logger *utils.Logger) *WebSocketManager {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &WebSocketManager{
		events:      events,
		logger:      logger,
		connections: make(map[string]map[*WebSocketClient]bool),
	}
}

// Attach subscribes conn to a session and pumps events until either side
// goes away. It blocks for the life of the connection.
func (manager *WebSocketManager) Attach(sessionID string, conn WebSocketConnection) {
	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		events:    manager.events.Subscribe(sessionID),
		createdAt: time.Now(),
	}
	manager.register(client)
	defer manager.unregister(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		manager.readLoop(client)
	}()
	manager.writeLoop(client, done)
}

func (manager *WebSocketManager) register(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[*WebSocketClient]bool)
	}
	manager.connections[client.sessionID][client] = true
	manager.logger.Info("websocket client connected", map[string]interface{}{"session_id": client.sessionID})
}

func (manager *WebSocketManager) unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	if conns, ok := manager.connections[client.sessionID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(manager.connections, client.sessionID)
		}
	}
	manager.mutex.Unlock()

	manager.events.Unsubscribe(client.sessionID, client.events)
	client.Close()
	manager.logger.Info("websocket client disconnected", map[string]interface{}{"session_id": client.sessionID})
}

// readLoop only services control frames; client messages are ignored.
func (manager *WebSocketManager) readLoop(client *WebSocketClient) {
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (manager *WebSocketManager) writeLoop(client *WebSocketClient, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-client.events:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// session ended or evicted
				client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := client.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// GetStatus reports connection counts per session.
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	sessions := make(map[string]int, len(manager.connections))
	total := 0
	for id, conns := range manager.connections {
		sessions[id] = len(conns)
		total += len(conns)
	}
	return map[string]interface{}{
		"total_sessions":    len(manager.connections),
		"total_connections": total,
		"sessions":          sessions,
	}
}

// CloseAll drops every connection; used on shutdown.
func (manager *WebSocketManager) CloseAll() {
	manager.mutex.RLock()
	var clients []*WebSocketClient
	for _, conns := range manager.connections {
		for client := range conns {
			clients = append(clients, client)
		}
	}
	manager.mutex.RUnlock()
	for _, client := range clients {
		client.Close()
	}
}
