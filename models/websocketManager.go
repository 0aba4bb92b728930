package models

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// JobUpdate is the message pushed to websocket subscribers on every state change
type JobUpdate struct {
	Type        string    `json:"type"`
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	State       JobState  `json:"state"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}

// NewJobUpdate snapshots the fields of job that subscribers care about.
func NewJobUpdate(job *Job) JobUpdate {
	update := JobUpdate{
		Type:      "job_update",
		JobID:     job.ID,
		Status:    job.Status,
		State:     job.State,
		Timestamp: job.UpdatedAt.UnixMilli(),
	}
	if job.Status == StatusFailed {
		update.FailedStage = job.FailedStage
		update.Error = job.ErrorMessage
	}
	return update
}

// WebSocketManager handles WebSocket connections and broadcasts
type WebSocketManager struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Start begins the WebSocket manager
func (wsm *WebSocketManager) Start() {
	go func() {
		for {
			select {
			case <-wsm.done:
				wsm.mu.Lock()
				for client := range wsm.clients {
					client.Close()
					delete(wsm.clients, client)
				}
				wsm.mu.Unlock()
				return
			case client := <-wsm.register:
				wsm.mu.Lock()
				wsm.clients[client] = true
				total := len(wsm.clients)
				wsm.mu.Unlock()
				log.Debug().Int("clients", total).Msg("WebSocket client connected")
			case client := <-wsm.unregister:
				wsm.mu.Lock()
				if _, ok := wsm.clients[client]; ok {
					delete(wsm.clients, client)
					client.Close()
				}
				remaining := len(wsm.clients)
				wsm.mu.Unlock()
				log.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
			case message := <-wsm.broadcast:
				wsm.mu.Lock()
				for client := range wsm.clients {
					if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
						log.Warn().Err(err).Msg("Error sending message to client")
						client.Close()
						delete(wsm.clients, client)
					}
				}
				wsm.mu.Unlock()
			}
		}
	}()
}

// Stop closes every client and ends the broadcast loop.
func (wsm *WebSocketManager) Stop() {
	wsm.stopOnce.Do(func() { close(wsm.done) })
}

// BroadcastJobUpdate sends a job update to all connected clients.
// Updates are dropped rather than blocking the caller when the buffer is full.
func (wsm *WebSocketManager) BroadcastJobUpdate(update JobUpdate) {
	jsonData, err := json.Marshal(update)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal job update")
		return
	}

	select {
	case wsm.broadcast <- jsonData:
	default:
		log.Warn().Str("jobId", update.JobID).Msg("WebSocket broadcast buffer full, dropping update")
	}
}

// ClientCount returns the number of connected clients
func (wsm *WebSocketManager) ClientCount() int {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()
	return len(wsm.clients)
}

// RegisterClient registers a new WebSocket client
func (wsm *WebSocketManager) RegisterClient(conn *websocket.Conn) {
	select {
	case wsm.register <- conn:
	case <-wsm.done:
		conn.Close()
	}
}

// UnregisterClient unregisters a WebSocket client
func (wsm *WebSocketManager) UnregisterClient(conn *websocket.Conn) {
	select {
	case wsm.unregister <- conn:
	case <-wsm.done:
	}
}
