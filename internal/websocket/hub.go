package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/matrixai/api/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to job subscribers
	broadcast chan *BroadcastMessage

	done chan struct{}
	mu   sync.RWMutex
	log  zerolog.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws_hub").Logger(),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("job_id", client.JobID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			h.log.Debug().Str("job_id", client.JobID).Msg("client unregistered")

		case msg := <-h.broadcast:
			// slow clients are dropped, which mutates the map
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends the main loop
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.Send)
		if len(clients) == 0 {
			delete(h.clients, client.JobID)
		}
	}
}

// Subscribers returns the number of clients watching jobID
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Reply queues data for a single client. It reports false once the client
// has been dropped, since its Send channel is closed by then.
func (h *Hub) Reply(client *Client, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client.JobID][client] {
		return false
	}
	select {
	case client.Send <- data:
		return true
	default:
		h.removeLocked(client)
		return false
	}
}

// BroadcastJob sends the message matching the job's current state
func (h *Hub) BroadcastJob(job *model.Job) {
	switch job.Status {
	case model.JobStatusCompleted:
		resultURL := ""
		if job.ResultURL != nil {
			resultURL = *job.ResultURL
		}
		h.BroadcastComplete(job.ID, resultURL)
	case model.JobStatusFailed:
		code, message := model.JobErrorExternalFailure, "job failed"
		if job.Error != nil {
			code, message = job.Error.Code, job.Error.Message
		}
		h.BroadcastError(job.ID, code, message)
	default:
		h.BroadcastStatus(job.ID, job.Status)
	}
}

// BroadcastStatus sends a status transition to all job subscribers
func (h *Hub) BroadcastStatus(jobID string, status model.JobStatus) {
	h.send(jobID, model.WSStatusMessage{
		Type:   model.WSMessageTypeStatus,
		JobID:  jobID,
		Status: status,
	})
}

// BroadcastComplete sends a completion message to all job subscribers
func (h *Hub) BroadcastComplete(jobID, resultURL string) {
	h.send(jobID, model.WSCompleteMessage{
		Type:      model.WSMessageTypeComplete,
		JobID:     jobID,
		ResultURL: resultURL,
	})
}

// BroadcastError sends an error message to all job subscribers
func (h *Hub) BroadcastError(jobID string, code, message string) {
	h.send(jobID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

func (h *Hub) send(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("failed to marshal ws message")
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	default:
		h.log.Warn().Str("job_id", jobID).Msg("broadcast queue full, message dropped")
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("job_id", jobID).Msg("websocket error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			if !h.Reply(client, data) {
				// dropped as a slow client; the writer has already closed the connection
				break
			}
		}
	}
}
