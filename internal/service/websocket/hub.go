package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"attendance/internal/logger"
)

const (
	writeWait       = 5 * time.Second
	broadcastBuffer = 64
	priorityBuffer  = 16
	// deliverWait bounds how long Deliver waits for room in the priority queue.
	deliverWait     = 2 * writeWait
	dropLogInterval = 10 * time.Second
)

// HubService fans status messages out to every connected viewer.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	priority   chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger

	dropMu      sync.Mutex
	dropped     int
	lastDropLog time.Time
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		priority:   make(chan []byte, priorityBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client. Queued priority messages go out before queued
// broadcasts.
func (h *HubService) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case message := <-h.priority:
			h.send(message)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return nil

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client connected. Total: %d", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client disconnected. Total: %d", count)

		case message := <-h.priority:
			h.send(message)

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *HubService) send(message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending message: %v", err)
			delete(h.clients, client)
			client.Close()
		}
	}
}

// Register adds a viewer. After the hub stopped the connection is closed.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// Broadcast queues message for all clients. It never blocks; when viewers
// fall behind the message is dropped. Use it for messages a later one
// supersedes, such as preview frames.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.noteDrop()
		return false
	}
}

// Deliver queues message ahead of pending broadcasts. It waits up to
// deliverWait for room and fails only if the hub is stopped or stuck.
func (h *HubService) Deliver(message []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.priority <- message:
		return true
	default:
	}

	timer := time.NewTimer(deliverWait)
	defer timer.Stop()

	select {
	case h.priority <- message:
		return true
	case <-h.done:
		return false
	case <-timer.C:
		h.logger.Error("Priority queue full for %s - dropping message", deliverWait)
		return false
	}
}

// noteDrop counts a dropped broadcast and logs at most once per
// dropLogInterval.
func (h *HubService) noteDrop() {
	h.dropMu.Lock()
	defer h.dropMu.Unlock()

	h.dropped++
	now := time.Now()
	if now.Sub(h.lastDropLog) < dropLogInterval {
		return
	}
	h.logger.Warning("Broadcast queue full - dropped %d messages", h.dropped)
	h.dropped = 0
	h.lastDropLog = now
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
