package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
)

// Client is one open event-stream connection. ConnID identifies it for
// presence tracking and broadcast exclusion.
type Client struct {
	ConnID   string
	UserID   uuid.UUID
	Channels map[string]bool
	Outbound chan realtime.Message
	done     chan struct{}
}

type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
	byConn        map[string]*Client
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "SSEHub"),
		subscriptions: make(map[string]map[*Client]bool),
		byConn:        make(map[string]*Client),
	}
}

func (hub *Hub) NewClient(userID uuid.UUID) *Client {
	c := &Client{
		ConnID:   uuid.New().String(),
		UserID:   userID,
		Channels: make(map[string]bool),
		Outbound: make(chan realtime.Message, 32),
		done:     make(chan struct{}),
	}
	hub.mu.Lock()
	hub.byConn[c.ConnID] = c
	hub.mu.Unlock()
	return c
}

func (hub *Hub) AddChannel(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	client.Channels[channel] = true
	clients, exists := hub.subscriptions[channel]
	if !exists {
		clients = make(map[*Client]bool)
		hub.subscriptions[channel] = clients
	}
	clients[client] = true

	hub.log.Debug("SSE client subscribed", "conn_id", client.ConnID, "channel", channel)
}

func (hub *Hub) RemoveClient(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for ch := range client.Channels {
		if subMap, ok := hub.subscriptions[ch]; ok {
			delete(subMap, client)
			if len(subMap) == 0 {
				delete(hub.subscriptions, ch)
			}
		}
	}
	client.Channels = make(map[string]bool)
	delete(hub.byConn, client.ConnID)
}

// Broadcast delivers msg to every client subscribed to the workspace channel,
// skipping msg.ExcludeConn when set. Slow clients are dropped rather than
// blocking the caller.
func (hub *Hub) Broadcast(msg realtime.Message) {
	if msg.WorkspaceID == "" {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	clientsMap, ok := hub.subscriptions[msg.WorkspaceID]
	if !ok {
		return
	}
	for c := range clientsMap {
		if msg.ExcludeConn != "" && c.ConnID == msg.ExcludeConn {
			continue
		}
		select {
		case c.Outbound <- msg:
		default:
			hub.log.Warn("Dropping broadcast; outbound buffer full", "conn_id", c.ConnID)
		}
	}
}

// SendTo delivers msg to a single connection.
func (hub *Hub) SendTo(connID string, msg realtime.Message) {
	hub.mu.RLock()
	c := hub.byConn[connID]
	hub.mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case c.Outbound <- msg:
	default:
		hub.log.Warn("Dropping direct message; outbound buffer full", "conn_id", connID)
	}
}

func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			hub.log.Debug("SSE client context done", "conn_id", client.ConnID, "err", ctx.Err())
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg := <-client.Outbound:
			jsonBytes, err := json.Marshal(msg)
			if err != nil {
				hub.log.Warn("Failed to marshal broadcast message", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", string(jsonBytes))
			flusher.Flush()
		}
	}
}

func (hub *Hub) CloseClient(client *Client) {
	close(client.done)
	hub.RemoveClient(client)
	close(client.Outbound)
}
