// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait / 2
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced by corsMiddleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSMessage represents a message sent over WebSocket.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsEnvelope is a marshaled message and the job it concerns.
type wsEnvelope struct {
	jobID string
	data  []byte
}

// WSClient is one connected WebSocket client. A client that sent
// {"subscribe": "<job id>"} only receives messages of that job.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu    sync.Mutex
	jobID string
}

func (c *WSClient) wants(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobID == "" || jobID == "" || c.jobID == jobID
}

// WSHub fans messages out to the connected clients.
type WSHub struct {
	clients    map[*WSClient]struct{}
	broadcast  chan wsEnvelope
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	mu         sync.RWMutex
	log        *slog.Logger
}

// NewWSHub creates a new WebSocket hub. Run must be started for clients
// to receive anything.
func NewWSHub(logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHub{
		clients:    make(map[*WSClient]struct{}),
		broadcast:  make(chan wsEnvelope, wsSendBuffer),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		log:        logger.With("component", "ws"),
	}
}

// Run is the hub's main loop. It returns when ctx is done, disconnecting
// every client.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", "clients", n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(msg.jobID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.log.Debug("client too slow, disconnecting")
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with h.mu held.
func (h *WSHub) drop(c *WSClient) {
	delete(h.clients, c)
	close(c.send)
}

// Broadcast sends a message to all connected clients interested in jobID.
// An empty jobID reaches every client.
func (h *WSHub) Broadcast(msgType, jobID string, data any) {
	b, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		h.log.Warn("marshal message", "type", msgType, "error", err)
		return
	}
	select {
	case h.broadcast <- wsEnvelope{jobID: jobID, data: b}:
	default:
		h.log.Debug("broadcast queue full, dropping message", "type", msgType)
	}
}

// BroadcastJob sends a job update.
func (h *WSHub) BroadcastJob(job *Job) {
	h.Broadcast("job_update", job.ID, job)
}

// BroadcastEvent sends a job event.
func (h *WSHub) BroadcastEvent(event JobEvent) {
	h.Broadcast("event", event.JobID, event)
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the connection, sends the current jobs and
// streams updates until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{conn: conn, send: make(chan []byte, wsSendBuffer), hub: s.wsHub}

	// queued before registering so it is the first message
	if init, err := json.Marshal(WSMessage{
		Type: "init",
		Data: map[string]any{"jobs": s.jobs.ListJobs(), "version": s.config.Version},
	}); err == nil {
		c.send <- init
	}

	select {
	case s.wsHub.register <- c:
	case <-s.wsHub.done:
		conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}

// writeLoop writes queued messages, one frame each, and pings the peer.
func (c *WSClient) writeLoop() {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsCommand is a message a client may send.
type wsCommand struct {
	Subscribe *string `json:"subscribe"`
}

// readLoop handles subscription commands until the connection closes,
// then unregisters the client.
func (c *WSClient) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var cmd wsCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("read error", "error", err)
			}
			return
		}
		if cmd.Subscribe != nil {
			c.mu.Lock()
			c.jobID = *cmd.Subscribe
			c.mu.Unlock()
		}
	}
}
