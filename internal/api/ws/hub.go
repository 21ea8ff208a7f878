// Package ws fans engine events out to connected host observers over
// websockets: transcription progress and segments, download progress, media
// pipeline progress, and recovery notifications.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vodscribe/corekit/internal/domain"
)

type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the client set and the broadcast fan-out loop.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHub builds a Hub; Run must be started on its own goroutine.
func NewHub(logger *slog.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Run drains registration and broadcast channels until Close.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				_ = c.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				close(c.send)
				delete(h.clients, c)
			}
			h.logger.Debug("ws hub stopped, all clients disconnected")
			return
		case c := <-h.register:
			h.clients[c] = true
			h.logger.Debug("ws client connected", slog.Int("total", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("ws client disconnected", slog.Int("total", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// Close signals the hub to stop and disconnect all clients.
func (h *Hub) Close() {
	close(h.done)
}

// ServeHTTP upgrades the request and attaches the client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 32)}
	h.register <- c
	go c.writeLoop()
	go c.readLoop()
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) readLoop() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) publish(msgType string, data any) {
	msg := message{Type: msgType, Data: data}
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		h.logger.Warn("ws broadcast dropped, channel full", slog.String("type", msgType))
	}
}

// The typed publish surface the engine observers call.

func (h *Hub) TranscriptionProgress(taskID string, pct int) {
	h.publish("transcription_progress", map[string]any{"taskId": taskID, "percent": pct})
}

func (h *Hub) TranscriptionCompleted(taskID string, result domain.TranscriptionResult) {
	h.publish("transcription_completed", map[string]any{
		"taskId":       taskID,
		"language":     result.Language,
		"segmentCount": len(result.Segments),
		"processingMs": result.ProcessingTimeMs,
	})
}

func (h *Hub) TranscriptionFailed(taskID string, kind domain.TranscriptionErrorKind) {
	h.publish("transcription_failed", map[string]any{"taskId": taskID, "kind": kind.String()})
}

func (h *Hub) SegmentEmitted(sessionID string, seg domain.TranscriptionSegment) {
	h.publish("realtime_segment", map[string]any{
		"sessionId": sessionID,
		"startMs":   seg.StartTimeMs,
		"endMs":     seg.EndTimeMs,
		"text":      seg.Text,
	})
}

func (h *Hub) DownloadProgress(id string, received, total int64, speedBps float64) {
	h.publish("download_progress", map[string]any{
		"id": id, "received": received, "total": total, "speedBps": speedBps,
	})
}

func (h *Hub) DownloadFinished(id, status string) {
	h.publish("download_finished", map[string]any{"id": id, "status": status})
}

func (h *Hub) MediaProgress(ev domain.ProgressEvent) {
	h.publish("media_progress", map[string]any{
		"operationId":     ev.OperationID,
		"processedFrames": ev.ProcessedFrames,
		"totalFrames":     ev.TotalFrames,
		"fps":             ev.CurrentFPS,
		"elapsedMs":       ev.Elapsed.Milliseconds(),
		"remainingMs":     ev.EstimatedRemaining.Milliseconds(),
	})
}

func (h *Hub) MediaFinished(operationID, outcome string) {
	h.publish("media_finished", map[string]any{"operationId": operationID, "outcome": outcome})
}

func (h *Hub) RecoveryEvent(eventType, component string, healthy bool) {
	h.publish("recovery_event", map[string]any{
		"event": eventType, "component": component, "healthy": healthy,
	})
}
