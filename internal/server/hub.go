package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/promptpane/promptpane/internal/observe"
	"github.com/promptpane/promptpane/internal/session"
)

// writeTimeout bounds a single WebSocket write to a display client.
const writeTimeout = 5 * time.Second

// clientBuffer is the per-client outbound queue length. When a client falls
// this far behind, further events are dropped for that client rather than
// stalling the session event loop.
const clientBuffer = 64

// displayMessage is the wire shape sent to display clients.
type displayMessage struct {
	Type      string `json:"type"`
	SessionID uint64 `json:"session_id"`
	Chunk     string `json:"chunk,omitempty"`
	Text      string `json:"text,omitempty"`
	Reset     bool   `json:"reset,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// displayRequest is the wire shape display clients send on the socket. Type
// selects the operation ("ask" for text questions, "vision" for screen-image
// questions); the remaining fields mirror the POST /ask body.
type displayRequest struct {
	Type string `json:"type"`
	askRequest
}

// sessionStarter is what the hub needs from the server to serve inbound
// ask/vision requests. Wired by [New]; nil on a standalone hub.
type sessionStarter interface {
	startSession(ctx context.Context, req askRequest) session.StartResult
}

// Hub fans session display events out to connected WebSocket clients. It
// implements [session.Sink]: every sink callback marshals one message and
// queues it on each client without blocking.
type Hub struct {
	log      *slog.Logger
	metrics  *observe.Metrics
	sessions sessionStarter

	mu      sync.Mutex
	clients map[string]chan []byte
}

var _ session.Sink = (*Hub)(nil)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger. Defaults to slog.Default().
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

// WithHubMetrics wires the connected-client gauge.
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		log:     slog.Default(),
		clients: make(map[string]chan []byte),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Serve registers conn as a display client and pumps queued messages to it
// until the client disconnects or ctx is cancelled. It blocks for the
// lifetime of the connection.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	id := uuid.NewString()
	send := make(chan []byte, clientBuffer)

	h.mu.Lock()
	h.clients[id] = send
	n := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.DisplayClients.Add(ctx, 1)
	}
	h.log.Info("display client connected", "client_id", id, "clients", n)

	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.DisplayClients.Add(context.Background(), -1)
		}
		h.log.Info("display client disconnected", "client_id", id)
	}()

	// The read side doubles as both the disconnect signal and the inbound
	// request channel: display clients submit ask/vision requests on the
	// same socket they receive events on.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			h.handleRequest(ctx, id, data, send)
		}
	}()

	for {
		select {
		case <-readDone:
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

// handleRequest dispatches one inbound client message. The start result goes
// back to the requesting client only, as a session_status message; session
// events themselves arrive through the usual broadcast path. Malformed or
// unknown messages are logged and dropped, never fatal to the connection.
func (h *Hub) handleRequest(ctx context.Context, clientID string, data []byte, send chan []byte) {
	var req displayRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.log.Warn("malformed display request", "client_id", clientID, "err", err)
		return
	}

	switch req.Type {
	case "ask", "vision":
	default:
		h.log.Debug("unknown display request type", "client_id", clientID, "type", req.Type)
		return
	}
	if req.Type == "vision" && req.ImageB64 == "" {
		h.reply(clientID, send, displayMessage{Type: "session_status", Status: session.StatusError, Error: "vision request without image"})
		return
	}
	if h.sessions == nil {
		h.reply(clientID, send, displayMessage{Type: "session_status", Status: session.StatusError, Error: "session requests not available"})
		return
	}

	result := h.sessions.startSession(ctx, req.askRequest)
	h.reply(clientID, send, displayMessage{
		Type:      "session_status",
		SessionID: result.SessionID,
		Status:    result.Status,
		Error:     result.Message,
	})
}

// reply queues msg for a single client, dropping it when the client lags.
func (h *Hub) reply(clientID string, send chan []byte, msg displayMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal display message", "err", err)
		return
	}
	select {
	case send <- data:
	default:
		h.log.Debug("display client lagging, dropping reply", "client_id", clientID, "type", msg.Type)
	}
}

// ClientCount returns the number of connected display clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast queues msg for every client. Clients whose buffer is full miss
// this message; the next answer_stream event carries the full text again, so
// a dropped chunk self-heals.
func (h *Hub) broadcast(msg displayMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal display message", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, send := range h.clients {
		select {
		case send <- data:
		default:
			h.log.Debug("display client lagging, dropping message", "client_id", id, "type", msg.Type)
		}
	}
}

// OnQuestionStream implements session.Sink.
func (h *Hub) OnQuestionStream(ev session.QuestionStream) {
	h.broadcast(displayMessage{
		Type:      "question_stream",
		SessionID: ev.SessionID,
		Chunk:     ev.Chunk,
		Reset:     ev.Reset,
	})
}

// OnQuestionComplete implements session.Sink.
func (h *Hub) OnQuestionComplete(ev session.QuestionComplete) {
	h.broadcast(displayMessage{
		Type:      "question_complete",
		SessionID: ev.SessionID,
		Reset:     ev.Reset,
	})
}

// OnAnswerStream implements session.Sink.
func (h *Hub) OnAnswerStream(ev session.AnswerStream) {
	h.broadcast(displayMessage{
		Type:      "answer_stream",
		SessionID: ev.SessionID,
		Text:      ev.Text,
	})
}

// OnAnswerComplete implements session.Sink.
func (h *Hub) OnAnswerComplete(ev session.AnswerComplete) {
	h.broadcast(displayMessage{
		Type:      "answer_complete",
		SessionID: ev.SessionID,
		Status:    ev.Status,
		Error:     ev.Error,
	})
}
