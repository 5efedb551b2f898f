// Package server exposes the PromptPane HTTP and WebSocket surface: speech
// transcript ingestion, answer session control, the display event stream, and
// the usual health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/promptpane/promptpane/internal/observe"
	"github.com/promptpane/promptpane/internal/session"
	"github.com/promptpane/promptpane/internal/transcript"
)

// maxBodyBytes caps request bodies. Image queries carry base64 screenshots,
// so the limit is generous.
const maxBodyBytes = 16 << 20

// ProfileInitializer condenses resume and job description into the candidate
// profile used by in-process answer providers.
type ProfileInitializer interface {
	InitProfile(ctx context.Context, resume, jobDescription string) error
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	coord   *session.Coordinator
	rolling *transcript.Rolling
	hub     *Hub
	metrics *observe.Metrics
	profile ProfileInitializer
	log     *slog.Logger

	checkers []Checker
}

// Option configures a Server.
type Option func(*Server)

// WithProfileInitializer enables the POST /session/init endpoint.
func WithProfileInitializer(p ProfileInitializer) Option {
	return func(s *Server) { s.profile = p }
}

// WithMetrics wires request metrics. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithChecker registers a named readiness check evaluated by GET /readyz.
func WithChecker(name string, check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.checkers = append(s.checkers, Checker{Name: name, Check: check})
	}
}

// New assembles the server around the session coordinator, the rolling
// transcript, and the display hub.
func New(coord *session.Coordinator, rolling *transcript.Rolling, hub *Hub, opts ...Option) *Server {
	s := &Server{
		coord:   coord,
		rolling: rolling,
		hub:     hub,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if hub != nil {
		hub.sessions = s
	}
	return s
}

// Handler returns the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /session/init", s.handleSessionInit)
	mux.HandleFunc("POST /stt/push", s.handleSTTPush)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /ws/display", s.handleDisplay)

	return observe.Middleware(s.metrics)(mux)
}

// pushRequest is the body of POST /stt/push.
type pushRequest struct {
	// Text is one speech-to-text fragment, possibly overlapping the
	// previous one.
	Text string `json:"text"`
}

type pushResponse struct {
	Accepted   bool   `json:"accepted"`
	Transcript string `json:"transcript"`
}

// handleSTTPush folds one STT fragment into the rolling transcript.
func (s *Server) handleSTTPush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	merged, accepted := s.rolling.Append(req.Text)
	if accepted {
		s.metrics.RecordTranscriptSegment(r.Context(), len(merged))
	}
	writeJSON(w, http.StatusOK, pushResponse{Accepted: accepted, Transcript: merged})
}

// askRequest is the shared session-request shape, accepted both as the body
// of POST /ask and as an ask/vision message on the display socket. All fields
// are optional: transcript and question default to the server's rolling
// buffer.
type askRequest struct {
	// Transcript overrides the rolling transcript. Clients that track their
	// own transcript supply it here; starting a session clears the server's
	// rolling buffer, so a client-held transcript is the only way a request
	// can reach the busy gate while another session streams.
	Transcript string `json:"transcript,omitempty"`

	// CleanedQuestion overrides the transcript-derived question.
	CleanedQuestion string `json:"cleanedQuestion,omitempty"`

	// ImageB64 routes the query to the vision provider.
	ImageB64 string `json:"image_b64,omitempty"`

	// Metadata is forwarded to the answer provider.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// startSession resolves the request against the rolling buffer and asks the
// coordinator for a session. Used by POST /ask and by display-socket ask and
// vision messages.
func (s *Server) startSession(ctx context.Context, req askRequest) session.StartResult {
	tr := req.Transcript
	if tr == "" {
		tr = s.rolling.Snapshot()
	}
	question := req.CleanedQuestion
	if question == "" {
		question = transcript.BuildCleanedQuestion(tr)
	}

	return s.coord.Start(ctx, session.StartRequest{
		Transcript: tr,
		Question:   question,
		ImageB64:   req.ImageB64,
		Metadata:   req.Metadata,
	})
}

// handleAsk starts an answer session from the request body, falling back to
// the current transcript state.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if r.ContentLength != 0 {
		if !s.decodeBody(w, r, &req) {
			return
		}
	}

	result := s.startSession(r.Context(), req)
	writeJSON(w, askStatusCode(result.Status), result)
}

// askStatusCode maps a session start status to an HTTP status. Rejections are
// part of normal operation, so they map to client errors rather than 500s.
func askStatusCode(status string) int {
	switch status {
	case session.StatusStarted:
		return http.StatusOK
	case session.StatusBusy:
		return http.StatusConflict
	case session.StatusEmpty, session.StatusInvalidQuestion:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

// initRequest is the body of POST /session/init.
type initRequest struct {
	Resume         string `json:"resume"`
	JobDescription string `json:"job_description"`
}

// handleSessionInit rebuilds the candidate profile.
func (s *Server) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	if s.profile == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{
			"error": "configured answer provider does not support profiles",
		})
		return
	}

	var req initRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	if err := s.profile.InitProfile(ctx, req.Resume, req.JobDescription); err != nil {
		s.log.Error("profile init failed", "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDisplay upgrades to a WebSocket and streams display events until the
// client disconnects.
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("display upgrade failed", "err", err)
		return
	}
	s.hub.Serve(r.Context(), conn)
}

// decodeBody parses the JSON request body into v, writing a 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed JSON body"})
		return false
	}
	return true
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
