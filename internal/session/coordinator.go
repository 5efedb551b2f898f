// Package session coordinates single-flight streaming answer sessions.
//
// The coordinator owns the session state machine (Idle → Opening → Streaming
// → Completed/Failed), enforces that at most one non-terminal session exists,
// tags every relay event with a monotonic session id, and drops frames from
// superseded sessions. The rolling transcript is paused for the lifetime of a
// session and resumed on finalization, so audio captured while an answer
// streams never dilutes the frozen question.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptpane/promptpane/internal/answer"
	"github.com/promptpane/promptpane/internal/transcript"
	"github.com/promptpane/promptpane/pkg/memory"
	answerprov "github.com/promptpane/promptpane/pkg/provider/answer"
)

// State is the lifecycle phase of the current session.
type State int

const (
	// Idle means no session has been started yet, or the last one finished.
	Idle State = iota
	// Opening means a session id has been assigned and the transport
	// handshake is in flight.
	Opening
	// Streaming means the question payload was sent and frames are being
	// consumed.
	Streaming
	// Completed is the terminal success state.
	Completed
	// Failed is the terminal failure state.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether a new session may be started from s.
func (s State) terminal() bool {
	return s == Idle || s == Completed || s == Failed
}

// Start statuses returned to the display layer.
const (
	StatusStarted         = "started"
	StatusEmpty           = "empty"
	StatusInvalidQuestion = "invalid-question"
	StatusBusy            = "busy"
	StatusError           = "error"
)

var (
	// ErrBusy is returned when a session is already in flight.
	ErrBusy = errors.New("session: already in flight")

	// ErrNoTransport is returned when no answer provider is configured for
	// the requested query type.
	ErrNoTransport = errors.New("session: no transport available")
)

// unexpectedCloseReason is reported when the stream closes without a terminal
// frame.
const unexpectedCloseReason = "connection closed unexpectedly"

// StartRequest asks for one answer session.
type StartRequest struct {
	// Transcript is the raw rolling transcript. Required.
	Transcript string

	// Question is the cleaned question extracted from the transcript. Must
	// pass [transcript.IsClearQuestion].
	Question string

	// ImageB64 routes the query to the vision provider when non-empty.
	ImageB64 string

	// Metadata is forwarded with the opening payload; a timestamp is always
	// stamped before sending.
	Metadata map[string]any
}

// StartResult is the immediate outcome of a start attempt. The handshake and
// streaming proceed asynchronously after StatusStarted is returned.
type StartResult struct {
	Status    string `json:"status"`
	SessionID uint64 `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Recorder observes session lifecycle for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	SessionStarted(id uint64)
	FrameProcessed(kind string)
	SessionFinished(id uint64, status string, elapsed time.Duration)
	ExchangeSaved(status string)
}

// Embedder produces the question embedding stored with a completed exchange.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Coordinator is the single-flight session owner. All methods are safe for
// concurrent use.
type Coordinator struct {
	provider answerprov.Provider
	vision   answerprov.Provider
	sink     Sink
	rolling  *transcript.Rolling
	store    memory.Store
	embedder Embedder
	recorder Recorder
	log      *slog.Logger

	mu         sync.Mutex
	state      State
	id         uint64
	question   string
	summaryBuf strings.Builder
	answerBuf  strings.Builder
	finished   bool
	startedAt  time.Time
	stream     answerprov.Stream
	cancel     context.CancelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithVisionProvider sets the provider used for queries carrying an image.
func WithVisionProvider(p answerprov.Provider) Option {
	return func(c *Coordinator) { c.vision = p }
}

// WithSink sets the display relay target.
func WithSink(s Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithTranscript sets the rolling transcript paused while a session is in
// flight.
func WithTranscript(r *transcript.Rolling) Option {
	return func(c *Coordinator) { c.rolling = r }
}

// WithStore persists completed exchanges.
func WithStore(s memory.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithEmbedder embeds the question of completed exchanges before saving.
// Only used together with WithStore.
func WithEmbedder(e Embedder) Option {
	return func(c *Coordinator) { c.embedder = e }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// NewCoordinator creates a Coordinator streaming from provider. provider may
// be nil when only vision queries are expected; a text query then fails with
// [ErrNoTransport].
func NewCoordinator(provider answerprov.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider: provider,
		sink:     NopSink{},
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current lifecycle phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentID returns the most recently assigned session id, 0 before the
// first session.
func (c *Coordinator) CurrentID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Start validates req and, when accepted, assigns the next session id and
// opens the stream asynchronously. It never blocks on the network: the
// returned StatusStarted only means the handshake is in flight. A session
// already in a non-terminal state yields StatusBusy and leaves that session
// untouched.
func (c *Coordinator) Start(_ context.Context, req StartRequest) StartResult {
	if strings.TrimSpace(req.Transcript) == "" {
		return StartResult{Status: StatusEmpty}
	}
	if !transcript.IsClearQuestion(req.Question) {
		return StartResult{Status: StatusInvalidQuestion}
	}

	c.mu.Lock()
	if !c.state.terminal() {
		c.mu.Unlock()
		return StartResult{Status: StatusBusy, Message: ErrBusy.Error()}
	}
	prov := c.provider
	if req.ImageB64 != "" {
		prov = c.vision
	}
	if prov == nil {
		c.mu.Unlock()
		return StartResult{Status: StatusError, Message: ErrNoTransport.Error()}
	}

	c.id++
	id := c.id
	c.state = Opening
	c.question = req.Question
	c.summaryBuf.Reset()
	c.answerBuf.Reset()
	c.finished = false
	c.startedAt = time.Now()

	sessCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	if c.rolling != nil {
		c.rolling.Pause()
		c.rolling.Reset()
	}

	// A new session invalidates everything older on the display: consumers
	// key off these reset events to discard stale chunks.
	c.sink.OnQuestionStream(QuestionStream{DisplayEvent{SessionID: id}, "", true})
	c.sink.OnQuestionComplete(QuestionComplete{DisplayEvent{SessionID: id}, true})

	meta := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	if c.recorder != nil {
		c.recorder.SessionStarted(id)
	}
	c.log.Info("session starting", "session_id", id, "question_len", len(req.Question))

	go c.run(sessCtx, id, prov, answerprov.Query{
		Question:   req.Question,
		Transcript: req.Transcript,
		ImageB64:   req.ImageB64,
		Metadata:   meta,
	})

	return StartResult{Status: StatusStarted, SessionID: id}
}

// recallLimit caps the number of similar past exchanges attached to a query.
const recallLimit = 3

// run performs the handshake and consumes frames until the stream closes.
func (c *Coordinator) run(ctx context.Context, id uint64, prov answerprov.Provider, q answerprov.Query) {
	q.Recall = c.fetchRecall(ctx, id, q.Question)

	stream, err := prov.Open(ctx, q)
	if err != nil {
		c.log.Error("session open failed", "session_id", id, "error", err)
		c.finalize(id, Failed, err.Error())
		return
	}

	c.mu.Lock()
	if id != c.id || c.finished {
		c.mu.Unlock()
		stream.Close()
		return
	}
	c.stream = stream
	c.state = Streaming
	c.mu.Unlock()

	for frame := range stream.Frames() {
		c.handleFrame(id, frame)
	}

	reason := unexpectedCloseReason
	if err := stream.Err(); err != nil {
		reason = err.Error()
	}
	// No-op if a terminal frame already finalized the session.
	c.finalize(id, Failed, reason)
}

// handleFrame classifies one inbound frame and dispatches it. Frames tagged
// with a superseded session id, or arriving after finalization, are dropped
// without touching buffers or the sink.
func (c *Coordinator) handleFrame(id uint64, frame []byte) {
	ev := Interpret(frame)
	if ev.Kind == Noop {
		return
	}
	if c.recorder != nil {
		c.recorder.FrameProcessed(ev.Kind.String())
	}

	c.mu.Lock()
	if id != c.id || c.finished {
		c.mu.Unlock()
		return
	}

	switch ev.Kind {
	case Summary:
		c.summaryBuf.WriteString(ev.Text)
		c.mu.Unlock()
		c.sink.OnQuestionStream(QuestionStream{DisplayEvent{SessionID: id}, ev.Text, false})

	case SummaryDone:
		c.mu.Unlock()
		c.sink.OnQuestionComplete(QuestionComplete{DisplayEvent{SessionID: id}, false})

	case Answer:
		c.answerBuf.WriteString(ev.Text)
		// Recomputed over the whole buffer each chunk; the sink replaces its
		// rendering rather than appending.
		text := answer.SanitizeSections(c.answerBuf.String())
		c.mu.Unlock()
		c.sink.OnAnswerStream(AnswerStream{DisplayEvent{SessionID: id}, text})

	case End:
		c.mu.Unlock()
		c.finalize(id, Completed, "")

	case Error:
		c.mu.Unlock()
		c.finalize(id, Failed, ev.Text)

	default:
		c.mu.Unlock()
	}
}

// finalize moves session id to a terminal state exactly once: it closes the
// transport, resumes transcript accumulation, emits the single completion
// event, and persists the exchange on success. Calls for superseded ids or
// already-finalized sessions are no-ops.
func (c *Coordinator) finalize(id uint64, terminal State, reason string) {
	c.mu.Lock()
	if id != c.id || c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.state = terminal
	stream := c.stream
	c.stream = nil
	cancel := c.cancel
	c.cancel = nil
	question := c.question
	summary := c.summaryBuf.String()
	answerText := answer.SanitizeSections(c.answerBuf.String())
	elapsed := time.Since(c.startedAt)
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	if cancel != nil {
		cancel()
	}
	if c.rolling != nil {
		c.rolling.Resume()
	}

	status := "done"
	if terminal == Failed {
		status = "error"
	}
	c.sink.OnAnswerComplete(AnswerComplete{DisplayEvent{SessionID: id}, status, reason})

	if c.recorder != nil {
		c.recorder.SessionFinished(id, status, elapsed)
	}
	if terminal == Failed {
		c.log.Warn("session failed", "session_id", id, "reason", reason, "elapsed", elapsed)
	} else {
		c.log.Info("session completed", "session_id", id, "elapsed", elapsed)
	}

	if terminal == Completed && c.store != nil {
		go c.saveExchange(id, question, summary, answerText)
	}
}

// fetchRecall surfaces past exchanges semantically close to question, for the
// provider to ground its answer in. Best-effort: any failure just yields no
// recall context. Requires both a store and an embedder.
func (c *Coordinator) fetchRecall(ctx context.Context, id uint64, question string) []answerprov.Recall {
	if c.store == nil || c.embedder == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	vec, err := c.embedder.Embed(ctx, question)
	if err != nil {
		c.log.Debug("recall embed failed", "session_id", id, "error", err)
		return nil
	}
	similar, err := c.store.Similar(ctx, vec, recallLimit)
	if err != nil {
		c.log.Debug("recall lookup failed", "session_id", id, "error", err)
		return nil
	}

	recall := make([]answerprov.Recall, 0, len(similar))
	for _, ex := range similar {
		recall = append(recall, answerprov.Recall{Question: ex.Question, Answer: ex.Answer})
	}
	return recall
}

// saveExchange persists one completed exchange, embedding the question when
// an embedder is configured. Failures are logged, never surfaced: persistence
// is best-effort and must not affect session outcomes.
func (c *Coordinator) saveExchange(id uint64, question, summary, answerText string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ex := memory.Exchange{
		ID:        uuid.NewString(),
		SessionID: id,
		Question:  question,
		Summary:   summary,
		Answer:    answerText,
		CreatedAt: time.Now().UTC(),
	}
	if c.embedder != nil {
		vec, err := c.embedder.Embed(ctx, question)
		if err != nil {
			c.log.Warn("embed question failed", "session_id", id, "error", err)
		} else {
			ex.Embedding = vec
		}
	}
	status := "ok"
	if err := c.store.SaveExchange(ctx, ex); err != nil {
		status = "error"
		c.log.Warn("save exchange failed", "session_id", id, "error", err)
	}
	if c.recorder != nil {
		c.recorder.ExchangeSaved(status)
	}
}

// Close aborts any in-flight session by tearing down its transport. The
// receive loop then finalizes through the unexpected-close path, so the
// completion event is still emitted exactly once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	stream := c.stream
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
	}
}
