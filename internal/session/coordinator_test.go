package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/promptpane/promptpane/internal/transcript"
	"github.com/promptpane/promptpane/pkg/memory"
	memmock "github.com/promptpane/promptpane/pkg/memory/mock"
	answerprov "github.com/promptpane/promptpane/pkg/provider/answer"
	embedmock "github.com/promptpane/promptpane/pkg/provider/embeddings/mock"
)

// fakeStream is a scripted answer stream. The test feeds frames and closes
// the channel itself; Close only records that it was called.
type fakeStream struct {
	frames chan []byte
	err    error

	mu     sync.Mutex
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []byte, 16)}
}

func (f *fakeStream) Frames() <-chan []byte { return f.frames }
func (f *fakeStream) Err() error            { return f.err }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeProvider struct {
	mu      sync.Mutex
	stream  *fakeStream
	openErr error
	queries []answerprov.Query
}

func (p *fakeProvider) Open(_ context.Context, q answerprov.Query) (answerprov.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, q)
	if p.openErr != nil {
		return nil, p.openErr
	}
	return p.stream, nil
}

func (p *fakeProvider) lastQuery() (answerprov.Query, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queries) == 0 {
		return answerprov.Query{}, false
	}
	return p.queries[len(p.queries)-1], true
}

// recordSink captures relay events for assertions.
type recordSink struct {
	mu               sync.Mutex
	questionStreams  []QuestionStream
	questionComplete []QuestionComplete
	answerStreams    []AnswerStream
	answerComplete   []AnswerComplete
}

func (r *recordSink) OnQuestionStream(ev QuestionStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.questionStreams = append(r.questionStreams, ev)
}

func (r *recordSink) OnQuestionComplete(ev QuestionComplete) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.questionComplete = append(r.questionComplete, ev)
}

func (r *recordSink) OnAnswerStream(ev AnswerStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answerStreams = append(r.answerStreams, ev)
}

func (r *recordSink) OnAnswerComplete(ev AnswerComplete) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answerComplete = append(r.answerComplete, ev)
}

func (r *recordSink) completions() []AnswerComplete {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AnswerComplete(nil), r.answerComplete...)
}

func (r *recordSink) answers() []AnswerStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AnswerStream(nil), r.answerStreams...)
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func validRequest() StartRequest {
	return StartRequest{
		Transcript: "tell me about goroutines and how they are scheduled",
		Question:   "how are goroutines scheduled?",
	}
}

func TestCoordinator_StartValidation(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(&fakeProvider{stream: newFakeStream()})

	if res := c.Start(context.Background(), StartRequest{Question: "why?"}); res.Status != StatusEmpty {
		t.Errorf("empty transcript status = %q, want %q", res.Status, StatusEmpty)
	}
	if res := c.Start(context.Background(), StartRequest{Transcript: "words", Question: "hm?"}); res.Status != StatusInvalidQuestion {
		t.Errorf("short question status = %q, want %q", res.Status, StatusInvalidQuestion)
	}
}

func TestCoordinator_StartWithoutProvider(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(nil)
	res := c.Start(context.Background(), validRequest())
	if res.Status != StatusError {
		t.Fatalf("status = %q, want %q", res.Status, StatusError)
	}
	if !strings.Contains(res.Message, ErrNoTransport.Error()) {
		t.Errorf("message = %q, want transport error", res.Message)
	}
}

func TestCoordinator_VisionQueryNeedsVisionProvider(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(&fakeProvider{stream: newFakeStream()})
	req := validRequest()
	req.ImageB64 = "aW1hZ2U="
	if res := c.Start(context.Background(), req); res.Status != StatusError {
		t.Errorf("vision query without vision provider status = %q, want %q", res.Status, StatusError)
	}
}

func TestCoordinator_HappyPath(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	prov := &fakeProvider{stream: stream}
	sink := &recordSink{}
	rolling := transcript.NewRolling()
	rolling.Append("how are goroutines scheduled")

	c := NewCoordinator(prov, WithSink(sink), WithTranscript(rolling))

	res := c.Start(context.Background(), validRequest())
	if res.Status != StatusStarted || res.SessionID != 1 {
		t.Fatalf("Start = %+v, want started id 1", res)
	}
	if !rolling.Paused() {
		t.Error("rolling transcript not paused during session")
	}
	waitFor(t, "streaming state", func() bool { return c.State() == Streaming })

	q, ok := prov.lastQuery()
	if !ok {
		t.Fatal("provider never received the query")
	}
	if q.Question != "how are goroutines scheduled?" {
		t.Errorf("query question = %q", q.Question)
	}
	if _, ok := q.Metadata["timestamp"]; !ok {
		t.Error("metadata missing timestamp stamp")
	}

	stream.frames <- []byte(`{"type":"summary","chunk":"How are goroutines scheduled?"}`)
	stream.frames <- []byte(`{"type":"summary_done"}`)
	stream.frames <- []byte(`{"type":"answer","chunk":"## Intuition\nThe runtime multiplexes goroutines onto OS threads.\n"}`)
	stream.frames <- []byte(`{"type":"answer","chunk":"## Algorithm\nWork-stealing scheduler with per-P run queues."}`)
	stream.frames <- []byte("[END]")
	close(stream.frames)

	waitFor(t, "completion", func() bool { return c.State() == Completed })

	if !stream.wasClosed() {
		t.Error("stream not closed on finalize")
	}
	if rolling.Paused() {
		t.Error("rolling transcript not resumed after finalize")
	}

	comps := sink.completions()
	if len(comps) != 1 {
		t.Fatalf("got %d completion events, want 1", len(comps))
	}
	if comps[0].Status != "done" || comps[0].SessionID != 1 {
		t.Errorf("completion = %+v, want done for session 1", comps[0])
	}

	answers := sink.answers()
	if len(answers) == 0 {
		t.Fatal("no answer stream events relayed")
	}
	last := answers[len(answers)-1].Text
	if !strings.Contains(last, "## Intuition") || !strings.Contains(last, "## Algorithm") {
		t.Errorf("final answer rendering missing sections: %q", last)
	}
}

func TestCoordinator_BusyLeavesActiveSessionUntouched(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	sink := &recordSink{}
	c := NewCoordinator(&fakeProvider{stream: stream}, WithSink(sink))

	first := c.Start(context.Background(), validRequest())
	waitFor(t, "streaming state", func() bool { return c.State() == Streaming })

	stream.frames <- []byte(`{"type":"answer","chunk":"partial"}`)
	waitFor(t, "first answer relay", func() bool { return len(sink.answers()) == 1 })

	res := c.Start(context.Background(), validRequest())
	if res.Status != StatusBusy {
		t.Fatalf("second start status = %q, want %q", res.Status, StatusBusy)
	}
	if got := c.CurrentID(); got != first.SessionID {
		t.Errorf("CurrentID = %d, want unchanged %d", got, first.SessionID)
	}
	if got := sink.answers(); len(got) != 1 || got[0].Text != "partial" {
		t.Errorf("active session buffers disturbed: %+v", got)
	}

	close(stream.frames)
}

func TestCoordinator_StaleFrameDropped(t *testing.T) {
	t.Parallel()

	first := newFakeStream()
	prov := &fakeProvider{stream: first}
	sink := &recordSink{}
	c := NewCoordinator(prov, WithSink(sink))

	c.Start(context.Background(), validRequest())
	waitFor(t, "streaming state", func() bool { return c.State() == Streaming })
	first.frames <- []byte("[END]")
	close(first.frames)
	waitFor(t, "first completion", func() bool { return c.State() == Completed })

	second := newFakeStream()
	prov.mu.Lock()
	prov.stream = second
	prov.mu.Unlock()
	c.Start(context.Background(), validRequest())
	waitFor(t, "second streaming", func() bool { return c.State() == Streaming })

	before := len(sink.answers())
	c.handleFrame(1, []byte(`{"type":"answer","chunk":"stale"}`))
	if got := len(sink.answers()); got != before {
		t.Errorf("stale frame relayed: %d events, want %d", got, before)
	}

	close(second.frames)
}

func TestCoordinator_UnexpectedCloseFails(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	sink := &recordSink{}
	rolling := transcript.NewRolling()
	c := NewCoordinator(&fakeProvider{stream: stream}, WithSink(sink), WithTranscript(rolling))

	c.Start(context.Background(), validRequest())
	waitFor(t, "streaming state", func() bool { return c.State() == Streaming })

	close(stream.frames)
	waitFor(t, "failure", func() bool { return c.State() == Failed })

	comps := sink.completions()
	if len(comps) != 1 {
		t.Fatalf("got %d completion events, want 1", len(comps))
	}
	if comps[0].Status != "error" || comps[0].Error != "connection closed unexpectedly" {
		t.Errorf("completion = %+v, want unexpected-close error", comps[0])
	}
	if rolling.Paused() {
		t.Error("rolling transcript not resumed after failure")
	}
}

func TestCoordinator_OpenFailureFinalizesOnce(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	c := NewCoordinator(&fakeProvider{openErr: errors.New("dial refused")}, WithSink(sink))

	res := c.Start(context.Background(), validRequest())
	if res.Status != StatusStarted {
		t.Fatalf("Start status = %q, want %q (handshake failure is async)", res.Status, StatusStarted)
	}
	waitFor(t, "failure", func() bool { return c.State() == Failed })

	comps := sink.completions()
	if len(comps) != 1 || comps[0].Status != "error" || !strings.Contains(comps[0].Error, "dial refused") {
		t.Errorf("completions = %+v, want single dial error", comps)
	}

	// The coordinator must be startable again after a failed session.
	stream := newFakeStream()
	c2 := c
	c2.provider = &fakeProvider{stream: stream}
	if res := c2.Start(context.Background(), validRequest()); res.Status != StatusStarted {
		t.Errorf("restart after failure status = %q, want %q", res.Status, StatusStarted)
	}
	close(stream.frames)
}

func TestCoordinator_DuplicateTerminalFramesFinalizeOnce(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	sink := &recordSink{}
	c := NewCoordinator(&fakeProvider{stream: stream}, WithSink(sink))

	c.Start(context.Background(), validRequest())
	waitFor(t, "streaming state", func() bool { return c.State() == Streaming })

	stream.frames <- []byte("[END]")
	stream.frames <- []byte("[END]")
	stream.frames <- []byte("[ERROR] too late")
	close(stream.frames)

	waitFor(t, "completion", func() bool { return c.State() == Completed })
	// Drain any straggling dispatch before counting.
	time.Sleep(20 * time.Millisecond)

	comps := sink.completions()
	if len(comps) != 1 || comps[0].Status != "done" {
		t.Errorf("completions = %+v, want exactly one done", comps)
	}
}

// fakeRecorder counts recorder callbacks.
type fakeRecorder struct {
	mu     sync.Mutex
	saves  []string
	frames int
}

func (r *fakeRecorder) SessionStarted(uint64)                         {}
func (r *fakeRecorder) SessionFinished(uint64, string, time.Duration) {}

func (r *fakeRecorder) FrameProcessed(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
}

func (r *fakeRecorder) ExchangeSaved(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, status)
}

func (r *fakeRecorder) savedStatuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.saves...)
}

func TestCoordinator_RecallAttachedToQuery(t *testing.T) {
	t.Parallel()

	store := memmock.New()
	embedder := &embedmock.Provider{}
	seedVec, err := embedder.Embed(context.Background(), "how do channels block?")
	if err != nil {
		t.Fatalf("seed embed: %v", err)
	}
	if err := store.SaveExchange(context.Background(), memory.Exchange{
		ID:        "past-1",
		Question:  "how do channels block?",
		Answer:    "Send and receive park the goroutine until a partner arrives.",
		Embedding: seedVec,
	}); err != nil {
		t.Fatalf("seed exchange: %v", err)
	}

	stream := newFakeStream()
	prov := &fakeProvider{stream: stream}
	c := NewCoordinator(prov, WithStore(store), WithEmbedder(embedder))

	c.Start(context.Background(), validRequest())
	waitFor(t, "streaming state", func() bool { return c.State() == Streaming })

	q, ok := prov.lastQuery()
	if !ok {
		t.Fatal("provider never received the query")
	}
	if len(q.Recall) != 1 {
		t.Fatalf("query recall = %+v, want the seeded exchange", q.Recall)
	}
	if q.Recall[0].Question != "how do channels block?" {
		t.Errorf("recall question = %q", q.Recall[0].Question)
	}

	close(stream.frames)
}

func TestCoordinator_SaveOutcomeRecorded(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	rec := &fakeRecorder{}
	c := NewCoordinator(&fakeProvider{stream: stream},
		WithStore(memmock.New()),
		WithRecorder(rec),
	)

	c.Start(context.Background(), validRequest())
	waitFor(t, "streaming state", func() bool { return c.State() == Streaming })

	stream.frames <- []byte(`{"type":"answer","chunk":"Parked on the channel's wait queue."}`)
	stream.frames <- []byte("[END]")
	close(stream.frames)

	waitFor(t, "save recorded", func() bool { return len(rec.savedStatuses()) == 1 })
	if got := rec.savedStatuses(); got[0] != "ok" {
		t.Errorf("save status = %q, want ok", got[0])
	}
}

func TestCoordinator_CompletedExchangePersisted(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	store := memmock.New()
	c := NewCoordinator(&fakeProvider{stream: stream}, WithStore(store))

	c.Start(context.Background(), validRequest())
	waitFor(t, "streaming state", func() bool { return c.State() == Streaming })

	stream.frames <- []byte(`{"type":"summary","chunk":"How are goroutines scheduled?"}`)
	stream.frames <- []byte(`{"type":"answer","chunk":"By the runtime scheduler."}`)
	stream.frames <- []byte("[END]")
	close(stream.frames)

	waitFor(t, "persisted exchange", func() bool {
		got, err := store.Recent(context.Background(), 1)
		return err == nil && len(got) == 1
	})

	got, _ := store.Recent(context.Background(), 1)
	if got[0].Question != "how are goroutines scheduled?" {
		t.Errorf("stored question = %q", got[0].Question)
	}
	if got[0].Answer != "By the runtime scheduler." {
		t.Errorf("stored answer = %q", got[0].Answer)
	}
	if got[0].SessionID != 1 {
		t.Errorf("stored session id = %d, want 1", got[0].SessionID)
	}
}
