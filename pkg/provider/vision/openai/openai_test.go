package openai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	oai "github.com/openai/openai-go"

	"github.com/promptpane/promptpane/pkg/provider/answer"
)

// scriptedSSE replays canned deltas as a chat completion stream.
type scriptedSSE struct {
	deltas []string
	err    error
	pos    int
	closed bool
}

func (s *scriptedSSE) Next() bool {
	if s.pos >= len(s.deltas) {
		return false
	}
	s.pos++
	return true
}

func (s *scriptedSSE) Current() oai.ChatCompletionChunk {
	var chunk oai.ChatCompletionChunk
	chunk.Choices = make([]oai.ChatCompletionChunkChoice, 1)
	chunk.Choices[0].Delta.Content = s.deltas[s.pos-1]
	return chunk
}

func (s *scriptedSSE) Err() error   { return s.err }
func (s *scriptedSSE) Close() error { s.closed = true; return nil }

func drainFrames(t *testing.T, st *stream) []string {
	t.Helper()
	var got []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame, ok := <-st.Frames():
			if !ok {
				return got
			}
			got = append(got, string(frame))
		case <-timeout:
			t.Fatalf("timed out draining frames, have %v", got)
		}
	}
}

func newTestStream() *stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &stream{
		frames: make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

func TestPump_EmitsSummaryThenAnswerThenEnd(t *testing.T) {
	t.Parallel()

	st := newTestStream()
	sse := &scriptedSSE{deltas: []string{"Reverse the ", "linked list."}}
	go st.pump(sse, "How do I reverse a linked list?")

	got := drainFrames(t, st)
	want := []string{
		`{"type":"summary","chunk":"How do I reverse a linked list?"}`,
		`{"type":"summary_done"}`,
		`{"type":"answer","chunk":"Reverse the "}`,
		`{"type":"answer","chunk":"linked list."}`,
		"[END]",
	}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, got[i], want[i])
		}
	}
	if !sse.closed {
		t.Error("SSE stream not closed after pump")
	}
}

func TestPump_ErrorEmitsErrorSentinel(t *testing.T) {
	t.Parallel()

	st := newTestStream()
	sse := &scriptedSSE{err: errors.New("rate limited")}
	go st.pump(sse, "question?")

	got := drainFrames(t, st)
	if len(got) == 0 || got[len(got)-1] != "[ERROR] rate limited" {
		t.Errorf("frames = %v, want trailing error sentinel", got)
	}
	for _, f := range got {
		if f == "[END]" {
			t.Error("[END] emitted despite stream error")
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("empty API key accepted")
	}
	p, err := New("key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want default %q", p.model, DefaultModel)
	}
}

func TestOpen_RequiresImage(t *testing.T) {
	t.Parallel()

	p, err := New("key", "gpt-4o")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Open(context.Background(), answer.Query{Question: "no image"}); err == nil {
		t.Error("Open without image succeeded, want error")
	}
}

func TestImageDataURL(t *testing.T) {
	t.Parallel()

	if got := imageDataURL("aW1n"); got != "data:image/png;base64,aW1n" {
		t.Errorf("imageDataURL = %q", got)
	}
	already := "data:image/jpeg;base64,aW1n"
	if got := imageDataURL(already); got != already {
		t.Errorf("data URL rewrapped: %q", got)
	}
}

func TestMarshalFrame_OmitsEmptyChunk(t *testing.T) {
	t.Parallel()

	var decoded map[string]string
	if err := json.Unmarshal(marshalFrame("summary_done", ""), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["chunk"]; ok {
		t.Error("empty chunk not omitted")
	}
}
