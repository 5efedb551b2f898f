// Package llm implements answer.Provider with an in-process model call
// backed by github.com/mozilla-ai/any-llm-go.
//
// Instead of relaying to an external answer service, this provider runs the
// two-phase pipeline itself: a short question restatement streamed on the
// summary channel, then the streamed answer. Frames are synthesized in the
// same wire shape the relay emits ({"type":...,"chunk":...} objects plus the
// [END]/[ERROR] sentinels), so the session layer cannot tell the transports
// apart.
//
// The provider keeps lightweight conversational state: an optional candidate
// profile built from resume and job description, and the last few
// question/answer rounds, both folded into every completion prompt.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/promptpane/promptpane/pkg/provider/answer"
)

var _ answer.Provider = (*Provider)(nil)
var _ answer.Stream = (*stream)(nil)

const (
	// maxHistory caps the question/answer rounds carried into each prompt.
	maxHistory = 5

	// Summary chunk sizing: the restatement streams in word-aligned chunks
	// of roughly this many characters.
	summaryChunkMin = 20
	summaryChunkMax = 60
)

const answerSystemPrompt = `You are a concise interview copilot. Answer the interviewer's question
on behalf of the candidate, in first person. For coding questions, structure
the answer with the markdown headings "## Intuition", "## Algorithm",
"## Implementation" and "## Complexity Analysis", in that order. For
behavioral questions answer in short plain paragraphs. Never repeat a
section.`

const summaryPromptFmt = `Restate the following interview question in at most 30 words, as a
single clear question. Reply with the restated question only.

Question: %s`

// Provider implements answer.Provider with an in-process model call.
type Provider struct {
	backend anyllmlib.Provider
	model   string

	mu      sync.Mutex
	profile string
	history []exchange
}

type exchange struct {
	question string
	answer   string
}

// New creates a Provider for the named any-llm backend ("openai",
// "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"). Without an
// API key option the backend falls back to its usual environment variable.
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("llm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", providerName)
	}
}

// InitProfile condenses the candidate's resume and the job description into a
// short profile that is prepended to every answer prompt. Empty inputs clear
// the profile.
func (p *Provider) InitProfile(ctx context.Context, resume, jobDescription string) error {
	if strings.TrimSpace(resume) == "" && strings.TrimSpace(jobDescription) == "" {
		p.mu.Lock()
		p.profile = ""
		p.mu.Unlock()
		return nil
	}

	prompt := "Summarize the following for an interview copilot in at most 120 words,\n" +
		"covering the candidate's strongest skills and what the role needs.\n"
	if resume != "" {
		prompt += "\nResume:\n" + resume + "\n"
	}
	if jobDescription != "" {
		prompt += "\nJob description:\n" + jobDescription + "\n"
	}

	resp, err := p.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return fmt.Errorf("llm: summarize profile: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("llm: summarize profile: empty choices")
	}

	p.mu.Lock()
	p.profile = resp.Choices[0].Message.ContentString()
	p.mu.Unlock()
	return nil
}

// Profile returns the current candidate profile summary.
func (p *Provider) Profile() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile
}

// Open implements answer.Provider.
func (p *Provider) Open(ctx context.Context, q answer.Query) (answer.Stream, error) {
	if q.ImageB64 != "" {
		return nil, fmt.Errorf("llm: image queries are not supported by this provider")
	}
	if strings.TrimSpace(q.Question) == "" {
		return nil, fmt.Errorf("llm: question must not be empty")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	st := &stream{
		frames: make(chan []byte, 64),
		ctx:    streamCtx,
		cancel: cancel,
	}

	go p.pipeline(st, q)

	return st, nil
}

// pipeline runs the summary phase then the answer phase, emitting frames in
// the relay wire shape. It owns st.frames and closes it on exit.
func (p *Provider) pipeline(st *stream, q answer.Query) {
	defer close(st.frames)

	p.streamSummary(st, q.Question)

	full, ok := p.streamAnswer(st, q)
	if !ok {
		return
	}

	p.recordExchange(q.Question, full)
	st.send([]byte("[END]"))
}

// streamSummary restates the question in at most 30 words and streams the
// restatement in word-aligned chunks. Summary failures are not fatal: the
// answer phase still runs, the display just shows the raw question.
func (p *Provider) streamSummary(st *stream, question string) {
	defer st.send(marshalFrame("summary_done", ""))

	resp, err := p.backend.Completion(st.ctx, anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleUser, Content: fmt.Sprintf(summaryPromptFmt, question)},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		return
	}

	restated := capWords(resp.Choices[0].Message.ContentString(), 30)
	for _, chunk := range chunkWords(restated, summaryChunkMin, summaryChunkMax) {
		if !st.send(marshalFrame("summary", chunk)) {
			return
		}
	}
}

// streamAnswer streams the model answer. It returns the accumulated text and
// whether the phase completed cleanly; on a model error it emits an [ERROR]
// frame and reports false.
func (p *Provider) streamAnswer(st *stream, q answer.Query) (string, bool) {
	chunks, errs := p.backend.CompletionStream(st.ctx, anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: p.buildMessages(q),
	})

	var full strings.Builder
	for chunk := range chunks {
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if !st.send(marshalFrame("answer", delta)) {
			return "", false
		}
	}

	if err := <-errs; err != nil {
		st.send([]byte("[ERROR] " + err.Error()))
		return "", false
	}
	return full.String(), true
}

// recallAnswerCap bounds how much of a recalled answer is quoted in the
// prompt; full answers can run to several screens of markdown.
const recallAnswerCap = 500

// buildMessages assembles the completion prompt: system instructions with the
// candidate profile and any recalled exchanges, the recent question/answer
// rounds, then the current question with its transcript context.
func (p *Provider) buildMessages(q answer.Query) []anyllmlib.Message {
	p.mu.Lock()
	profile := p.profile
	history := append([]exchange(nil), p.history...)
	p.mu.Unlock()

	system := answerSystemPrompt
	if profile != "" {
		system += "\n\nCandidate profile:\n" + profile
	}
	if len(q.Recall) > 0 {
		var b strings.Builder
		b.WriteString("\n\nEarlier exchanges from this interview that may be relevant:")
		for _, r := range q.Recall {
			fmt.Fprintf(&b, "\nQ: %s\nA: %s", r.Question, capChars(r.Answer, recallAnswerCap))
		}
		system += b.String()
	}

	messages := []anyllmlib.Message{
		{Role: anyllmlib.RoleSystem, Content: system},
	}
	for _, ex := range history {
		messages = append(messages,
			anyllmlib.Message{Role: anyllmlib.RoleUser, Content: ex.question},
			anyllmlib.Message{Role: anyllmlib.RoleAssistant, Content: ex.answer},
		)
	}

	user := q.Question
	if q.Transcript != "" && q.Transcript != q.Question {
		user = fmt.Sprintf("Transcript context: %s\n\nQuestion: %s", q.Transcript, q.Question)
	}
	return append(messages, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: user})
}

// recordExchange appends one completed round, keeping only the newest
// maxHistory rounds.
func (p *Provider) recordExchange(question, answerText string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, exchange{question: question, answer: answerText})
	if len(p.history) > maxHistory {
		p.history = p.history[len(p.history)-maxHistory:]
	}
}

// marshalFrame builds one relay-shaped frame.
func marshalFrame(frameType, chunk string) []byte {
	frame := struct {
		Type  string `json:"type"`
		Chunk string `json:"chunk,omitempty"`
	}{Type: frameType, Chunk: chunk}
	data, _ := json.Marshal(frame)
	return data
}

// capChars truncates s to at most n bytes, on a word boundary where possible.
func capChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

// capWords truncates s to at most n words.
func capWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}

// chunkWords splits s into word-aligned chunks of minLen–maxLen characters.
// The final chunk may be shorter; a single word longer than maxLen forms its
// own chunk.
func chunkWords(s string, minLen, maxLen int) []string {
	var (
		chunks []string
		cur    strings.Builder
	)
	for _, w := range strings.Fields(s) {
		if cur.Len() > 0 && cur.Len()+1+len(w) > maxLen {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
		if cur.Len() >= minLen {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// stream carries synthesized frames to the session layer.
type stream struct {
	frames chan []byte

	mu     sync.Mutex
	errVal error

	ctx    context.Context
	cancel context.CancelFunc
}

// Frames implements answer.Stream.
func (s *stream) Frames() <-chan []byte { return s.frames }

// Err implements answer.Stream. Model errors surface as [ERROR] frames, so
// Err only reports cancellation-free pipeline failures; a clean [END] leaves
// it nil.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements answer.Stream.
func (s *stream) Close() error {
	s.cancel()
	return nil
}

// send delivers one frame unless the stream was closed. Reports whether the
// frame was accepted.
func (s *stream) send(frame []byte) bool {
	select {
	case s.frames <- frame:
		return true
	case <-s.ctx.Done():
		return false
	}
}
