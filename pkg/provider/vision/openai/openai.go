// Package openai implements answer.Provider for image-based queries using
// the OpenAI chat completions API.
//
// A vision query carries a base64-encoded screenshot (typically a coding
// exercise or diagram) plus the question text. The provider streams the model
// response in the same wire shape the other answer transports use, so the
// session layer handles vision sessions identically to text sessions.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/promptpane/promptpane/pkg/provider/answer"
)

var _ answer.Provider = (*Provider)(nil)
var _ answer.Stream = (*stream)(nil)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o"

const systemPrompt = `You are a concise interview copilot. The user sends a screenshot of a
coding exercise or diagram together with a question. Answer on behalf of the
candidate, in first person. For coding questions use the markdown headings
"## Intuition", "## Algorithm", "## Implementation" and
"## Complexity Analysis", in that order.`

// Provider implements answer.Provider for image queries.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a vision Provider. An empty model selects [DefaultModel].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai vision: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Open implements answer.Provider. The query must carry an image.
func (p *Provider) Open(ctx context.Context, q answer.Query) (answer.Stream, error) {
	if q.ImageB64 == "" {
		return nil, fmt.Errorf("openai vision: query carries no image")
	}
	question := strings.TrimSpace(q.Question)
	if question == "" {
		question = "Solve the exercise shown in the image."
	}

	user := oai.ChatCompletionUserMessageParam{
		Content: oai.ChatCompletionUserMessageParamContentUnion{
			OfArrayOfContentParts: []oai.ChatCompletionContentPartUnionParam{
				{OfText: &oai.ChatCompletionContentPartTextParam{Text: question}},
				{OfImageURL: &oai.ChatCompletionContentPartImageParam{
					ImageURL: oai.ChatCompletionContentPartImageImageURLParam{
						URL: imageDataURL(q.ImageB64),
					},
				}},
			},
		},
	}
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			{OfUser: &user},
		},
	}

	sse := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := sse.Err(); err != nil {
		return nil, fmt.Errorf("openai vision: start stream: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	st := &stream{
		frames: make(chan []byte, 64),
		ctx:    streamCtx,
		cancel: cancel,
	}

	go st.pump(sse, question)

	return st, nil
}

// imageDataURL wraps base64 image bytes as a data URL. The relay clients send
// PNG screenshots; the API sniffs the real content type from the payload.
func imageDataURL(b64 string) string {
	if strings.HasPrefix(b64, "data:") {
		return b64
	}
	return "data:image/png;base64," + b64
}

type stream struct {
	frames chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Frames implements answer.Stream.
func (s *stream) Frames() <-chan []byte { return s.frames }

// Err implements answer.Stream. Model failures surface as [ERROR] frames.
func (s *stream) Err() error { return nil }

// Close implements answer.Stream.
func (s *stream) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// sseStream is the slice of the SDK stream type pump needs; narrowing it
// keeps pump testable with a scripted stream.
type sseStream interface {
	Next() bool
	Current() oai.ChatCompletionChunk
	Err() error
	Close() error
}

// pump converts SSE deltas into relay-shaped frames. It owns s.frames.
func (s *stream) pump(sse sseStream, question string) {
	defer close(s.frames)
	defer sse.Close()

	// Vision queries have no separate summary phase: the question itself is
	// the restatement.
	s.send(marshalFrame("summary", question))
	s.send(marshalFrame("summary_done", ""))

	for sse.Next() {
		chunk := sse.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if !s.send(marshalFrame("answer", delta)) {
			return
		}
	}

	if err := sse.Err(); err != nil {
		s.send([]byte("[ERROR] " + err.Error()))
		return
	}
	s.send([]byte("[END]"))
}

func (s *stream) send(frame []byte) bool {
	select {
	case s.frames <- frame:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func marshalFrame(frameType, chunk string) []byte {
	frame := struct {
		Type  string `json:"type"`
		Chunk string `json:"chunk,omitempty"`
	}{Type: frameType, Chunk: chunk}
	data, _ := json.Marshal(frame)
	return data
}
