// Package ws implements answer.Provider over a WebSocket relay.
//
// It dials the configured relay endpoint, sends the question payload as the
// first frame, and forwards every inbound frame verbatim. Frame semantics
// (summary/answer channels, the [END] and [ERROR] sentinels) are left to the
// session layer; this package only moves bytes.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/promptpane/promptpane/pkg/provider/answer"
)

var _ answer.Provider = (*Provider)(nil)
var _ answer.Stream = (*stream)(nil)

// Provider implements answer.Provider against a relay WebSocket endpoint.
type Provider struct {
	url    string
	header http.Header
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithToken sets a bearer token sent on the dial request.
func WithToken(token string) Option {
	return func(p *Provider) {
		p.header.Set("Authorization", "Bearer "+token)
	}
}

// WithHeader adds a header to the dial request.
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		p.header.Set(key, value)
	}
}

// New creates a Provider dialing url (a ws:// or wss:// endpoint).
func New(url string, opts ...Option) *Provider {
	p := &Provider{
		url:    url,
		header: http.Header{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// openPayload is the first outbound frame on every stream.
type openPayload struct {
	Question   string         `json:"question"`
	Transcript string         `json:"transcript,omitempty"`
	ImageB64   string         `json:"imageB64,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Open implements answer.Provider. The question payload is sent before Open
// returns; frame receipt proceeds on an internal goroutine.
func (p *Provider) Open(ctx context.Context, q answer.Query) (answer.Stream, error) {
	conn, _, err := websocket.Dial(ctx, p.url, &websocket.DialOptions{
		HTTPHeader: p.header,
	})
	if err != nil {
		return nil, fmt.Errorf("ws: dial: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	st := &stream{
		conn:   conn,
		frames: make(chan []byte, 64),
		ctx:    streamCtx,
		cancel: cancel,
	}

	payload, err := json.Marshal(openPayload{
		Question:   q.Question,
		Transcript: q.Transcript,
		ImageB64:   q.ImageB64,
		Metadata:   q.Metadata,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("ws: marshal question payload: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		st.Close()
		return nil, fmt.Errorf("ws: send question payload: %w", err)
	}

	go st.receiveLoop()

	return st, nil
}

type stream struct {
	conn   *websocket.Conn
	frames chan []byte

	mu     sync.Mutex
	errVal error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Frames implements answer.Stream.
func (s *stream) Frames() <-chan []byte { return s.frames }

// Err implements answer.Stream.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements answer.Stream. Safe to call more than once.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "client closed")
	})
	return nil
}

// receiveLoop reads frames until the connection drops or Close is called. It
// owns the frames channel and closes it on exit.
func (s *stream) receiveLoop() {
	defer close(s.frames)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Local close and remote normal closure are clean ends.
			if s.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.setErr(err)
			}
			return
		}

		select {
		case s.frames <- data:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}
