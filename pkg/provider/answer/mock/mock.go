// Package mock provides a scripted answer.Provider for tests and for running
// the pipeline without a live backend.
package mock

import (
	"context"
	"sync"

	"github.com/promptpane/promptpane/pkg/provider/answer"
)

var _ answer.Provider = (*Provider)(nil)
var _ answer.Stream = (*Stream)(nil)

// Provider replays a fixed frame script on every Open.
type Provider struct {
	// Script is the frame sequence emitted by each stream, in order.
	Script []string

	// OpenErr, when non-nil, is returned by Open.
	OpenErr error

	mu      sync.Mutex
	queries []answer.Query
}

// Open implements answer.Provider.
func (p *Provider) Open(ctx context.Context, q answer.Query) (answer.Stream, error) {
	p.mu.Lock()
	p.queries = append(p.queries, q)
	p.mu.Unlock()

	if p.OpenErr != nil {
		return nil, p.OpenErr
	}

	st := &Stream{frames: make(chan []byte, len(p.Script)+1)}
	go func() {
		defer close(st.frames)
		for _, frame := range p.Script {
			select {
			case st.frames <- []byte(frame):
			case <-ctx.Done():
				return
			case <-st.done():
				return
			}
		}
	}()
	return st, nil
}

// Queries returns every query submitted to Open, in order.
func (p *Provider) Queries() []answer.Query {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]answer.Query(nil), p.queries...)
}

// Stream is the scripted stream handed out by Provider.
type Stream struct {
	frames chan []byte

	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}
}

// Frames implements answer.Stream.
func (s *Stream) Frames() <-chan []byte { return s.frames }

// Err implements answer.Stream.
func (s *Stream) Err() error { return nil }

// Close implements answer.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		if s.closedCh != nil {
			close(s.closedCh)
		}
	}
	return nil
}

func (s *Stream) done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedCh == nil {
		if s.closed {
			ch := make(chan struct{})
			close(ch)
			return ch
		}
		s.closedCh = make(chan struct{})
	}
	return s.closedCh
}
