// Package answer defines the Provider interface for streaming answer backends.
//
// An answer provider accepts one frozen interviewer question (plus the raw
// transcript context it was extracted from) and streams back the response as
// raw frames. Frames are opaque bytes at this layer: the session coordinator
// classifies them into summary/answer/terminal events, so providers with
// different wire shapes (a relay WebSocket, an in-process model call) can be
// swapped without touching session logic.
//
// All implementations must be safe for concurrent use.
package answer

import "context"

// Recall is one past exchange semantically close to the current question,
// surfaced from the exchange store for prompt grounding.
type Recall struct {
	Question string
	Answer   string
}

// Query is one question submitted for answering.
type Query struct {
	// Question is the cleaned question text extracted from the transcript.
	Question string

	// Transcript is the raw rolling transcript the question was extracted
	// from, passed along as additional context.
	Transcript string

	// Recall holds earlier exchanges similar to Question, most similar
	// first. In-process providers fold these into the prompt; relay backends
	// keep their own conversation state and may ignore them.
	Recall []Recall

	// ImageB64 is an optional base64-encoded screenshot for image-based
	// queries. Providers that cannot process images must reject queries
	// carrying one.
	ImageB64 string

	// Metadata is a free-form bag forwarded with the opening payload. The
	// coordinator always stamps a timestamp before opening.
	Metadata map[string]any
}

// Stream is one open answer stream. Frames are emitted in arrival order; the
// channel is closed when the stream ends, after which Err reports whether it
// ended cleanly.
//
// Callers must call Close when the stream is no longer needed and must drain
// Frames promptly to avoid stalling the provider's receive loop.
type Stream interface {
	// Frames returns the read-only frame channel. Closed on terminal frame,
	// remote close, or Close.
	Frames() <-chan []byte

	// Err returns the error that caused Frames to close prematurely, or nil
	// for a clean end. Valid only after Frames is closed.
	Err() error

	// Close terminates the stream and releases resources. Safe to call more
	// than once.
	Close() error
}

// Provider is the abstraction over any answer backend.
type Provider interface {
	// Open submits the query and returns a live stream. The first outbound
	// payload (question + metadata) is sent before Open returns; frame
	// receipt proceeds asynchronously.
	Open(ctx context.Context, q Query) (Stream, error)
}
