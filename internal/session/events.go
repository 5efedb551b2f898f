package session

// DisplayEvent is one relay event emitted by the coordinator toward the
// display surface. Every event carries the session id it belongs to;
// consumers must discard events whose id is older than the last reset they
// observed.
type DisplayEvent struct {
	SessionID uint64
}

// QuestionStream carries one chunk of the question-phase (summary) text, or a
// reset marking the start of a new session's question phase.
type QuestionStream struct {
	DisplayEvent
	Chunk string
	Reset bool
}

// QuestionComplete signals the end of the question phase. Reset distinguishes
// the initial clear sent when a session opens.
type QuestionComplete struct {
	DisplayEvent
	Reset bool
}

// AnswerStream carries the sanitized cumulative answer text. Each event
// replaces the previously displayed answer rather than appending to it: the
// sanitizer is a pure function of the whole buffer, so re-sending the full
// rendering keeps the display consistent when sections are reordered
// mid-stream.
type AnswerStream struct {
	DisplayEvent
	Text string
}

// AnswerComplete signals terminal session state.
type AnswerComplete struct {
	DisplayEvent
	Status string // "done" or "error"
	Error  string // human-readable reason when Status is "error"
}

// Sink receives display relay events from the coordinator. Implementations
// must not block: the coordinator calls these from its event loop, and a slow
// sink stalls frame processing. They must also not call back into the
// coordinator.
type Sink interface {
	OnQuestionStream(ev QuestionStream)
	OnQuestionComplete(ev QuestionComplete)
	OnAnswerStream(ev AnswerStream)
	OnAnswerComplete(ev AnswerComplete)
}

// NopSink discards all events. Useful as a default and in tests.
type NopSink struct{}

func (NopSink) OnQuestionStream(QuestionStream)     {}
func (NopSink) OnQuestionComplete(QuestionComplete) {}
func (NopSink) OnAnswerStream(AnswerStream)         {}
func (NopSink) OnAnswerComplete(AnswerComplete)     {}

var _ Sink = NopSink{}
