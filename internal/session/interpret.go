package session

import (
	"encoding/json"
	"strings"
)

// EventKind is the canonical classification of one inbound stream frame.
type EventKind int

const (
	// Noop marks an empty or otherwise ignorable frame.
	Noop EventKind = iota
	// Summary carries a chunk of question-phase text.
	Summary
	// SummaryDone marks the end of the question phase.
	SummaryDone
	// Answer carries a chunk of answer-phase text.
	Answer
	// End marks clean stream completion.
	End
	// Error marks an upstream failure; Text holds the reason.
	Error
)

func (k EventKind) String() string {
	switch k {
	case Noop:
		return "noop"
	case Summary:
		return "summary"
	case SummaryDone:
		return "summary_done"
	case Answer:
		return "answer"
	case End:
		return "end"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the result of interpreting one frame.
type Event struct {
	Kind EventKind
	Text string // chunk text, or error reason for Error events
}

const (
	endSentinel   = "[END]"
	errorSentinel = "[ERROR]"
)

// channelKeys and payloadKeys are the accepted JSON key names for the channel
// discriminator and the text payload, probed in order.
var (
	channelKeys = []string{"type", "channel", "role", "kind"}
	payloadKeys = []string{"chunk", "text", "summary", "answer", "data"}
)

// Interpret classifies one inbound frame.
//
// The upstream frame shape is not contractually fixed, so classification is
// tolerant and ordered: sentinel literals first, then a structured JSON
// decode, then a trailing-'?' heuristic. The rule order is load-bearing —
// later rules are deliberately lower-priority fallbacks, and every frame maps
// to some event; nothing is rejected.
func Interpret(frame []byte) Event {
	text := strings.TrimSpace(string(frame))
	if text == "" {
		return Event{Kind: Noop}
	}
	if text == endSentinel {
		return Event{Kind: End}
	}
	if rest, ok := strings.CutPrefix(text, errorSentinel); ok {
		return Event{Kind: Error, Text: strings.TrimSpace(rest)}
	}

	if ev, ok := interpretStructured(text); ok {
		return ev
	}

	if strings.HasSuffix(text, "?") {
		return Event{Kind: Summary, Text: text}
	}
	return Event{Kind: Answer, Text: text}
}

// interpretStructured attempts the JSON-object rule. ok is false when the
// frame is not a JSON object or decodes to nothing actionable, in which case
// the caller falls through to the text heuristic.
func interpretStructured(text string) (Event, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return Event{}, false
	}

	channel := firstString(obj, channelKeys)
	payload := firstString(obj, payloadKeys)

	switch strings.ToLower(channel) {
	case "summary", "question":
		return Event{Kind: Summary, Text: payload}, true
	case "summary_done", "question_done", "question_complete":
		return Event{Kind: SummaryDone}, true
	case "answer", "response":
		return Event{Kind: Answer, Text: payload}, true
	case "end", "complete":
		return Event{Kind: End}, true
	case "error":
		return Event{Kind: Error, Text: errorReason(obj, payload)}, true
	}

	if reason, ok := stringField(obj, "error"); ok {
		return Event{Kind: Error, Text: reason}, true
	}
	if status, ok := stringField(obj, "status"); ok && strings.EqualFold(status, "done") {
		return Event{Kind: End}, true
	}
	if payload != "" {
		return Event{Kind: Answer, Text: payload}, true
	}
	return Event{}, false
}

// errorReason extracts the most specific reason available from an error
// frame, preferring an explicit error field over the generic payload.
func errorReason(obj map[string]any, payload string) string {
	if reason, ok := stringField(obj, "error"); ok {
		return reason
	}
	if reason, ok := stringField(obj, "message"); ok {
		return reason
	}
	if payload != "" {
		return payload
	}
	return "upstream error"
}

// firstString returns the first non-empty string value among keys.
func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := stringField(obj, k); ok {
			return s
		}
	}
	return ""
}

func stringField(obj map[string]any, key string) (string, bool) {
	s, ok := obj[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
