package transcript

import (
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultMaxLen caps the rolling transcript at roughly two sentences of
	// context — enough to reconstruct one interviewer question.
	DefaultMaxLen = 700

	// defaultDuplicateThreshold is the Jaro-Winkler similarity above which an
	// incoming fragment is considered a re-transcription of the previous one
	// and dropped before merging.
	defaultDuplicateThreshold = 0.92
)

// Rolling is the bounded, continuously-merged transcript buffer. Fragments
// are folded in via [Merge]; writes are ignored while the buffer is paused
// (an answer session is in flight).
//
// All methods are safe for concurrent use.
type Rolling struct {
	mu           sync.Mutex
	text         string
	maxLen       int
	paused       bool
	lastFragment string
	dupThreshold float64
	vocab        *Vocabulary
}

// RollingOption configures a [Rolling] buffer.
type RollingOption func(*Rolling)

// WithMaxLen overrides the buffer cap. Values <= 0 disable truncation.
func WithMaxLen(n int) RollingOption {
	return func(r *Rolling) { r.maxLen = n }
}

// WithDuplicateThreshold overrides the Jaro-Winkler similarity above which a
// fragment is rejected as a near-duplicate of the previous one.
func WithDuplicateThreshold(t float64) RollingOption {
	return func(r *Rolling) { r.dupThreshold = t }
}

// WithVocabulary snaps incoming fragments to known technical terms before
// they are merged.
func WithVocabulary(v *Vocabulary) RollingOption {
	return func(r *Rolling) { r.vocab = v }
}

// NewRolling creates an empty rolling transcript with the default cap.
func NewRolling(opts ...RollingOption) *Rolling {
	r := &Rolling{
		maxLen:       DefaultMaxLen,
		dupThreshold: defaultDuplicateThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Append merges fragment into the buffer and returns the merged text.
// accepted is false when the write was ignored: empty fragment, paused
// buffer, or a near-duplicate of the previous fragment that adds no new
// content.
func (r *Rolling) Append(fragment string) (merged string, accepted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	norm := normalizeSpace(fragment)
	if norm == "" || r.paused {
		return r.text, false
	}
	norm = r.vocab.Correct(norm)

	if r.isNearDuplicate(norm) {
		return r.text, false
	}
	r.lastFragment = strings.ToLower(norm)

	r.text = Merge(r.text, norm, r.maxLen)
	return r.text, true
}

// isNearDuplicate reports whether norm is a re-transcription of the previous
// fragment without meaningful new content. Mirrors the upstream STT engine's
// gate: high string similarity and no more than a few extra characters.
func (r *Rolling) isNearDuplicate(norm string) bool {
	if r.lastFragment == "" {
		return false
	}
	lower := strings.ToLower(norm)
	if matchr.JaroWinkler(lower, r.lastFragment, false) < r.dupThreshold {
		return false
	}
	return len(lower) <= len(r.lastFragment)+4
}

// Snapshot returns the current buffer contents.
func (r *Rolling) Snapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text
}

// Reset clears the buffer and the duplicate gate.
func (r *Rolling) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = ""
	r.lastFragment = ""
}

// Pause suspends accumulation: subsequent Appends are ignored until Resume.
// Called when an answer session opens so the frozen question is not diluted
// by audio captured during the answer.
func (r *Rolling) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume re-enables accumulation.
func (r *Rolling) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

// Paused reports whether accumulation is currently suspended.
func (r *Rolling) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}
