package transcript

import "strings"

const (
	// MaxQuestionLen bounds the cleaned question; when exceeded, the tail
	// (most recent content) is kept.
	MaxQuestionLen = 320

	// MinQuestionLen is the shortest cleaned question callers should accept.
	// Anything shorter is treated as "not a clear question".
	MinQuestionLen = 5
)

// BuildCleanedQuestion reduces a raw rolling transcript to the single
// most-likely interviewer question.
//
// The pipeline order is fixed: filler stripping, word-repeat collapse,
// phrase-repeat collapse, duplicated-tail removal, clause dedup, question
// extraction, then a final word-repeat pass and tail truncation. Returns ""
// for empty or whitespace-only input. Callers should additionally reject
// results shorter than [MinQuestionLen].
func BuildCleanedQuestion(raw string) string {
	s := normalizeSpace(raw)
	if s == "" {
		return ""
	}

	s = stripFillers(s)
	s = collapseWordRepeats(s)
	s = collapsePhraseRepeats(s)
	s = removeOverlappingSegments(s)
	s = collapseRepeatedClauses(s)
	s = extractLikelyQuestion(s)
	s = collapseWordRepeats(s)

	if len(s) > MaxQuestionLen {
		s = strings.TrimSpace(s[len(s)-MaxQuestionLen:])
	}
	return s
}

// IsClearQuestion reports whether cleaned passes the minimum-length gate.
func IsClearQuestion(cleaned string) bool {
	return len(strings.TrimSpace(cleaned)) >= MinQuestionLen
}
