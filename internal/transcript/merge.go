// Package transcript consolidates noisy, incrementally-arriving speech-to-text
// fragments into a stable rolling buffer and reduces that buffer to the single
// most-likely interviewer question.
//
// The upstream STT engine emits arbitrary-sized text fragments at irregular
// intervals with possible overlap and repetition: a sliding audio window means
// the tail of one fragment is frequently re-transcribed at the head of the
// next. [Merge] removes that overlap before appending; [BuildCleanedQuestion]
// runs the fixed normalization pipeline over the merged buffer.
package transcript

import "strings"

const (
	// minCharOverlap is the smallest suffix/prefix run (in bytes) accepted as
	// a character-level overlap between buffer tail and fragment head.
	minCharOverlap = 4

	// minWordOverlap is the smallest run accepted by the word-level fallback.
	minWordOverlap = 3
)

// normalizeSpace collapses all runs of whitespace to single spaces and trims.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Merge folds fragment into buffer, removing any overlap between the tail of
// buffer and the head of fragment, and returns the new buffer truncated from
// the front to maxLen bytes.
//
// Overlap detection runs two passes: an exact case-insensitive character
// match over decreasing window lengths, then a word-level fallback comparing
// lower-cased joined runs. A fragment that is entirely contained in the
// buffer tail is a no-op, as is a fragment that normalizes to nothing.
func Merge(buffer, fragment string, maxLen int) string {
	fragment = normalizeSpace(fragment)
	if fragment == "" {
		return buffer
	}
	if strings.TrimSpace(buffer) == "" {
		return truncateFront(fragment, maxLen)
	}

	delta := fragment[overlapLen(buffer, fragment):]
	if strings.TrimSpace(delta) == "" {
		return buffer
	}

	joined := buffer
	if !strings.HasSuffix(joined, " ") && !strings.HasPrefix(delta, " ") {
		joined += " "
	}
	joined += delta

	return truncateFront(joined, maxLen)
}

// overlapLen returns the number of leading bytes of fragment that duplicate
// the tail of buffer, or 0 when no overlap of at least the minimum window is
// found.
func overlapLen(buffer, fragment string) int {
	limit := min(len(buffer), len(fragment))

	// Character-level pass: longest window first.
	for n := limit; n >= minCharOverlap; n-- {
		if strings.EqualFold(buffer[len(buffer)-n:], fragment[:n]) {
			return n
		}
	}

	// Word-level fallback: tolerate whitespace/punctuation drift between the
	// two transcriptions of the same audio.
	bufWords := strings.Fields(buffer)
	fragWords := strings.Fields(fragment)
	for n := min(len(bufWords), len(fragWords)); n >= minWordOverlap; n-- {
		tail := strings.ToLower(strings.Join(bufWords[len(bufWords)-n:], " "))
		head := strings.ToLower(strings.Join(fragWords[:n], " "))
		if tail == head {
			// fragment is space-normalized, so the joined length is exact.
			return len(strings.Join(fragWords[:n], " "))
		}
	}

	// Boundary-word check: a sliding STT window frequently splits mid-phrase,
	// so the last word of the buffer reappears as the first word of the next
	// fragment ("… yourself and" + "and your …"). Very short words are
	// excluded to avoid merging on a coincidental article.
	if len(bufWords) > 0 && len(fragWords) > 0 {
		last, first := bufWords[len(bufWords)-1], fragWords[0]
		if len(first) >= minWordOverlap && strings.EqualFold(last, first) {
			return len(first)
		}
	}

	return 0
}

// truncateFront drops bytes from the front of s until it fits maxLen,
// keeping the most recent content. maxLen <= 0 disables truncation.
func truncateFront(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}
