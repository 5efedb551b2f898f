package transcript

import (
	"regexp"
	"strings"
)

// The normalization pipeline runs a fixed number of passes in a fixed order.
// Later passes depend on earlier ones' output (phrase-repeat collapse must
// run before clause extraction), so the passes must not be merged or
// reordered. The pipeline deliberately does not iterate to a fixpoint:
// pathological input may retain residual duplication, and that bounded
// behavior is part of the observable contract.

const (
	// overlapWindowMax/Min bound the duplicated-tail search in
	// removeOverlappingSegments.
	overlapWindowMax = 18
	overlapWindowMin = 6

	// overlapMinWords is the word count below which the duplicated-tail pass
	// is skipped entirely.
	overlapMinWords = 12
)

// fillerPattern matches conversational filler as whole words/phrases,
// case-insensitively. Longer alternatives come first so "you know" is not
// half-eaten by a shorter match.
var fillerPattern = regexp.MustCompile(`(?i)\b(?:you know|i mean|okay so|uhm|erm|uh|um|like)\b`)

// stripFillers removes filler words and phrases and renormalizes whitespace.
func stripFillers(s string) string {
	return normalizeSpace(fillerPattern.ReplaceAllString(s, " "))
}

// collapseWordRepeats collapses two or more consecutive occurrences of the
// same word (case-insensitive) to a single occurrence.
func collapseWordRepeats(s string) string {
	words := strings.Fields(s)
	if len(words) < 2 {
		return s
	}
	out := words[:1]
	for _, w := range words[1:] {
		if strings.EqualFold(w, out[len(out)-1]) {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// collapsePhraseRepeats collapses an adjacent repeated phrase of n words
// ("A B C A B C" -> "A B C") for n of 3 and 4, over two passes each.
func collapsePhraseRepeats(s string) string {
	words := strings.Fields(s)
	for pass := 0; pass < 2; pass++ {
		for _, n := range []int{4, 3} {
			words = collapseAdjacentPhrase(words, n)
		}
	}
	return strings.Join(words, " ")
}

// collapseAdjacentPhrase removes the second copy of any immediately repeated
// n-word run, scanning left to right.
func collapseAdjacentPhrase(words []string, n int) []string {
	for i := 0; i+2*n <= len(words); {
		if equalFoldRun(words[i:i+n], words[i+n:i+2*n]) {
			words = append(words[:i+n:i+n], words[i+2*n:]...)
			continue
		}
		i++
	}
	return words
}

// removeOverlappingSegments drops a duplicated tail: when the last `window`
// words also occur as an earlier run, the tail copy is removed. Windows are
// tried from large to small so the longest duplication wins. Inputs shorter
// than overlapMinWords words are returned unchanged.
func removeOverlappingSegments(s string) string {
	words := strings.Fields(s)
	if len(words) < overlapMinWords {
		return s
	}

	maxWindow := min(overlapWindowMax, len(words)/2)
	for window := maxWindow; window >= overlapWindowMin; window-- {
		tail := words[len(words)-window:]
		for start := 0; start+window <= len(words)-window; start++ {
			if equalFoldRun(words[start:start+window], tail) {
				return strings.Join(words[:len(words)-window], " ")
			}
		}
	}
	return s
}

// collapseRepeatedClauses splits on sentence terminators and drops any clause
// whose normalized form was already seen, preserving first occurrences in
// their original order.
func collapseRepeatedClauses(s string) string {
	clauses := splitClauses(s)
	if len(clauses) < 2 {
		return s
	}

	seen := make(map[string]bool, len(clauses))
	var out []string
	for _, c := range clauses {
		key := strings.ToLower(normalizeSpace(strings.TrimRight(c, ".?!")))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return strings.Join(out, " ")
}

// splitClauses splits s on sentence terminators, keeping each terminator
// attached to its clause. Trailing text without a terminator forms the final
// clause.
func splitClauses(s string) []string {
	var clauses []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '?', '!':
			c := strings.TrimSpace(s[start : i+1])
			if c != "" {
				clauses = append(clauses, c)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		clauses = append(clauses, rest)
	}
	return clauses
}

// questionHints are the interrogative openers used to pick the most likely
// question clause when the transcript carries no question mark.
var questionHints = []string{
	"what", "how", "why", "when", "where", "which", "who",
	"can you", "could you", "would you", "do you", "have you",
	"tell me", "describe", "is there",
}

// extractLikelyQuestion isolates the single best question candidate.
//
// When the text contains a '?', the substring from just after the nearest
// preceding '.'/'!' up to and including the last '?' is returned. Otherwise
// clauses are scanned from the end for the first one that starts with or
// contains (space-bounded) a question hint; if none match, the last clause
// is returned as-is.
func extractLikelyQuestion(s string) string {
	if qi := strings.LastIndexByte(s, '?'); qi >= 0 {
		start := strings.LastIndexAny(s[:qi], ".!") + 1
		return strings.TrimSpace(s[start : qi+1])
	}

	clauses := splitClauses(s)
	if len(clauses) == 0 {
		return strings.TrimSpace(s)
	}
	for i := len(clauses) - 1; i >= 0; i-- {
		lower := strings.ToLower(clauses[i])
		for _, hint := range questionHints {
			if strings.HasPrefix(lower, hint+" ") || strings.Contains(lower, " "+hint+" ") {
				return clauses[i]
			}
		}
	}
	return clauses[len(clauses)-1]
}

// equalFoldRun reports whether two equal-length word runs match
// case-insensitively.
func equalFoldRun(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
