package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// vocabPhoneticThreshold is the minimum Jaro-Winkler score required when
	// the candidate window shares a Double Metaphone code with the term.
	vocabPhoneticThreshold = 0.72

	// vocabFuzzyThreshold is the minimum score when no phonetic overlap
	// exists. Kept very high so plain English words are not rewritten
	// ("routine" scores 0.93 against "goroutine" and must survive).
	vocabFuzzyThreshold = 0.95

	// vocabMinWordLen excludes short words from matching; snapping "go" or
	// "at" to a vocabulary term is almost always wrong.
	vocabMinWordLen = 4
)

// vocabTerm is one known spelling with its precomputed phonetic codes.
type vocabTerm struct {
	text   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Vocabulary snaps misheard speech-to-text output to a list of known
// technical terms. STT engines reliably butcher domain vocabulary —
// "go routine" for "goroutine", "cooper netties" for "kubernetes" — and the
// downstream question is much easier to answer with the real terms in place.
//
// Matching combines Double Metaphone code overlap with Jaro-Winkler ranking:
// a window of up to two words is replaced by a term when they sound alike and
// the string similarity clears the threshold. A Vocabulary is read-only after
// construction and safe for concurrent use.
type Vocabulary struct {
	terms []vocabTerm
}

// NewVocabulary builds a Vocabulary from the given terms. Blank entries are
// skipped. A nil or empty slice yields a Vocabulary whose Correct is a no-op.
func NewVocabulary(terms []string) *Vocabulary {
	v := &Vocabulary{}
	for _, t := range terms {
		t = normalizeSpace(t)
		if t == "" {
			continue
		}
		lower := strings.ToLower(t)
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, vocabTerm{
			text:   t,
			lower:  lower,
			tokens: tokens,
			codes:  phoneticCodes(tokens),
		})
	}
	return v
}

// Correct rewrites text, replacing word windows that phonetically match a
// vocabulary term with the term's canonical spelling. Windows of one and two
// words are considered; the two-word window wins ties so that split
// compounds ("go routine") collapse into one term.
func (v *Vocabulary) Correct(text string) string {
	if v == nil || len(v.terms) == 0 {
		return text
	}

	words := strings.Fields(text)
	out := make([]string, 0, len(words))

	for i := 0; i < len(words); {
		if term, width, ok := v.matchAt(words, i); ok {
			// Carry trailing punctuation of the last consumed word.
			_, trail := splitPunct(words[i+width-1])
			out = append(out, term+trail)
			i += width
			continue
		}
		out = append(out, words[i])
		i++
	}
	return strings.Join(out, " ")
}

// matchAt tries the two-word window at position i first, then the single
// word. Returns the matched term and the window width in words.
func (v *Vocabulary) matchAt(words []string, i int) (term string, width int, ok bool) {
	if i+1 < len(words) {
		first, _ := splitPunct(words[i])
		second, _ := splitPunct(words[i+1])
		// A window broken by punctuation ("routine, and") is not a split
		// compound.
		if !strings.ContainsAny(words[i], ",.?!;:") {
			if t, matched := v.lookupCompound(first, second); matched {
				return t, 2, true
			}
		}
	}
	word, _ := splitPunct(words[i])
	if t, matched := v.lookupWord(word); matched {
		return t, 1, true
	}
	return "", 0, false
}

// lookupCompound matches two adjacent words run together against the
// vocabulary. The bar is higher than for single words: the concatenation
// itself must sound like the term, otherwise windows like "to kubernetis"
// would swallow their leading word.
func (v *Vocabulary) lookupCompound(first, second string) (string, bool) {
	concat := strings.ToLower(first + second)
	if len(concat) < vocabMinWordLen || first == "" || second == "" {
		return "", false
	}
	codes := phoneticCodes([]string{concat})

	var best string
	var bestScore float64
	for _, t := range v.terms {
		if !codesOverlap(codes, t.codes) {
			continue
		}
		termConcat := strings.Join(t.tokens, "")
		if concat == termConcat {
			return t.text, true
		}
		if score := matchr.JaroWinkler(concat, termConcat, false); score >= vocabPhoneticThreshold && score > bestScore {
			best, bestScore = t.text, score
		}
	}
	return best, best != ""
}

// lookupWord finds the best vocabulary term for a single word, or reports no
// match.
func (v *Vocabulary) lookupWord(word string) (string, bool) {
	lower := strings.ToLower(word)
	if len(lower) < vocabMinWordLen {
		return "", false
	}
	codes := phoneticCodes([]string{lower})

	var (
		best      string
		bestScore float64
		bestPhon  bool
	)
	for _, t := range v.terms {
		if lower == t.lower {
			// Already the canonical spelling.
			return "", false
		}
		// A lone word never expands to a multi-word term; "pull" must not
		// become "pull request".
		if len(t.tokens) > 1 {
			continue
		}
		phonetic := codesOverlap(codes, t.codes)
		score := matchr.JaroWinkler(lower, t.lower, false)

		switch {
		case phonetic && score >= vocabPhoneticThreshold:
			if !bestPhon || score > bestScore {
				best, bestScore, bestPhon = t.text, score, true
			}
		case !phonetic && !bestPhon && score >= vocabFuzzyThreshold:
			if score > bestScore {
				best, bestScore = t.text, score
			}
		}
	}
	return best, best != ""
}

// phoneticCodes returns the Double Metaphone codes of every token plus the
// code of the tokens run together, so "go routine" can meet "goroutine".
// Empty codes are excluded.
func phoneticCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2+2)
	add := func(word string) {
		p, s := matchr.DoubleMetaphone(word)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	for _, t := range tokens {
		add(t)
	}
	if len(tokens) > 1 {
		add(strings.Join(tokens, ""))
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// splitPunct splits trailing sentence punctuation off a word.
func splitPunct(word string) (core, trail string) {
	end := len(word)
	for end > 0 && strings.ContainsRune(",.?!;:", rune(word[end-1])) {
		end--
	}
	return word[:end], word[end:]
}
