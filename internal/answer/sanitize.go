// Package answer normalizes streamed model answers for display.
//
// Model output for coding questions is markdown-like but unreliable: sections
// arrive repeated, reordered, or followed by trailing noise. The sanitizer
// rebuilds the text into a fixed canonical section layout so the display
// surface always renders the same stable structure.
package answer

import (
	"regexp"
	"strings"
)

// canonicalSections is the fixed render order. terminalSection marks the end
// of a well-formed answer; any heading that follows it is discarded.
var canonicalSections = []string{
	"Intuition",
	"Algorithm",
	"Implementation",
	"Complexity Analysis",
}

const terminalSection = "Complexity Analysis"

// sectionAliases maps a normalized heading token (lowercase, letters only) to
// its canonical section. Misses fall back to prefix matching over these keys.
var sectionAliases = map[string]string{
	"intuition":          "Intuition",
	"idea":               "Intuition",
	"approach":           "Intuition",
	"algorithm":          "Algorithm",
	"solution":           "Algorithm",
	"implementation":     "Implementation",
	"code":               "Implementation",
	"complexity":         "Complexity Analysis",
	"complexityanalysis": "Complexity Analysis",
}

// aliasKeys fixes the prefix-match probe order so resolution is
// deterministic when a truncated token could match several aliases.
var aliasKeys = []string{
	"intuition", "idea", "approach",
	"algorithm", "solution",
	"implementation", "code",
	"complexity", "complexityanalysis",
}

var headingPattern = regexp.MustCompile(`^#{1,6}\s*(.+)$`)

// SanitizeSections rebuilds raw streamed answer text into the canonical
// section layout.
//
// It is a pure function of the full accumulated buffer: callers re-run it on
// every new chunk rather than feeding deltas, so the same input always yields
// the same output. Duplicate sections keep their first body, and everything
// after a heading that follows the terminal section is discarded. When
// nothing survives sanitization the trimmed raw input is returned unchanged.
func SanitizeSections(raw string) string {
	var (
		preamble []string
		bodies   = make(map[string][]string, len(canonicalSections))
		seen     = make(map[string]bool, len(canonicalSections))

		current      string // "" means preamble
		skip         bool
		terminalSeen bool
	)

	for _, line := range strings.Split(raw, "\n") {
		m := headingPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m != nil {
			canon := resolveSection(m[1])
			if terminalSeen && canon != terminalSection {
				break // hard stop: trailing noise after the final section
			}
			if canon == "" {
				// Unrecognized heading: treat as regular content.
				if !skip {
					appendLine(&preamble, bodies, current, line)
				}
				continue
			}
			if seen[canon] {
				skip = true
				continue
			}
			seen[canon] = true
			current = canon
			skip = false
			if canon == terminalSection {
				terminalSeen = true
			}
			if rest := inlineRemainder(m[1], canon); rest != "" {
				bodies[canon] = append(bodies[canon], rest)
			}
			continue
		}

		if skip {
			continue
		}
		appendLine(&preamble, bodies, current, line)
	}

	return assemble(preamble, bodies, raw)
}

// resolveSection maps heading text to a canonical section, or "" when the
// heading is not recognized. The first token decides: it is normalized to
// lowercase letters and looked up exactly, then by prefix.
func resolveSection(headingText string) string {
	fields := strings.Fields(headingText)
	if len(fields) == 0 {
		return ""
	}
	key := normalizeToken(fields[0])
	if key == "" {
		return ""
	}
	if canon, ok := sectionAliases[key]; ok {
		return canon
	}
	for _, alias := range aliasKeys {
		if strings.HasPrefix(alias, key) || strings.HasPrefix(key, alias) {
			return sectionAliases[alias]
		}
	}
	return ""
}

// normalizeToken lowercases and strips everything but letters.
func normalizeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// inlineRemainder returns heading text left over after the words of the
// canonical section name, for headings like "## Complexity: O(n log n)".
func inlineRemainder(headingText, canon string) string {
	words := strings.Fields(headingText)
	for _, cw := range strings.Fields(canon) {
		if len(words) == 0 {
			break
		}
		if normalizeToken(words[0]) != normalizeToken(cw) &&
			!strings.HasPrefix(normalizeToken(cw), normalizeToken(words[0])) {
			break
		}
		words = words[1:]
	}
	rest := strings.TrimLeft(strings.Join(words, " "), ":-– ")
	return strings.TrimSpace(rest)
}

func appendLine(preamble *[]string, bodies map[string][]string, current, line string) {
	if current == "" {
		*preamble = append(*preamble, line)
		return
	}
	bodies[current] = append(bodies[current], line)
}

// assemble renders the preamble then each canonical section in fixed order,
// separated by blank lines. Empty buckets are omitted; a fully empty result
// falls back to the trimmed raw input.
func assemble(preamble []string, bodies map[string][]string, raw string) string {
	var parts []string
	if p := strings.TrimSpace(strings.Join(preamble, "\n")); p != "" {
		parts = append(parts, p)
	}
	for _, canon := range canonicalSections {
		body := strings.TrimSpace(strings.Join(bodies[canon], "\n"))
		if body == "" {
			continue
		}
		parts = append(parts, "## "+canon+"\n"+body)
	}
	if len(parts) == 0 {
		return strings.TrimSpace(raw)
	}
	return strings.Join(parts, "\n\n")
}
