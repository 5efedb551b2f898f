package answer

import (
	"strings"
	"testing"
)

func TestSanitizeSections_CanonicalOrderRestored(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"## Implementation",
		"func solve() {}",
		"## Intuition",
		"Two pointers from both ends.",
	}, "\n")

	want := strings.Join([]string{
		"## Intuition",
		"Two pointers from both ends.",
		"",
		"## Implementation",
		"func solve() {}",
	}, "\n")

	if got := SanitizeSections(raw); got != want {
		t.Errorf("SanitizeSections =\n%q\nwant\n%q", got, want)
	}
}

func TestSanitizeSections_DuplicateSectionKeepsFirstBody(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"## Algorithm",
		"Sort, then scan once.",
		"## Algorithm",
		"Completely different second take.",
	}, "\n")

	got := SanitizeSections(raw)
	if !strings.Contains(got, "Sort, then scan once.") {
		t.Errorf("first body missing from %q", got)
	}
	if strings.Contains(got, "Completely different second take.") {
		t.Errorf("duplicate section body survived in %q", got)
	}
	if n := strings.Count(got, "## Algorithm"); n != 1 {
		t.Errorf("heading occurs %d times, want 1", n)
	}
}

func TestSanitizeSections_HardStopAfterTerminalSection(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"## Complexity Analysis",
		"O(n log n) time, O(1) space.",
		"## Afterword",
		"This line must be discarded.",
		"## Intuition",
		"So must this one.",
	}, "\n")

	got := SanitizeSections(raw)
	if !strings.Contains(got, "O(n log n) time, O(1) space.") {
		t.Errorf("terminal section body missing from %q", got)
	}
	for _, leaked := range []string{"Afterword", "discarded", "So must this one"} {
		if strings.Contains(got, leaked) {
			t.Errorf("content after terminal section leaked: %q in %q", leaked, got)
		}
	}
}

func TestSanitizeSections_PreambleComesFirst(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"Here is my take on the problem.",
		"## Intuition",
		"Greedy works because intervals are sorted.",
	}, "\n")

	got := SanitizeSections(raw)
	if !strings.HasPrefix(got, "Here is my take on the problem.") {
		t.Errorf("preamble not first in %q", got)
	}
	if !strings.Contains(got, "## Intuition\nGreedy works because intervals are sorted.") {
		t.Errorf("section body missing from %q", got)
	}
}

func TestSanitizeSections_AliasAndInlineText(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"### Complexity: O(n) time",
		"Constant extra space.",
	}, "\n")

	want := strings.Join([]string{
		"## Complexity Analysis",
		"O(n) time",
		"Constant extra space.",
	}, "\n")

	if got := SanitizeSections(raw); got != want {
		t.Errorf("SanitizeSections =\n%q\nwant\n%q", got, want)
	}
}

func TestSanitizeSections_UnstructuredFallsBackToRaw(t *testing.T) {
	t.Parallel()

	if got := SanitizeSections("   \n  \n"); got != "" {
		t.Errorf("whitespace-only input = %q, want empty", got)
	}

	raw := "Just a plain streamed answer without any headings."
	if got := SanitizeSections(raw); got != raw {
		t.Errorf("plain text = %q, want raw input", got)
	}
}

// Sanitization is recomputed over the whole buffer per chunk; growing the
// buffer must never change what was already rendered for the same prefix.
func TestSanitizeSections_PureFunctionOfBuffer(t *testing.T) {
	t.Parallel()

	full := "## Intuition\nUse a stack.\n## Algorithm\nPush opens, pop on close."
	for i := 1; i <= len(full); i++ {
		prefix := full[:i]
		if SanitizeSections(prefix) != SanitizeSections(prefix) {
			t.Fatalf("non-deterministic output for prefix %q", prefix)
		}
	}
}
