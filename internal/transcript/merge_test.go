package transcript

import "testing"

func TestMerge_EmptyBuffer(t *testing.T) {
	t.Parallel()

	got := Merge("", "  tell me   about ", DefaultMaxLen)
	if got != "tell me about" {
		t.Errorf("Merge into empty buffer = %q, want %q", got, "tell me about")
	}
}

func TestMerge_EmptyFragment(t *testing.T) {
	t.Parallel()

	const buf = "tell me about yourself"
	if got := Merge(buf, "   ", DefaultMaxLen); got != buf {
		t.Errorf("Merge with blank fragment = %q, want buffer unchanged", got)
	}
}

func TestMerge_FullDuplicateIsNoOp(t *testing.T) {
	t.Parallel()

	const buf = "we discussed the project timeline"
	if got := Merge(buf, "the project timeline", DefaultMaxLen); got != buf {
		t.Errorf("Merge with duplicated tail = %q, want buffer unchanged", got)
	}
}

func TestMerge_PartialOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		buffer   string
		fragment string
		want     string
	}{
		{
			name:     "multi-word overlap",
			buffer:   "tell me about",
			fragment: "about yourself and",
			want:     "tell me about yourself and",
		},
		{
			name:     "case-insensitive overlap",
			buffer:   "I worked at ACME CORP",
			fragment: "acme corp on the backend team",
			want:     "I worked at ACME CORP on the backend team",
		},
		{
			name:     "boundary word overlap",
			buffer:   "tell me about yourself and",
			fragment: "and your experience",
			want:     "tell me about yourself and your experience",
		},
		{
			name:     "disjoint fragments get a separating space",
			buffer:   "first question done",
			fragment: "next question begins",
			want:     "first question done next question begins",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Merge(tt.buffer, tt.fragment, DefaultMaxLen); got != tt.want {
				t.Errorf("Merge(%q, %q) = %q, want %q", tt.buffer, tt.fragment, got, tt.want)
			}
		})
	}
}

func TestMerge_ThreeFragmentScenario(t *testing.T) {
	t.Parallel()

	buf := ""
	for _, frag := range []string{"tell me about", "about yourself and", "and your experience"} {
		buf = Merge(buf, frag, DefaultMaxLen)
	}
	const want = "tell me about yourself and your experience"
	if buf != want {
		t.Errorf("merged buffer = %q, want %q", buf, want)
	}
}

func TestMerge_TruncatesFromFront(t *testing.T) {
	t.Parallel()

	got := Merge("the quick brown fox", "jumped over the lazy dog", 20)
	if len(got) > 20 {
		t.Fatalf("merged length = %d, want <= 20", len(got))
	}
	if want := "ed over the lazy dog"; got != want {
		t.Errorf("truncated buffer = %q, want %q (tail kept)", got, want)
	}
}
