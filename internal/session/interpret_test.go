package session

import "testing"

func TestInterpret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{"empty frame", "", Event{Kind: Noop}},
		{"whitespace frame", "  \n ", Event{Kind: Noop}},
		{"end sentinel", "[END]", Event{Kind: End}},
		{"error sentinel", "[ERROR] upstream exploded", Event{Kind: Error, Text: "upstream exploded"}},
		{"json summary chunk", `{"type":"summary","chunk":"What is"}`, Event{Kind: Summary, Text: "What is"}},
		{"json question alias", `{"channel":"question","text":"a mutex?"}`, Event{Kind: Summary, Text: "a mutex?"}},
		{"json summary done", `{"type":"summary_done"}`, Event{Kind: SummaryDone}},
		{"json question complete", `{"kind":"question_complete"}`, Event{Kind: SummaryDone}},
		{"json answer chunk", `{"type":"answer","chunk":"A mutex is"}`, Event{Kind: Answer, Text: "A mutex is"}},
		{"json response alias", `{"role":"response","data":"a lock"}`, Event{Kind: Answer, Text: "a lock"}},
		{"json end channel", `{"type":"end"}`, Event{Kind: End}},
		{"json done status", `{"status":"done"}`, Event{Kind: End}},
		{"json error channel", `{"type":"error","error":"boom"}`, Event{Kind: Error, Text: "boom"}},
		{"json error field only", `{"error":"no capacity"}`, Event{Kind: Error, Text: "no capacity"}},
		{"json payload without channel", `{"text":"free-form chunk"}`, Event{Kind: Answer, Text: "free-form chunk"}},
		{"question heuristic", "Is this a question?", Event{Kind: Summary, Text: "Is this a question?"}},
		{"plain text defaults to answer", "plain streamed text", Event{Kind: Answer, Text: "plain streamed text"}},
		{"unusable json falls back to heuristic", `{"foo":1}`, Event{Kind: Answer, Text: `{"foo":1}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Interpret([]byte(tt.frame)); got != tt.want {
				t.Errorf("Interpret(%q) = %+v, want %+v", tt.frame, got, tt.want)
			}
		})
	}
}

func TestInterpret_SentinelBeatsHeuristic(t *testing.T) {
	t.Parallel()

	// The sentinel rules run before JSON decode and before the trailing-'?'
	// heuristic; padding whitespace must not defeat them.
	if got := Interpret([]byte("  [END]  ")); got.Kind != End {
		t.Errorf("padded sentinel classified as %v, want End", got.Kind)
	}
}

func TestInterpret_ErrorChannelPrefersMessageOverPayload(t *testing.T) {
	t.Parallel()

	got := Interpret([]byte(`{"type":"error","message":"rate limited","chunk":"ignored"}`))
	want := Event{Kind: Error, Text: "rate limited"}
	if got != want {
		t.Errorf("Interpret = %+v, want %+v", got, want)
	}
}
