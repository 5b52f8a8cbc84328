package jsonutil

import "testing"

type testVerdict struct {
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"`
	Reasons    string  `json:"reasons"`
}

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"too short", "```", "```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("StripMarkdownFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractObject(t *testing.T) {
	got, err := ExtractObject(`The verdict is {"match": true, "confidence": 0.8} as requested.`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"match": true, "confidence": 0.8}` {
		t.Errorf("unexpected extraction: %q", got)
	}

	if _, err := ExtractObject("no braces here"); err == nil {
		t.Error("expected error for text without an object")
	}
	if _, err := ExtractObject("only opening {"); err == nil {
		t.Error("expected error for unclosed object")
	}
}

func TestParseJSON_ProseWrapped(t *testing.T) {
	raw := "Sure! Here is my judgement:\n{\"match\": true, \"confidence\": 0.92, \"reasons\": \"clearly shows the step\"}\nLet me know if you need more."
	v, err := ParseJSON[testVerdict](raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Match || v.Confidence != 0.92 {
		t.Errorf("unexpected verdict: %+v", v)
	}
}

func TestParseJSON_Invalid(t *testing.T) {
	if _, err := ParseJSON[testVerdict]("{not json}"); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := ParseJSON[testVerdict]("nothing to see"); err == nil {
		t.Error("expected error for missing JSON")
	}
}
