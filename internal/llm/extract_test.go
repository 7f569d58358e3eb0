package llm

import (
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			input: `{"selected_agent": "researcher", "confidence": 0.8}`,
			want:  `{"selected_agent": "researcher", "confidence": 0.8}`,
		},
		{
			name:  "fenced object",
			input: "```json\n{\"is_valid\": true}\n```",
			want:  `{"is_valid": true}`,
		},
		{
			name:  "prose around object",
			input: "Here is the plan you asked for:\n{\"steps\": []}\nLet me know.",
			want:  `{"steps": []}`,
		},
		{
			name:  "nested braces",
			input: `{"arguments": {"query": "chunk overlap"}}`,
			want:  `{"arguments": {"query": "chunk overlap"}}`,
		},
		{
			name:    "no object",
			input:   "I could not produce JSON for that.",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractJSONObjectOutermostSpan(t *testing.T) {
	// Two objects in one reply collapse to the outermost brace span.
	// This is the accepted best-effort behavior, not a strict parser.
	input := `{"a": 1} trailing {"b": 2}`
	got, err := ExtractJSONObject(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"a": 1} trailing {"b": 2}` {
		t.Errorf("got %q", got)
	}
}

func TestDecodeJSONObject(t *testing.T) {
	var out struct {
		Confidence float64 `json:"confidence"`
		Selected   string  `json:"selected_agent"`
	}
	reply := "Sure, here it is:\n```json\n{\"selected_agent\": \"writer\", \"confidence\": 0.61}\n```"
	if err := DecodeJSONObject(reply, &out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Selected != "writer" || out.Confidence != 0.61 {
		t.Errorf("unexpected decode result: %+v", out)
	}
}

func TestSplitLines(t *testing.T) {
	got := SplitLines("  first query \n\n second query\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(got), got)
	}
	if got[0] != "first query" || got[1] != "second query" {
		t.Errorf("unexpected lines: %v", got)
	}
}
