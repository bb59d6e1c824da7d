package tokenizer

import "testing"

func TestGetEncoding(t *testing.T) {
	tok := New()

	cases := []struct{ model, want string }{
		{"gpt-4o-mini", "o200k_base"},
		{"gpt-4o", "o200k_base"},
		{"gpt-4o-mini-2024-07-18", "o200k_base"}, // prefix match
		{"gpt-4", "cl100k_base"},
		{"gpt-4-turbo", "cl100k_base"},
		{"gpt-3.5-turbo", "cl100k_base"},
		{"some-unknown-model", "o200k_base"}, // default
	}
	for _, c := range cases {
		if got := tok.GetEncoding(c.model); got != c.want {
			t.Errorf("GetEncoding(%q): got %q, want %q", c.model, got, c.want)
		}
	}
}

func TestCountTokens_EmptyText(t *testing.T) {
	tok := New()
	// Counting must never panic; zero is acceptable when the encoding
	// cannot be loaded in the test environment.
	if n := tok.CountTokens("gpt-4o-mini", ""); n < 0 {
		t.Errorf("CountTokens: got %d", n)
	}
}
