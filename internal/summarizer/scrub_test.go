package summarizer

import "testing"

func TestCleanMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"heading", "# Title\nbody", "Title\nbody"},
		{"bold italic", "***wow*** normal", "wow normal"},
		{"bold", "**important**", "important"},
		{"bold underscore", "__important__", "important"},
		{"italic star", "*note*", "note"},
		{"italic underscore", "_note_", "note"},
		{"list bullet dash", "- item one\n- item two", "• item one\n• item two"},
		{"inline code", "run `go test` now", "run go test now"},
		{"blank run collapse", "a\n\n\n\nb", "a\n\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cleanMarkdown(tt.in)
			if got != tt.want {
				t.Errorf("cleanMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanMarkdown_Empty(t *testing.T) {
	if got := cleanMarkdown(""); got != "" {
		t.Errorf("cleanMarkdown(\"\") = %q, want empty", got)
	}
}
