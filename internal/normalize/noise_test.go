package normalize

import "testing"

func TestIsNoise(t *testing.T) {
	cases := []struct {
		line  string
		noise bool
	}{
		{"⠋", true},
		{"  ⠙ ", true},
		{"─────────────────", true},
		{"╭──────────────╮", true},
		{"\x1b[1;32m─────\x1b[0m", true},
		{"\x1b[2K\x1b[1G", true},
		{`[33mbanner[0m ───`, false}, // carries the word "banner"
		{"npm warn deprecated inflight@1.0.6", true},
		{"npm notice New major version available", true},
		{"yarn warn package.json: no license field", true},
		{"(node:1234) ExperimentalWarning: stream/web", true},
		{"", true},
		{"   ", true},
		{"real assistant output", false},
		{"⏺ Read(main.go)", false},
		{"tool: bash ls -la", false},
		{"exec(go test ./...)", false},
		// Tool marker wins even when the rest looks like decoration.
		{"⏺ ───", false},
	}
	for _, c := range cases {
		if got := IsNoise(c.line); got != c.noise {
			t.Errorf("IsNoise(%q) = %v, want %v", c.line, got, c.noise)
		}
	}
}

func TestStripANSI(t *testing.T) {
	in := "\x1b[1;31mred\x1b[0m plain " + `[32mgreen[0m`
	if got := StripANSI(in); got != "red plain green" {
		t.Errorf("StripANSI = %q", got)
	}
}

func TestExtractSessionID(t *testing.T) {
	cases := []struct {
		line string
		id   string
		ok   bool
	}{
		{"session_id=abc123def456", "abc123def456", true},
		{"Starting with session-id: 0f8ab3c29d01", "0f8ab3c29d01", true},
		{`info sessionId="f00ba4f00ba4"`, "f00ba4f00ba4", true},
		{"SESSION_ID=UPPER1234567", "UPPER1234567", true},
		{"no identifier here", "", false},
		{"session_id=short", "", false}, // below minimum length
	}
	for _, c := range cases {
		id, ok := ExtractSessionID(c.line)
		if ok != c.ok || id != c.id {
			t.Errorf("ExtractSessionID(%q) = %q, %v; want %q, %v", c.line, id, ok, c.id, c.ok)
		}
	}
}
