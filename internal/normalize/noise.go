package normalize

import (
	"regexp"
	"strings"
)

// ansiPattern matches raw CSI escape sequences; ansiEscapedPattern
// matches the same sequences after JSON string escaping, which some
// wrappers emit verbatim.
var (
	ansiPattern        = regexp.MustCompile("\x1b\\[[0-9;?]*[0-9A-Za-z]")
	ansiEscapedPattern = regexp.MustCompile(`\\u001[bB]\[[0-9;?]*[0-9A-Za-z]`)
)

// StripANSI removes terminal escape sequences in both raw and
// unicode-escaped form.
func StripANSI(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	return ansiEscapedPattern.ReplaceAllString(s, "")
}

// spinnerGlyphs are progress indicator runes emitted by CLI wrappers.
const spinnerGlyphs = "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏◜◠◝◞◡◟|/-\\·∙…"

// noisePrefixes mark wrapper and package-manager chatter that carries
// no conversation content.
var noisePrefixes = []string{
	"npm warn",
	"npm notice",
	"yarn warn",
	"pnpm warn",
	"[dotenv",
	"debugger attached",
	"waiting for the debugger",
	"(node:",
}

// toolInvocationPrefixes mark lines that look like decoration but are
// actually tool activity markers. Never filtered.
var toolInvocationPrefixes = []string{
	"⏺",
	"tool:",
	"exec(",
}

// IsNoise reports whether a raw output line is wrapper noise: spinner
// frames, box-drawing banners, ANSI-only lines, or package-manager
// warnings. Lines with a recognized tool-invocation prefix are never
// noise.
func IsNoise(line string) bool {
	s := strings.TrimSpace(StripANSI(line))
	if s == "" {
		return true
	}
	for _, prefix := range toolInvocationPrefixes {
		if strings.HasPrefix(s, prefix) {
			return false
		}
	}
	if isDecoration(s) {
		return true
	}
	lower := strings.ToLower(s)
	for _, prefix := range noisePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// isDecoration reports whether every rune is a spinner frame, box
// drawing character, or whitespace.
func isDecoration(s string) bool {
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t':
		case strings.ContainsRune(spinnerGlyphs, r):
		case r >= 0x2500 && r <= 0x257F: // box drawing block
		case r >= 0x2580 && r <= 0x259F: // block elements
		case r == '╭' || r == '╮' || r == '╰' || r == '╯':
		default:
			return false
		}
	}
	return true
}

// sessionIDPattern recognizes dialects that announce their session in a
// key=value or key: value token on a plain-text line.
var sessionIDPattern = regexp.MustCompile(`(?i)\bsession[_-]?id[=:]\s*"?([0-9A-Za-z_-]{8,})"?`)

// ExtractSessionID pulls a session identifier out of a raw line, if the
// line carries one.
func ExtractSessionID(line string) (string, bool) {
	m := sessionIDPattern.FindStringSubmatch(StripANSI(line))
	if m == nil {
		return "", false
	}
	return m[1], true
}
