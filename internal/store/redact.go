package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// secretPatterns match known API key and token formats in captured
// output. These detect actual credential values, not variable names.
var secretPatterns = []*regexp.Regexp{
	// OpenAI keys: sk-... (including sk-proj-... format)
	regexp.MustCompile(`sk-[a-zA-Z0-9\-]{20,}`),
	// Anthropic keys: sk-ant-...
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-]{20,}`),
	// Groq keys: gsk_...
	regexp.MustCompile(`gsk_[a-zA-Z0-9]{20,}`),
	// Generic long hex tokens (64+ chars) that look like API keys
	regexp.MustCompile(`\b[a-f0-9]{64,}\b`),
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_.]{20,}`),
	// GitHub tokens
	regexp.MustCompile(`ghp_[a-zA-Z0-9]{36,}`),
	regexp.MustCompile(`gho_[a-zA-Z0-9]{36,}`),
	regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{22,}`),
	// AWS keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
}

const redactPlaceholder = "[REDACTED]"

// envKeyValuePattern matches KEY=VALUE lines where KEY is a known
// sensitive env var name. Catches output from set, export -p, declare -p.
var envKeyValuePattern = regexp.MustCompile(
	`(?im)^(?:declare -x |export )?` +
		`(AGENTRELAY_\w*|OPENAI_\w*|ANTHROPIC_\w*|GEMINI_\w*|GROQ_\w*|API_KEY|API_SECRET|AWS_SECRET\w*|GITHUB_TOKEN)` +
		`[= ].*$`,
)

// Redact replaces credential values and sensitive KEY=VALUE lines in
// text with a placeholder. The second return value is the number of
// secrets found.
func Redact(text string) (string, int) {
	count := 0
	result := text
	for _, re := range secretPatterns {
		matches := re.FindAllString(result, -1)
		if len(matches) > 0 {
			count += len(matches)
			result = re.ReplaceAllString(result, redactPlaceholder)
		}
	}

	envMatches := envKeyValuePattern.FindAllString(result, -1)
	if len(envMatches) > 0 {
		count += len(envMatches)
		result = envKeyValuePattern.ReplaceAllString(result, redactPlaceholder)
	}

	// Collapse consecutive redacted lines.
	for strings.Contains(result, redactPlaceholder+"\n"+redactPlaceholder) {
		result = strings.ReplaceAll(result, redactPlaceholder+"\n"+redactPlaceholder, redactPlaceholder)
	}

	return result, count
}

// RedactExecutionLogs scans the raw log files of a finished execution
// and redacts any leaked secrets in place. Returns the total number of
// secrets found.
func (s *Store) RedactExecutionLogs(id string) int {
	total := 0
	for _, stream := range []string{StreamStdout, StreamStderr} {
		path := s.LogPath(id, stream)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		redacted, count := Redact(string(data))
		if count > 0 {
			total += count
			slog.Warn("secrets redacted from execution log",
				"file", filepath.Base(path), "execution", id, "count", count)
			_ = os.WriteFile(path, []byte(redacted), 0o600)
		}
	}
	return total
}
