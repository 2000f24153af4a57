package proc

import (
	"os"
	"sort"
	"strings"
)

// sensitiveEnvPrefixes are env var name prefixes stripped from agent
// subprocess environments. Agents run arbitrary tool commands; anything
// that dumps the environment must not see credentials the agent was
// never given explicitly.
var sensitiveEnvPrefixes = []string{
	"AGENTRELAY_",
	"OPENAI_API",
	"ANTHROPIC_API",
	"GEMINI_API",
	"GROQ_API",
	"AWS_SECRET",
	"AWS_SESSION",
	"GITHUB_TOKEN",
}

// sensitiveEnvExact are env var names stripped by exact match.
var sensitiveEnvExact = []string{
	"API_KEY",
	"API_SECRET",
	"SECRET_KEY",
}

// SanitizedEnv returns os.Environ() with sensitive variables removed.
// Every spawn path must start from this instead of os.Environ().
func SanitizedEnv() []string {
	return sanitizeEnv(os.Environ())
}

func sanitizeEnv(environ []string) []string {
	clean := make([]string, 0, len(environ))
	for _, entry := range environ {
		name, _, ok := strings.Cut(entry, "=")
		if !ok {
			clean = append(clean, entry)
			continue
		}
		if sensitiveName(strings.ToUpper(name)) {
			continue
		}
		clean = append(clean, entry)
	}
	return clean
}

func sensitiveName(upper string) bool {
	for _, prefix := range sensitiveEnvPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	for _, exact := range sensitiveEnvExact {
		if upper == exact {
			return true
		}
	}
	return false
}

// MergeEnv appends overrides onto base in deterministic order. Later
// entries win under os/exec semantics, so overrides shadow base values.
func MergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	merged := make([]string, len(base), len(base)+len(keys))
	copy(merged, base)
	for _, k := range keys {
		merged = append(merged, k+"="+overrides[k])
	}
	return merged
}
