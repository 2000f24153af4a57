package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ppiankov/neurorouter"

	"github.com/avohra/agentrelay/internal/config"
)

// startProxy launches the Responses API translation proxy when the
// config enables it and returns a stop func. A bind failure is not
// fatal: another agentrelay process may already own the port, and the
// running proxy serves this one too.
func startProxy(s *config.Settings) (func(), error) {
	if s == nil || s.Proxy == nil || !s.Proxy.Enabled {
		return func() {}, nil
	}
	cfg, err := resolveProxyConfig(s.Proxy)
	if err != nil {
		return nil, fmt.Errorf("proxy config: %w", err)
	}
	srv := neurorouter.NewProxy(cfg)
	if _, err := srv.Start(); err != nil {
		slog.Warn("proxy start failed (may already be running)", "error", err)
		return func() {}, nil
	}
	return func() {
		if err := srv.Stop(); err != nil {
			slog.Warn("proxy stop error", "error", err)
		}
	}, nil
}

// resolveProxyConfig converts config.ProxyConfig to neurorouter's,
// resolving "env:VAR_NAME" references in API keys.
func resolveProxyConfig(pc *config.ProxyConfig) (neurorouter.ProxyConfig, error) {
	cfg := neurorouter.ProxyConfig{
		Listen:  pc.Listen,
		Targets: make(map[string]neurorouter.Target, len(pc.Targets)),
	}
	if cfg.Listen == "" {
		cfg.Listen = ":4000"
	}
	for name, t := range pc.Targets {
		apiKey := t.APIKey
		if rest, ok := strings.CutPrefix(apiKey, "env:"); ok {
			apiKey = os.Getenv(rest)
			if apiKey == "" {
				return neurorouter.ProxyConfig{}, fmt.Errorf("target %q: env var %q is not set", name, rest)
			}
		}
		cfg.Targets[name] = neurorouter.Target{BaseURL: t.BaseURL, APIKey: apiKey}
	}
	return cfg, nil
}
