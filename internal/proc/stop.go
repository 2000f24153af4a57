package proc

import (
	"context"
	"fmt"
	"log/slog"
)

// Stop terminates the process group with escalating signals: SIGINT,
// then SIGTERM, then SIGKILL, waiting the handle's grace period between
// steps. A failed signal is logged and escalation continues; the
// direct-child kill runs as a final backstop. Stop returns once the
// process has exited or ctx is cancelled.
func (h *Handle) Stop(ctx context.Context) error {
	if _, exited := h.TryWait(); exited {
		return nil
	}

	steps := []struct {
		name string
		send func() error
	}{
		{"SIGINT", h.interrupt},
		{"SIGTERM", h.terminate},
	}
	for _, step := range steps {
		if err := step.send(); err != nil {
			slog.Warn("signal failed, escalating",
				"signal", step.name, "pid", h.PID(), "error", err)
		}
		if h.waitFor(ctx, h.stopGrace) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if err := h.killGroup(); err != nil {
		slog.Warn("group kill failed", "pid", h.PID(), "error", err)
	}
	if err := h.Kill(); err != nil {
		slog.Warn("direct kill failed", "pid", h.PID(), "error", err)
	}

	if _, err := h.Wait(ctx); err != nil {
		return fmt.Errorf("await killed process: %w", err)
	}
	return nil
}
