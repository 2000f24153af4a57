//go:build windows

package proc

import (
	"errors"
	"os/exec"
)

var errNoProcessGroups = errors.New("proc: process groups unsupported on windows")

// setupProcessGroup is a no-op on Windows, which has no Unix process
// groups. Cleanup falls back to killing the direct child.
func setupProcessGroup(cmd *exec.Cmd) {}

func (h *Handle) interrupt() error { return errNoProcessGroups }
func (h *Handle) terminate() error { return errNoProcessGroups }

// killGroup degrades to a direct-child kill.
func (h *Handle) killGroup() error { return h.Kill() }
