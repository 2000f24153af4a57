//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup gives the child its own process group and replaces
// cmd.Cancel with a group-wide SIGKILL, so tool-spawned grandchildren
// never outlive the agent.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		p := cmd.Process
		if p == nil {
			return nil
		}
		// A negative pid addresses the whole group.
		return syscall.Kill(-p.Pid, syscall.SIGKILL)
	}
}

// signalGroup delivers sig to the child's process group.
func (h *Handle) signalGroup(sig syscall.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-h.cmd.Process.Pid, sig)
}

func (h *Handle) interrupt() error { return h.signalGroup(syscall.SIGINT) }
func (h *Handle) terminate() error { return h.signalGroup(syscall.SIGTERM) }
func (h *Handle) killGroup() error { return h.signalGroup(syscall.SIGKILL) }
