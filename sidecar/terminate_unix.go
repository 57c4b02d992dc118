//go:build !windows

package sidecar

import (
	"os"
	"os/exec"
	"syscall"
)

// groupTerminator signals the negated pid, which reaches every member of the process group.
// The sidecar is started as a group leader (see configureProcAttr) so its workers share its group.
type groupTerminator struct{}

func (groupTerminator) TerminateTree(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// DefaultTerminator returns the process-tree terminator for this platform.
func DefaultTerminator() Terminator { return groupTerminator{} }

func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// forceKillTree is the escalation used when the tree ignores the termination request.
func forceKillTree(p *os.Process) {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		_ = p.Kill()
	}
}
