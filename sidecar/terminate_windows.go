//go:build windows

package sidecar

import (
	"os"
	"os/exec"
	"strconv"
)

// treeKillTerminator runs taskkill, which walks the child processes of pid.
type treeKillTerminator struct{}

func (treeKillTerminator) TerminateTree(pid int) error {
	cmd := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid))
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// DefaultTerminator returns the process-tree terminator for this platform.
func DefaultTerminator() Terminator { return treeKillTerminator{} }

func configureProcAttr(cmd *exec.Cmd) {}

func terminateProcess(p *os.Process) error {
	return p.Kill()
}

func forceKillTree(p *os.Process) {
	if err := (treeKillTerminator{}).TerminateTree(p.Pid); err != nil {
		_ = p.Kill()
	}
}
