//go:build linux

package disk

import (
	"os/exec"
	"syscall"
)

// setProcAttr kills the child if we die while it still holds the key.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
