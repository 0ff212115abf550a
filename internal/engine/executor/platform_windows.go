//go:build windows

package executor

import (
	"os/exec"
	"syscall"
)

// applyPlatformAttrs sets CREATE_NO_WINDOW so a spawned CLI agent never
// flashes a console window on Windows.
func applyPlatformAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x08000000}
}
