//go:build !windows

package executor

import "os/exec"

// applyPlatformAttrs is a no-op outside Windows.
func applyPlatformAttrs(cmd *exec.Cmd) {}
