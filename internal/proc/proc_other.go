//go:build !unix

package proc

import "os/exec"

// setProcessGroup is a no-op; cancellation falls back to killing the direct
// child and WaitDelay releases the output pipes.
func setProcessGroup(_ *exec.Cmd) {}
