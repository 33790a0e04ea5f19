//go:build !unix

package exec

import "os/exec"

// setProcessGroup is a no-op where process groups are unavailable; the
// default cancel kills the direct child only.
func setProcessGroup(_ *exec.Cmd) {}
