//go:build !unix

package engine

import "os/exec"

// killProcessTree keeps the exec default, which kills the direct child.
func killProcessTree(_ *exec.Cmd) {}
