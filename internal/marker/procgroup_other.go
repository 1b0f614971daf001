// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

//go:build !unix

package marker

import "os/exec"

// killProcessGroup is a no-op; cmd.WaitDelay still bounds the wait.
func killProcessGroup(cmd *exec.Cmd) {}
