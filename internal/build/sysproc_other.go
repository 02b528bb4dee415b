//go:build !windows && !linux

package build

import (
	"os/exec"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func startCommand(cmd *exec.Cmd) error {
	return cmd.Start()
}
