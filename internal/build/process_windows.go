package build

import (
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func startCommand(cmd *exec.Cmd) error {
	return cmd.Start()
}

// terminateTree has no polite signal for console-less trees on Windows, so it
// asks taskkill to force-stop pid and all of its descendants.
func terminateTree(pid int, done <-chan struct{}, grace time.Duration) error {
	err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	}
	if p, findErr := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid)); findErr == nil {
		_ = windows.TerminateProcess(p, 1)
		_ = windows.CloseHandle(p)
	}
	return err
}
