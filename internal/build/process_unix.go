//go:build !windows

package build

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// terminateTree signals the process group led by pid: SIGTERM first, then
// SIGKILL once the leader exits or the grace period runs out. The group is
// always killed so descendants that ignore SIGTERM or outlive the leader do
// not linger.
func terminateTree(pid int, done <-chan struct{}, grace time.Duration) error {
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
