package build

import (
	"os/exec"
	"runtime"
	"sync"
	"syscall"
)

// The tool leads its own group and dies with its parent.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
}

type spawnRequest struct {
	cmd *exec.Cmd
	err chan error
}

var (
	spawnOnce sync.Once
	spawns    chan spawnRequest
)

// startCommand forks every tool from one locked thread that never exits.
// Pdeathsig fires when the forking thread dies, not the process, and the
// runtime retires a thread whose goroutine exits while locked to it.
func startCommand(cmd *exec.Cmd) error {
	spawnOnce.Do(func() {
		spawns = make(chan spawnRequest)
		go func() {
			runtime.LockOSThread()
			for req := range spawns {
				req.err <- req.cmd.Start()
			}
		}()
	})
	req := spawnRequest{cmd: cmd, err: make(chan error, 1)}
	spawns <- req
	return <-req.err
}
