//go:build linux

package worker

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureChild makes the kernel kill the child when the parent dies and
// puts it in its own process group so cancellation reaches grandchildren.
func configureChild(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: unix.SIGKILL,
		Setpgid:   true,
	}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}

// orphaned reports whether the process that started us is gone.
func orphaned(parent int) bool {
	return unix.Getppid() != parent
}
