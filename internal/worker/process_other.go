//go:build !linux

package worker

import (
	"os"
	"os/exec"
)

func configureChild(cmd *exec.Cmd) {}

func orphaned(parent int) bool {
	return os.Getppid() != parent
}
