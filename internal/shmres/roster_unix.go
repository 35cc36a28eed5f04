//go:build unix

package shmres

import (
	"os"
	"syscall"
)

func signal0(proc *os.Process) error {
	return proc.Signal(syscall.Signal(0))
}
