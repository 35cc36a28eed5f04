//go:build !unix

package hybridlock

import "errors"

func openKernelSem(name string, fake bool) (kernelSem, error) {
	if fake {
		return newFakeSem(name), nil
	}
	return nil, errors.New("hybridlock: named kernel semaphores require a Unix host")
}
