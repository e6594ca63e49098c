//go:build windows

package helpers

import (
	"errors"
	"syscall"
)

// ERROR_NOT_SAME_DEVICE
const errNotSameDevice = syscall.Errno(17)

func isCrossDevice(err error) bool {
	return errors.Is(err, errNotSameDevice)
}
