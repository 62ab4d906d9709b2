//go:build !linux
// +build !linux

package debugger

import (
	"fmt"
)

func attachErrorMessage(pid int, err error) error {
	return fmt.Errorf("could not attach to pid %d: %w", pid, err)
}
