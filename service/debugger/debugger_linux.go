package debugger

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"syscall"
)

//lint:file-ignore ST1005 errors here can be capitalized

func attachErrorMessage(pid int, err error) error {
	fallbackerr := fmt.Errorf("could not attach to pid %d: %w", pid, err)
	var serr syscall.Errno
	if errors.As(err, &serr) {
		switch serr {
		case syscall.EPERM:
			bs, rerr := ioutil.ReadFile("/proc/sys/kernel/yama/ptrace_scope")
			if rerr == nil && len(bs) >= 1 && bs[0] != '0' {
				// Yama documentation: https://www.kernel.org/doc/Documentation/security/Yama.txt
				return fmt.Errorf("Could not attach to pid %d: this could be caused by a kernel security setting, try writing \"0\" to /proc/sys/kernel/yama/ptrace_scope: %w", pid, err)
			}
			fi, statErr := os.Stat(fmt.Sprintf("/proc/%d", pid))
			if statErr != nil {
				return fallbackerr
			}
			if fi.Sys().(*syscall.Stat_t).Uid != uint32(os.Getuid()) {
				return fmt.Errorf("Could not attach to pid %d: current user does not own the process: %w", pid, err)
			}
		case syscall.ESRCH:
			return fmt.Errorf("Could not attach to pid %d: no such process: %w", pid, err)
		}
	}
	return fallbackerr
}
