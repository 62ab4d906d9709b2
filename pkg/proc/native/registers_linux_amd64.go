package native

import (
	"github.com/hldbg/hldbg/pkg/proc/regs"
)

const debugRegOffset = regs.LinuxAMD64DebugRegOffset

// 32 bit requests see the low half of the same user area.
var linuxAMD64Narrow = regs.LinuxAMD64.Narrow("linux/amd64 (32 bit)")

// Layout returns the register layout for the requested width.
func (dbp *nativeProcess) Layout(is64 bool) (*regs.Layout, error) {
	if is64 {
		return regs.LinuxAMD64, nil
	}
	return linuxAMD64Narrow, nil
}

// Native64 returns true, the tracer's context is the 64 bit one.
func (dbp *nativeProcess) Native64() bool { return true }
