package native

import (
	"fmt"

	"github.com/hldbg/hldbg/pkg/proc/regs"
)

const debugRegOffset = regs.Linux386DebugRegOffset

// Layout returns the register layout for the requested width. A 32 bit
// tracer can not observe a 64 bit context.
func (dbp *nativeProcess) Layout(is64 bool) (*regs.Layout, error) {
	if is64 {
		return nil, fmt.Errorf("%w: 64 bit context requested on %s", regs.ErrWidthMismatch, regs.Linux386.Name)
	}
	return regs.Linux386, nil
}

func (dbp *nativeProcess) Native64() bool { return false }
