package native

import (
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/hldbg/hldbg/pkg/proc/regs"
)

const (
	_CONTEXT_i386               = 0x10000
	_CONTEXT_CONTROL            = _CONTEXT_i386 | 0x1
	_CONTEXT_INTEGER            = _CONTEXT_i386 | 0x2
	_CONTEXT_SEGMENTS           = _CONTEXT_i386 | 0x4
	_CONTEXT_DEBUG_REGISTERS    = _CONTEXT_i386 | 0x10
	_CONTEXT_EXTENDED_REGISTERS = _CONTEXT_i386 | 0x20
)

var x86Context = threadContext{
	size:        regs.WindowsX86ContextSize,
	flagsOffset: regs.WindowsX86ContextFlagsOffset,
	flags:       _CONTEXT_CONTROL | _CONTEXT_INTEGER | _CONTEXT_SEGMENTS | _CONTEXT_DEBUG_REGISTERS | _CONTEXT_EXTENDED_REGISTERS,
	get:         func(h windows.Handle, buf *byte) error { return _GetThreadContext(h, buf) },
	set:         func(h windows.Handle, buf *byte) error { return _SetThreadContext(h, buf) },
}

func contextFor(is64 bool) *threadContext { return &x86Context }

func (dbp *nativeProcess) Layout(is64 bool) (*regs.Layout, error) {
	if is64 {
		return nil, fmt.Errorf("%w: 64 bit context requested on %s", regs.ErrWidthMismatch, regs.Windows386.Name)
	}
	return regs.Windows386, nil
}

func (dbp *nativeProcess) Native64() bool { return false }
