package native

import (
	"golang.org/x/sys/windows"

	"github.com/hldbg/hldbg/pkg/proc/regs"
)

const (
	_CONTEXT_AMD64           = 0x100000
	_CONTEXT_CONTROL         = _CONTEXT_AMD64 | 0x1
	_CONTEXT_INTEGER         = _CONTEXT_AMD64 | 0x2
	_CONTEXT_FLOATING_POINT  = _CONTEXT_AMD64 | 0x8
	_CONTEXT_DEBUG_REGISTERS = _CONTEXT_AMD64 | 0x10

	_WOW64_CONTEXT_i386               = 0x10000
	_WOW64_CONTEXT_CONTROL            = _WOW64_CONTEXT_i386 | 0x1
	_WOW64_CONTEXT_INTEGER            = _WOW64_CONTEXT_i386 | 0x2
	_WOW64_CONTEXT_SEGMENTS           = _WOW64_CONTEXT_i386 | 0x4
	_WOW64_CONTEXT_DEBUG_REGISTERS    = _WOW64_CONTEXT_i386 | 0x10
	_WOW64_CONTEXT_EXTENDED_REGISTERS = _WOW64_CONTEXT_i386 | 0x20
)

var amd64Context = threadContext{
	size:        regs.WindowsAMD64ContextSize,
	flagsOffset: regs.WindowsAMD64ContextFlagsOffset,
	flags:       _CONTEXT_CONTROL | _CONTEXT_INTEGER | _CONTEXT_FLOATING_POINT | _CONTEXT_DEBUG_REGISTERS,
	get:         func(h windows.Handle, buf *byte) error { return _GetThreadContext(h, buf) },
	set:         func(h windows.Handle, buf *byte) error { return _SetThreadContext(h, buf) },
}

var wow64Context = threadContext{
	size:        regs.WindowsX86ContextSize,
	flagsOffset: regs.WindowsX86ContextFlagsOffset,
	flags:       _WOW64_CONTEXT_CONTROL | _WOW64_CONTEXT_INTEGER | _WOW64_CONTEXT_SEGMENTS | _WOW64_CONTEXT_DEBUG_REGISTERS | _WOW64_CONTEXT_EXTENDED_REGISTERS,
	get:         func(h windows.Handle, buf *byte) error { return _Wow64GetThreadContext(h, buf) },
	set:         func(h windows.Handle, buf *byte) error { return _Wow64SetThreadContext(h, buf) },
}

func contextFor(is64 bool) *threadContext {
	if is64 {
		return &amd64Context
	}
	return &wow64Context
}

// Layout returns CONTEXT for 64 bit requests and WOW64_CONTEXT otherwise.
func (dbp *nativeProcess) Layout(is64 bool) (*regs.Layout, error) {
	if is64 {
		return regs.WindowsAMD64, nil
	}
	return regs.WindowsWOW64, nil
}

// Native64 is false for WOW64 processes, whose threads are stopped in 32
// bit code.
func (dbp *nativeProcess) Native64() bool { return !dbp.os.wow64 }
