//go:build linux && (amd64 || 386)

package native

import (
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// ptraceAttach executes the sys.PtraceAttach call.
func ptraceAttach(pid int) error {
	return sys.PtraceAttach(pid)
}

// ptraceDetach calls ptrace(PTRACE_DETACH).
func ptraceDetach(tid, sig int) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(tid), 1, uintptr(sig), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceCont executes ptrace PTRACE_CONT
func ptraceCont(tid, sig int) error {
	return sys.PtraceCont(tid, sig)
}

// ptracePeekData reads one word of the tracee's memory. The raw system
// call stores the word through the data pointer.
func ptracePeekData(tid int, addr uintptr) (uintptr, error) {
	var word uintptr
	_, _, err := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_PEEKDATA, uintptr(tid), addr, uintptr(unsafe.Pointer(&word)), 0, 0)
	if err != syscall.Errno(0) {
		return 0, err
	}
	return word, nil
}

// ptracePokeData writes one word of the tracee's memory.
func ptracePokeData(tid int, addr, word uintptr) error {
	_, _, err := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_POKEDATA, uintptr(tid), addr, word, 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptracePeekUser reads one word of the tracee's struct user.
func ptracePeekUser(tid int, off uintptr) (uintptr, error) {
	var word uintptr
	_, _, err := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_PEEKUSR, uintptr(tid), off, uintptr(unsafe.Pointer(&word)), 0, 0)
	if err != syscall.Errno(0) {
		return 0, err
	}
	return word, nil
}

// ptracePokeUser writes one word of the tracee's struct user.
func ptracePokeUser(tid int, off, word uintptr) error {
	_, _, err := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_POKEUSR, uintptr(tid), off, word, 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceGetRegs copies the general purpose registers of tid into buf,
// which must be as large as a sys.PtraceRegs.
func ptraceGetRegs(tid int, buf []byte) error {
	_, _, err := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_GETREGS, uintptr(tid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceSetRegs is the inverse of ptraceGetRegs.
func ptraceSetRegs(tid int, buf []byte) error {
	_, _, err := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_SETREGS, uintptr(tid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceGetFpRegs copies the FXSAVE image of tid into buf.
// See amd64_linux_fetch_inferior_registers in gdb/amd64-linux-nat.c.
func ptraceGetFpRegs(tid int, buf []byte) error {
	_, _, err := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_GETFPREGS, uintptr(tid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceSetFpRegs is the inverse of ptraceGetFpRegs.
func ptraceSetFpRegs(tid int, buf []byte) error {
	_, _, err := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_SETFPREGS, uintptr(tid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}
