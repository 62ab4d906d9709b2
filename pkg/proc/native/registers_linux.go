//go:build linux && (amd64 || 386)

package native

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/hldbg/hldbg/pkg/proc/regs"
)

const (
	ptrSize = int(unsafe.Sizeof(uintptr(0)))

	// fxsaveSize is the size of the image transferred by PTRACE_GETFPREGS.
	fxsaveSize = 512

	numDebugRegs = 8
)

// ReadContext returns a copy of a register area of tid. The general area
// is a sys.PtraceRegs, the debug area is the u_debugreg array and the
// vector area is the FXSAVE image.
func (dbp *nativeProcess) ReadContext(tid int, area regs.Area, is64 bool) (buf []byte, err error) {
	if _, err := dbp.Layout(is64); err != nil {
		return nil, err
	}
	if tid <= 0 {
		tid = dbp.pid
	}
	err = dbp.execPtraceFunc(func() (err error) {
		switch area {
		case regs.AreaGeneral:
			buf = make([]byte, unsafe.Sizeof(sys.PtraceRegs{}))
			err = ptraceGetRegs(tid, buf)
		case regs.AreaDebug:
			buf, err = readDebugRegs(tid)
		case regs.AreaVector:
			buf = make([]byte, fxsaveSize)
			err = ptraceGetFpRegs(tid, buf)
		default:
			err = fmt.Errorf("unknown register area %d", area)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s registers of thread %d: %w", area, tid, err)
	}
	return buf, nil
}

// WriteContext stores a register area previously returned by ReadContext.
func (dbp *nativeProcess) WriteContext(tid int, area regs.Area, is64 bool, buf []byte) (err error) {
	if _, err := dbp.Layout(is64); err != nil {
		return err
	}
	if tid <= 0 {
		tid = dbp.pid
	}
	err = dbp.execPtraceFunc(func() error {
		switch area {
		case regs.AreaGeneral:
			if len(buf) < int(unsafe.Sizeof(sys.PtraceRegs{})) {
				return fmt.Errorf("short general register area: %d bytes", len(buf))
			}
			return ptraceSetRegs(tid, buf)
		case regs.AreaDebug:
			return writeDebugRegs(tid, buf)
		case regs.AreaVector:
			if len(buf) < fxsaveSize {
				return fmt.Errorf("short vector register area: %d bytes", len(buf))
			}
			return ptraceSetFpRegs(tid, buf)
		}
		return fmt.Errorf("unknown register area %d", area)
	})
	if err != nil {
		return fmt.Errorf("writing %s registers of thread %d: %w", area, tid, err)
	}
	return nil
}

// DR4 and DR5 are reserved, PTRACE_PEEKUSER returns EIO for them.
func reservedDebugReg(i int) bool { return i == 4 || i == 5 }

func readDebugRegs(tid int) ([]byte, error) {
	buf := make([]byte, numDebugRegs*ptrSize)
	for i := 0; i < numDebugRegs; i++ {
		if reservedDebugReg(i) {
			continue
		}
		v, err := ptracePeekUser(tid, uintptr(debugRegOffset+i*ptrSize))
		if err != nil {
			return nil, fmt.Errorf("dr%d: %w", i, err)
		}
		putWord(buf[i*ptrSize:], uint64(v))
	}
	return buf, nil
}

func writeDebugRegs(tid int, buf []byte) error {
	if len(buf) < numDebugRegs*ptrSize {
		return fmt.Errorf("short debug register area: %d bytes", len(buf))
	}
	for i := 0; i < numDebugRegs; i++ {
		if reservedDebugReg(i) {
			continue
		}
		v := getWord(buf[i*ptrSize:])
		if err := ptracePokeUser(tid, uintptr(debugRegOffset+i*ptrSize), uintptr(v)); err != nil {
			return fmt.Errorf("dr%d: %w", i, err)
		}
	}
	return nil
}

func putWord(b []byte, v uint64) {
	if ptrSize == 8 {
		binary.LittleEndian.PutUint64(b, v)
	} else {
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
}

func getWord(b []byte) uint64 {
	if ptrSize == 8 {
		return binary.LittleEndian.Uint64(b)
	}
	return uint64(binary.LittleEndian.Uint32(b))
}
