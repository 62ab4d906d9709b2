//go:build windows && (amd64 || 386)

package native

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/hldbg/hldbg/pkg/proc/regs"
)

// contextCall transfers a thread context to or from buf.
type contextCall func(thread windows.Handle, buf *byte) error

// threadContext describes one flavour of the CONTEXT structure.
type threadContext struct {
	size        int
	flagsOffset int
	flags       uint32
	get, set    contextCall
}

// alignedBuffer returns a zeroed buffer of size bytes aligned to 16 bytes,
// the alignment required by the amd64 CONTEXT structure.
func alignedBuffer(size int) []byte {
	b := make([]byte, size+15)
	off := int((16 - uintptr(unsafe.Pointer(&b[0]))&15) & 15)
	return b[off : off+size : off+size]
}

// ReadContext returns the thread context of tid. On Windows the whole
// CONTEXT structure is the general area.
func (dbp *nativeProcess) ReadContext(tid int, area regs.Area, is64 bool) ([]byte, error) {
	tc, err := dbp.threadContext(area, is64)
	if err != nil {
		return nil, err
	}
	h, err := dbp.threadHandle(tid)
	if err != nil {
		return nil, err
	}
	buf := alignedBuffer(tc.size)
	*(*uint32)(unsafe.Pointer(&buf[tc.flagsOffset])) = tc.flags
	if err := tc.get(h, &buf[0]); err != nil {
		return nil, fmt.Errorf("reading context of thread %d: %w", tid, err)
	}
	return buf, nil
}

// WriteContext stores a context previously returned by ReadContext.
func (dbp *nativeProcess) WriteContext(tid int, area regs.Area, is64 bool, buf []byte) error {
	tc, err := dbp.threadContext(area, is64)
	if err != nil {
		return err
	}
	if len(buf) < tc.size {
		return fmt.Errorf("short thread context: %d bytes", len(buf))
	}
	h, err := dbp.threadHandle(tid)
	if err != nil {
		return err
	}
	abuf := alignedBuffer(tc.size)
	copy(abuf, buf)
	if err := tc.set(h, &abuf[0]); err != nil {
		return fmt.Errorf("writing context of thread %d: %w", tid, err)
	}
	return nil
}

func (dbp *nativeProcess) threadContext(area regs.Area, is64 bool) (*threadContext, error) {
	if _, err := dbp.Layout(is64); err != nil {
		return nil, err
	}
	if area != regs.AreaGeneral {
		return nil, fmt.Errorf("%w: %s area", regs.ErrUnsupportedRegister, area)
	}
	return contextFor(is64), nil
}
