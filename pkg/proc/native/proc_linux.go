//go:build linux && (amd64 || 386)

package native

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/hldbg/hldbg/pkg/proc"
)

// detachRetryTimeout bounds the time spent waiting for a running tracee to
// enter a ptrace stop so that it can be detached.
const detachRetryTimeout = 500 * time.Millisecond

// osProcessDetails contains Linux specific
// process details.
type osProcessDetails struct{}

func (os *osProcessDetails) Close() {}

var (
	_ proc.Tracer         = (*nativeProcess)(nil)
	_ proc.BlockingWaiter = (*nativeProcess)(nil)
)

// Attach to an existing process with the given PID. The initial SIGSTOP
// is left pending and is reported by the first call to WaitNative.
func (b *Backend) Attach(pid int, env *proc.AttachEnv) (proc.Tracer, error) {
	dbp := newProcess(pid, env)

	var err error
	err = dbp.execPtraceFunc(func() error { return ptraceAttach(dbp.pid) })
	if err != nil {
		dbp.postExit()
		return nil, &proc.AttachError{Op: "attach", Pid: pid, Err: err}
	}
	dbp.log.Debugf("attached")
	return dbp, nil
}

// WaitNative blocks in wait4 until the tracee reports a state change.
func (dbp *nativeProcess) WaitNative() (proc.Event, error) {
	var s sys.WaitStatus
	for {
		wpid, err := sys.Wait4(dbp.pid, &s, sys.WALL, nil)
		if errors.Is(err, sys.EINTR) {
			continue
		}
		if err != nil {
			return proc.Event{Status: proc.StatusError}, fmt.Errorf("wait4 %d: %w", dbp.pid, err)
		}
		ev := proc.Event{Status: classifyWaitStatus(s), ThreadID: wpid}
		dbp.log.Debugf("wait4: tid %d status %#x: %s", wpid, uint32(s), ev.Status)
		return ev, nil
	}
}

// classifyWaitStatus maps the status reported by wait4 to an event.
func classifyWaitStatus(s sys.WaitStatus) proc.EventStatus {
	switch {
	case s.Exited(), s.Signaled():
		return proc.StatusExited
	case s.Stopped():
		switch s.StopSignal() {
		case sys.SIGSTOP, sys.SIGTRAP:
			return proc.StatusBreakpoint
		}
		return proc.StatusError
	}
	return proc.StatusHandled
}

// Interrupt sends SIGTRAP to the process.
func (dbp *nativeProcess) Interrupt() error {
	return sys.Kill(dbp.pid, sys.SIGTRAP)
}

// Resume continues tid, or the main thread if tid is not positive, without
// delivering any signal.
func (dbp *nativeProcess) Resume(tid int) (err error) {
	if tid <= 0 {
		tid = dbp.pid
	}
	err = dbp.execPtraceFunc(func() error { return ptraceCont(tid, 0) })
	return
}

// Detach from the process. A running tracee is stopped first since
// PTRACE_DETACH only succeeds on a tracee in a ptrace stop.
func (dbp *nativeProcess) Detach() error {
	if dbp.detached {
		return nil
	}
	var err error
	err = dbp.execPtraceFunc(func() error { return dbp.detach() })
	dbp.postExit()
	if err != nil {
		return &proc.AttachError{Op: "detach", Pid: dbp.pid, Err: err}
	}
	dbp.log.Debugf("detached")
	return nil
}

func (dbp *nativeProcess) detach() error {
	err := ptraceDetach(dbp.pid, 0)
	if err != sys.ESRCH {
		return err
	}
	if s := status(dbp.pid); s == statusZombie || s == 0 {
		// process is gone, there is nothing to detach from
		return nil
	}
	if err := sys.Tgkill(dbp.pid, dbp.pid, sys.SIGSTOP); err != nil {
		return fmt.Errorf("stopping for detach: %w", err)
	}
	deadline := time.Now().Add(detachRetryTimeout)
	for {
		err = ptraceDetach(dbp.pid, 0)
		if err != sys.ESRCH || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		return err
	}
	// The SIGSTOP can still be pending when the detach succeeds, in which
	// case the process enters group stop shortly after.
	time.Sleep(50 * time.Millisecond)
	if s := status(dbp.pid); s == statusGroupStop {
		_ = sys.Kill(dbp.pid, sys.SIGCONT)
	}
	return nil
}

// ReadMemory reads len(data) bytes at addr one word at a time.
func (dbp *nativeProcess) ReadMemory(addr uint64, data []byte) (err error) {
	err = dbp.execPtraceFunc(func() error { return proc.ReadWords(ptraceWords(dbp.pid), addr, data) })
	return
}

// WriteMemory writes data at addr one word at a time.
func (dbp *nativeProcess) WriteMemory(addr uint64, data []byte) (err error) {
	err = dbp.execPtraceFunc(func() error { return proc.WriteWords(ptraceWords(dbp.pid), addr, data) })
	return
}

// FlushInstructionCache is a no-op, x86 keeps instruction caches coherent
// with writes made through ptrace.
func (dbp *nativeProcess) FlushInstructionCache(addr uint64, size int) error {
	return nil
}

// ptraceWords transfers memory of the tracee with PEEKDATA and POKEDATA. It
// must only be used from the ptrace goroutine.
type ptraceWords int

func (ptraceWords) WordSize() int { return ptrSize }

func (w ptraceWords) PeekWord(addr uint64) (uint64, error) {
	v, err := ptracePeekData(int(w), uintptr(addr))
	return uint64(v), err
}

func (w ptraceWords) PokeWord(addr uint64, word uint64) error {
	return ptracePokeData(int(w), uintptr(addr), uintptr(word))
}

// Process statuses
const (
	statusZombie    = 'Z'
	statusGroupStop = 'T'
)

// status returns the state field of /proc/pid/stat, or 0 if it can not be
// read.
func status(pid int) rune {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0
	}
	// The second field is the name of the task in parentheses, it can
	// contain both parentheses and spaces.
	i := bytes.LastIndexByte(buf, ')')
	if i < 0 || i+2 >= len(buf) {
		return 0
	}
	return rune(buf[i+2])
}
