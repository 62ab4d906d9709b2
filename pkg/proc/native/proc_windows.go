//go:build windows && (amd64 || 386)

package native

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/handles"
)

// pollSlice bounds a single WaitForDebugEvent call so that Detach can run
// on the debugger thread while a caller waits indefinitely.
const pollSlice = 100 * time.Millisecond

// defaultHandleCacheSize is used when the session did not provide a cache.
const defaultHandleCacheSize = 16

// osProcessDetails holds Windows specific information.
type osProcessDetails struct {
	lastThread int64 // id of the thread of the last debug event, first for 64 bit alignment
	closing    int32
	handles    *handles.Cache
	ownHandles bool
	wow64      bool
}

func (os *osProcessDetails) Close() {
	if os.ownHandles && os.handles != nil {
		os.handles.Purge()
	}
}

var (
	_ proc.Tracer        = (*nativeProcess)(nil)
	_ proc.PollingWaiter = (*nativeProcess)(nil)
	_ handles.Opener     = (*Backend)(nil)
)

type winHandle windows.Handle

func (h winHandle) Close() error {
	return windows.CloseHandle(windows.Handle(h))
}

// OpenHandle opens the process or thread handle named by key.
func (b *Backend) OpenHandle(key handles.Key) (io.Closer, error) {
	switch key.Kind {
	case handles.KindProcess:
		h, err := windows.OpenProcess(_PROCESS_ALL_ACCESS, false, uint32(key.ID))
		if err != nil {
			return nil, fmt.Errorf("OpenProcess(%d): %w", key.ID, err)
		}
		return winHandle(h), nil
	case handles.KindThread:
		h, err := _OpenThread(_THREAD_SUSPEND_RESUME|_THREAD_GET_CONTEXT|_THREAD_SET_CONTEXT|_THREAD_QUERY_INFORMATION, false, uint32(key.ID))
		if err != nil {
			return nil, fmt.Errorf("OpenThread(%d): %w", key.ID, err)
		}
		return winHandle(h), nil
	}
	return nil, fmt.Errorf("unknown handle kind %v", key.Kind)
}

// Attach to an existing process with the given PID.
func (b *Backend) Attach(pid int, env *proc.AttachEnv) (proc.Tracer, error) {
	dbp := newProcess(pid, env)
	if env != nil && env.Handles != nil {
		dbp.os.handles = env.Handles
	} else {
		c, err := handles.New(defaultHandleCacheSize, b)
		if err != nil {
			dbp.postExit()
			return nil, err
		}
		dbp.os.handles, dbp.os.ownHandles = c, true
	}

	err := dbp.execPtraceFunc(func() error {
		return _DebugActiveProcess(uint32(pid))
	})
	if err != nil {
		dbp.postExit()
		return nil, &proc.AttachError{Op: "attach", Pid: pid, Err: err}
	}

	hProcess, err := dbp.processHandle()
	if err == nil {
		err = windows.IsWow64Process(hProcess, &dbp.os.wow64)
	}
	if err != nil {
		_ = dbp.execPtraceFunc(func() error { return _DebugActiveProcessStop(uint32(pid)) })
		dbp.postExit()
		return nil, &proc.AttachError{Op: "attach", Pid: pid, Err: err}
	}
	dbp.log.Debugf("attached, wow64=%v", dbp.os.wow64)
	return dbp, nil
}

func (dbp *nativeProcess) processHandle() (windows.Handle, error) {
	h, err := dbp.os.handles.Get(handles.Key{Kind: handles.KindProcess, Pid: dbp.pid, ID: dbp.pid})
	if err != nil {
		return 0, err
	}
	return windows.Handle(h.(winHandle)), nil
}

func (dbp *nativeProcess) threadHandle(tid int) (windows.Handle, error) {
	if tid <= 0 {
		tid = int(atomic.LoadInt64(&dbp.os.lastThread))
	}
	h, err := dbp.os.handles.Get(handles.Key{Kind: handles.KindThread, Pid: dbp.pid, ID: tid})
	if err != nil {
		return 0, err
	}
	return windows.Handle(h.(winHandle)), nil
}

// Poll waits for the next debug event. A zero timeout waits indefinitely.
func (dbp *nativeProcess) Poll(timeout time.Duration) (proc.Event, bool, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if atomic.LoadInt32(&dbp.os.closing) != 0 {
			return proc.Event{Status: proc.StatusError}, true, proc.ErrSessionClosed
		}
		slice := pollSlice
		if timeout > 0 {
			rem := time.Until(deadline)
			if rem <= 0 {
				return proc.Event{Status: proc.StatusTimeout}, false, nil
			}
			if rem < slice {
				slice = rem
			}
		}
		var (
			ev  proc.Event
			got bool
		)
		err := dbp.execPtraceFunc(func() (err error) {
			ev, got, err = dbp.waitForDebugEvent(uint32(slice / time.Millisecond))
			return err
		})
		if err != nil {
			return proc.Event{Status: proc.StatusError}, true, err
		}
		if got {
			return ev, true, nil
		}
	}
}

// waitForDebugEvent waits at most milliseconds for one debug event and
// classifies it. Events that do not stop the target are continued here.
func (dbp *nativeProcess) waitForDebugEvent(milliseconds uint32) (proc.Event, bool, error) {
	var debugEvent _DEBUG_EVENT
	if err := _WaitForDebugEvent(&debugEvent, milliseconds); err != nil {
		if errors.Is(err, windows.ERROR_SEM_TIMEOUT) {
			return proc.Event{}, false, nil
		}
		return proc.Event{}, false, fmt.Errorf("WaitForDebugEvent: %w", err)
	}
	tid := int(debugEvent.ThreadId)
	atomic.StoreInt64(&dbp.os.lastThread, int64(tid))

	unionPtr := unsafe.Pointer(&debugEvent.U[0])
	continueStatus, mustContinue := uint32(_DBG_CONTINUE), true
	ev := proc.Event{Status: proc.StatusHandled, ThreadID: tid}

	switch debugEvent.DebugEventCode {
	case _CREATE_PROCESS_DEBUG_EVENT:
		closeFileHandle((*_CREATE_PROCESS_DEBUG_INFO)(unionPtr).File)
	case _LOAD_DLL_DEBUG_EVENT:
		closeFileHandle((*_LOAD_DLL_DEBUG_INFO)(unionPtr).File)
	case _EXIT_THREAD_DEBUG_EVENT:
		dbp.os.handles.Remove(handles.Key{Kind: handles.KindThread, Pid: dbp.pid, ID: tid})
	case _EXIT_PROCESS_DEBUG_EVENT:
		ev.Status, mustContinue = proc.StatusExited, false
		dbp.log.Debugf("process exited with code %d", (*_EXIT_PROCESS_DEBUG_INFO)(unionPtr).ExitCode)
	case _EXCEPTION_DEBUG_EVENT:
		code := (*_EXCEPTION_DEBUG_INFO)(unionPtr).ExceptionRecord.ExceptionCode
		ev.Status, continueStatus, mustContinue = classifyException(code)
		dbp.log.Debugf("exception %#x on thread %d: %s", code, tid, ev.Status)
	}

	if mustContinue {
		if err := _ContinueDebugEvent(debugEvent.ProcessId, debugEvent.ThreadId, continueStatus); err != nil {
			return proc.Event{}, false, fmt.Errorf("ContinueDebugEvent: %w", err)
		}
	}
	return ev, true, nil
}

// classifyException maps an exception code to an event. Exceptions the
// debugger has no interest in are continued with the returned status.
func classifyException(code uint32) (status proc.EventStatus, continueStatus uint32, mustContinue bool) {
	switch code {
	case _EXCEPTION_BREAKPOINT, _STATUS_WX86_BREAKPOINT:
		return proc.StatusBreakpoint, 0, false
	case _EXCEPTION_SINGLE_STEP, _STATUS_WX86_SINGLE_STEP:
		return proc.StatusSingleStep, 0, false
	case _MS_VC_EXCEPTION:
		// Sent by SetThreadName, masking it keeps the target alive.
		return proc.StatusHandled, _DBG_CONTINUE, true
	case _CXX_EH_EXCEPTION, _RPC_S_SERVER_UNAVAILABLE:
		return proc.StatusHandled, _DBG_EXCEPTION_NOT_HANDLED, true
	case _EXCEPTION_STACK_OVERFLOW:
		return proc.StatusStackOverflow, 0, false
	}
	return proc.StatusError, 0, false
}

func closeFileHandle(h windows.Handle) {
	if h != 0 && h != windows.InvalidHandle {
		windows.CloseHandle(h)
	}
}

// Interrupt calls DebugBreakProcess, the target reports a breakpoint
// exception on a new thread.
func (dbp *nativeProcess) Interrupt() error {
	h, err := dbp.processHandle()
	if err != nil {
		return err
	}
	return _DebugBreakProcess(h)
}

// Resume continues the last debug event reported for tid.
func (dbp *nativeProcess) Resume(tid int) (err error) {
	if tid <= 0 {
		tid = int(atomic.LoadInt64(&dbp.os.lastThread))
	}
	err = dbp.execPtraceFunc(func() error { return _ContinueDebugEvent(uint32(dbp.pid), uint32(tid), _DBG_CONTINUE) })
	return
}

// Detach stops debugging the process, the target keeps running.
func (dbp *nativeProcess) Detach() error {
	if dbp.detached {
		return nil
	}
	atomic.StoreInt32(&dbp.os.closing, 1)
	var err error
	err = dbp.execPtraceFunc(func() error { return _DebugActiveProcessStop(uint32(dbp.pid)) })
	dbp.postExit()
	if err != nil {
		return &proc.AttachError{Op: "detach", Pid: dbp.pid, Err: err}
	}
	dbp.log.Debugf("detached")
	return nil
}

// ReadMemory reads len(data) bytes at addr with ReadProcessMemory.
func (dbp *nativeProcess) ReadMemory(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	h, err := dbp.processHandle()
	if err != nil {
		return &proc.MemoryError{Op: "read", Addr: addr, Len: len(data), Err: err}
	}
	var count uintptr
	err = _ReadProcessMemory(h, uintptr(addr), &data[0], uintptr(len(data)), &count)
	if err == nil && int(count) != len(data) {
		err = fmt.Errorf("short read: %d bytes", count)
	}
	if err != nil {
		return &proc.MemoryError{Op: "read", Addr: addr, Len: len(data), Err: err}
	}
	return nil
}

// WriteMemory writes data at addr with WriteProcessMemory.
func (dbp *nativeProcess) WriteMemory(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	h, err := dbp.processHandle()
	if err != nil {
		return &proc.MemoryError{Op: "write", Addr: addr, Len: len(data), Err: err}
	}
	var count uintptr
	err = _WriteProcessMemory(h, uintptr(addr), &data[0], uintptr(len(data)), &count)
	if err == nil && int(count) != len(data) {
		err = fmt.Errorf("short write: %d bytes", count)
	}
	if err != nil {
		return &proc.MemoryError{Op: "write", Addr: addr, Len: len(data), Err: err}
	}
	return nil
}

// FlushInstructionCache must follow writes to code.
func (dbp *nativeProcess) FlushInstructionCache(addr uint64, size int) error {
	h, err := dbp.processHandle()
	if err != nil {
		return err
	}
	return _FlushInstructionCache(h, uintptr(addr), uintptr(size))
}
