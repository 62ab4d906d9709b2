package proc

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAttached is returned when an operation names a pid that has no
	// session.
	ErrNotAttached = errors.New("process is not attached")
	// ErrAlreadyAttached is returned by Start for a pid that already has a
	// session.
	ErrAlreadyAttached = errors.New("process is already attached")
	// ErrPoolExhausted is returned by Start when every session slot is in use.
	ErrPoolExhausted = errors.New("no free session slot")
	// ErrSessionClosed is returned by operations on a session that is being
	// or has been stopped.
	ErrSessionClosed = errors.New("session closed")
	// ErrRunning is returned by backends that can not access a process
	// while it runs.
	ErrRunning = errors.New("process is running")
	// ErrUnsupportedOS is returned by backends that cannot run on the host.
	ErrUnsupportedOS = errors.New("backend not supported on this operating system")
)

// ErrProcessExited indicates that the process has exited and contains both
// process id and exit status.
type ErrProcessExited struct {
	Pid    int
	Status int
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("process %d has exited with status %d", pe.Pid, pe.Status)
}

// AttachError wraps a native attach or detach failure.
type AttachError struct {
	Op  string
	Pid int
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("%s %d: %v", e.Op, e.Pid, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// MemoryError describes a failed transfer to or from the target's memory.
// No bytes should be assumed transferred when a MemoryError is returned.
type MemoryError struct {
	Op   string
	Addr uint64
	Len  int
	Err  error
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("memory %s at %#x (%d bytes): %v", e.Op, e.Addr, e.Len, e.Err)
}

func (e *MemoryError) Unwrap() error { return e.Err }
