package proc

import (
	"time"

	"github.com/hldbg/hldbg/pkg/logflags"
	"github.com/hldbg/hldbg/pkg/proc/handles"
	"github.com/hldbg/hldbg/pkg/proc/regs"
)

// Backend attaches to processes using one native debugging model.
type Backend interface {
	// Name returns a short identifier of the backend, used in logs.
	Name() string
	// Attach establishes debugging control over pid. The returned Tracer
	// must also implement either BlockingWaiter or PollingWaiter.
	Attach(pid int, env *AttachEnv) (Tracer, error)
}

// AttachEnv carries the resources a session hands to its backend.
type AttachEnv struct {
	// Handles is the registry owned cache of OS handles, nil if the backend
	// does not implement handles.Opener.
	Handles *handles.Cache
	Log     logflags.Logger
}

// Tracer is the native side of one debugging session.
type Tracer interface {
	regs.ContextIO

	// Pid returns the process id of the target.
	Pid() int
	// Native64 reports whether the tracer's own register context is the 64
	// bit one. It selects the width used when the session needs to inspect
	// registers on its own, e.g. to detect single-stepping.
	Native64() bool
	// Detach releases debugging control. The caller must not use the
	// Tracer afterwards.
	Detach() error
	// Interrupt forces the target into an interruptible stopped state.
	Interrupt() error
	// Resume lets the target continue execution without injecting a signal.
	Resume(tid int) error
	// ReadMemory fills data from the target's address space.
	ReadMemory(addr uint64, data []byte) error
	// WriteMemory stores data into the target's address space.
	WriteMemory(addr uint64, data []byte) error
	// FlushInstructionCache invalidates the instruction cache for a range
	// of the target's address space.
	FlushInstructionCache(addr uint64, size int) error
}

// BlockingWaiter is implemented by tracers whose native wait primitive
// blocks until the next event and cannot time out. The session runs a
// dedicated monitoring goroutine for them.
type BlockingWaiter interface {
	// WaitNative blocks until the next native event and classifies it.
	// An error means events can no longer be observed.
	WaitNative() (Event, error)
}

// PollingWaiter is implemented by tracers whose native event source
// supports a timeout. Waiting is performed synchronously by the caller.
type PollingWaiter interface {
	// Poll waits at most timeout for the next native event, a zero timeout
	// waits indefinitely. It returns ok == false if the timeout elapsed.
	Poll(timeout time.Duration) (ev Event, ok bool, err error)
}
