// Package native implements proc.Backend on top of the debugging API of
// the host operating system: ptrace on Linux and the Win32 debug API on
// Windows.
package native

import (
	"runtime"
	"sync"

	"github.com/hldbg/hldbg/pkg/logflags"
	"github.com/hldbg/hldbg/pkg/proc"
)

// Backend attaches to processes with the native debugging API.
type Backend struct{}

// New returns the native backend of the host.
func New() *Backend {
	return &Backend{}
}

// Supported returns true if the native backend can attach on this host.
func Supported() bool {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "linux/amd64", "linux/386", "windows/amd64", "windows/386":
		return true
	}
	return false
}

// Name returns "native".
func (*Backend) Name() string { return "native" }

// nativeProcess represents all of the information the debugger
// is holding onto regarding the process we are debugging.
type nativeProcess struct {
	pid int
	log logflags.Logger
	os  *osProcessDetails

	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
	// exited is closed by postExit, after which no ptrace function runs.
	exited   chan struct{}
	exitOnce sync.Once

	detached bool
}

// newProcess returns an initialized nativeProcess struct. Before returning,
// it will also launch a goroutine in order to handle ptrace(2)
// functions. For more information, see the documentation on
// `handlePtraceFuncs`.
func newProcess(pid int, env *proc.AttachEnv) *nativeProcess {
	dbp := &nativeProcess{
		pid:            pid,
		os:             new(osProcessDetails),
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		exited:         make(chan struct{}),
	}
	if env != nil && env.Log != nil {
		dbp.log = env.Log.WithField("pid", pid)
	} else {
		dbp.log = logflags.NativeLogger().WithField("pid", pid)
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

// Pid returns the process pid.
func (dbp *nativeProcess) Pid() int {
	return dbp.pid
}

func (dbp *nativeProcess) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_ATTACH to come from the same thread.
	// The Win32 debug API has the same requirement for the thread that
	// called DebugActiveProcess.
	runtime.LockOSThread()

	for {
		select {
		case fn := <-dbp.ptraceChan:
			fn()
			dbp.ptraceDoneChan <- nil
		case <-dbp.exited:
			return
		}
	}
}

// execPtraceFunc runs fn on the ptrace thread and returns its error, or
// proc.ErrSessionClosed once the process has been released.
func (dbp *nativeProcess) execPtraceFunc(fn func() error) error {
	var err error
	select {
	case dbp.ptraceChan <- func() { err = fn() }:
	case <-dbp.exited:
		return proc.ErrSessionClosed
	}
	<-dbp.ptraceDoneChan
	return err
}

// postExit stops the ptrace thread. It can be called more than once.
func (dbp *nativeProcess) postExit() {
	dbp.exitOnce.Do(func() {
		dbp.detached = true
		close(dbp.exited)
		dbp.os.Close()
	})
}
