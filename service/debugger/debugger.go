package debugger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hldbg/hldbg/pkg/config"
	"github.com/hldbg/hldbg/pkg/logflags"
	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/gdbserial"
	"github.com/hldbg/hldbg/pkg/proc/native"
	"github.com/hldbg/hldbg/pkg/proc/regs"
	"github.com/hldbg/hldbg/pkg/session"
)

// Controller exposes the debugging primitives.
//
// Every operation reports failures as false, StatusError or a nil slice,
// the error itself is logged and kept for LastError.
type Controller struct {
	config   *Config
	registry *session.Registry
	log      logflags.Logger

	errMu   sync.Mutex
	lastErr error
}

// Config provides the configuration to start a Controller.
type Config struct {
	// Backend specifies the debugger backend: "default", "native" or
	// "gdbremote".
	Backend string
	// GdbRemote configures the gdbremote backend.
	GdbRemote config.GdbRemoteConfig
	// Session sets the limits of the session registry.
	Session session.Config
}

// ConfigFromFile returns the Controller configuration stored in c.
func ConfigFromFile(c *config.Config) *Config {
	return &Config{
		Backend:   c.BackendName(),
		GdbRemote: c.GdbRemote,
		Session: session.Config{
			MaxSessions:     c.MaxSessions,
			StopTimeout:     c.StopTimeout,
			HandleCacheSize: c.HandleCacheSize,
		},
	}
}

// NewBackend returns the backend selected by cfg. The default backend is
// the native one on systems that have it and gdbremote everywhere else.
func NewBackend(cfg *Config) (proc.Backend, error) {
	switch cfg.Backend {
	case "", config.BackendDefault:
		if native.Supported() {
			return native.New(), nil
		}
		return newGdbRemote(cfg), nil
	case config.BackendNative:
		if !native.Supported() {
			return nil, proc.ErrUnsupportedOS
		}
		return native.New(), nil
	case config.BackendGdbRemote:
		return newGdbRemote(cfg), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func newGdbRemote(cfg *Config) *gdbserial.Backend {
	b := gdbserial.New()
	b.StubPath = cfg.GdbRemote.StubPath
	b.Address = cfg.GdbRemote.Address
	if cfg.GdbRemote.PacketTimeout > 0 {
		b.PacketTimeout = cfg.GdbRemote.PacketTimeout
	}
	return b
}

// New creates a new Controller using the backend selected by cfg.
func New(cfg *Config) (*Controller, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(cfg, backend)
}

// NewWithBackend creates a new Controller attaching through backend.
func NewWithBackend(cfg *Config, backend proc.Backend) (*Controller, error) {
	registry, err := session.NewRegistry(backend, cfg.Session)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		config:   cfg,
		registry: registry,
		log:      logflags.DebuggerLogger(),
	}
	c.log.Debugf("using %s backend, %d sessions", backend.Name(), registry.Capacity())
	return c, nil
}

// Registry returns the session registry of the controller.
func (c *Controller) Registry() *session.Registry { return c.registry }

// Sessions lists the attached processes.
func (c *Controller) Sessions() []session.SessionInfo { return c.registry.Sessions() }

// Close detaches from every process.
func (c *Controller) Close() {
	c.registry.StopAll()
}

// LastError returns the error of the last failed operation.
func (c *Controller) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// check records err and reports whether the operation succeeded.
func (c *Controller) check(op string, pid int, err error) bool {
	if err == nil {
		return true
	}
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
	c.log.WithError(err).Debugf("%s %d failed", op, pid)
	return false
}

// Start attaches to pid.
func (c *Controller) Start(pid int) bool {
	err := c.registry.Start(pid)
	if err != nil {
		var aerr *proc.AttachError
		if errors.As(err, &aerr) {
			err = attachErrorMessage(pid, err)
		}
	}
	return c.check("start", pid, err)
}

// Stop detaches from pid and reports whether detaching succeeded.
func (c *Controller) Stop(pid int) bool {
	return c.check("stop", pid, c.registry.Stop(pid))
}

// Breakpoint interrupts the execution of pid.
func (c *Controller) Breakpoint(pid int) bool {
	return c.check("breakpoint", pid, c.registry.Interrupt(pid))
}

// Read fills buf with the memory of pid at addr.
func (c *Controller) Read(pid int, addr uint64, buf []byte) bool {
	return c.check("read", pid, c.registry.ReadMemory(pid, addr, buf))
}

// Write stores buf into the memory of pid at addr.
func (c *Controller) Write(pid int, addr uint64, buf []byte) bool {
	return c.check("write", pid, c.registry.WriteMemory(pid, addr, buf))
}

// Flush invalidates the instruction cache of pid for size bytes at addr.
func (c *Controller) Flush(pid int, addr uint64, size int) bool {
	return c.check("flush", pid, c.registry.Flush(pid, addr, size))
}

// Wait waits at most timeoutMs milliseconds, or indefinitely if timeoutMs
// is 0, for the next event of pid and returns its status code. The thread
// that caused the event is stored in thread if it is not nil.
func (c *Controller) Wait(pid int, thread *int, timeoutMs int) int {
	if timeoutMs < 0 {
		c.check("wait", pid, fmt.Errorf("negative timeout %d", timeoutMs))
		return int(proc.StatusError)
	}
	ev, err := c.registry.Wait(pid, time.Duration(timeoutMs)*time.Millisecond)
	if !c.check("wait", pid, err) {
		return int(proc.StatusError)
	}
	if thread != nil && ev.Status != proc.StatusTimeout {
		*thread = ev.ThreadID
	}
	return int(ev.Status)
}

// Resume continues the execution of pid.
func (c *Controller) Resume(pid, thread int) bool {
	return c.check("resume", pid, c.registry.Resume(pid, thread))
}

// ReadRegister returns the value of register reg of thread as a pointer
// sized little endian byte slice, or nil on failure.
func (c *Controller) ReadRegister(pid, thread, reg int, is64 bool) []byte {
	v, err := c.registry.ReadRegister(pid, thread, regs.RegisterID(reg), is64)
	if !c.check("read register", pid, err) {
		return nil
	}
	return v
}

// WriteRegister sets register reg of thread to value.
func (c *Controller) WriteRegister(pid, thread, reg int, value []byte, is64 bool) bool {
	return c.check("write register", pid, c.registry.WriteRegister(pid, thread, regs.RegisterID(reg), value, is64))
}
