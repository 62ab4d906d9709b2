// Package session tracks the processes under debugging. A Registry holds a
// fixed number of slots, each occupied by the Monitor of one attached
// target, and routes every request to the Monitor of its pid.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/hldbg/hldbg/pkg/logflags"
	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/handles"
	"github.com/hldbg/hldbg/pkg/proc/regs"
)

const (
	DefaultMaxSessions     = 8
	DefaultStopTimeout     = 2 * time.Second
	DefaultHandleCacheSize = 64
)

// Config sets the limits of a Registry. Zero values select the defaults.
type Config struct {
	MaxSessions     int
	StopTimeout     time.Duration
	HandleCacheSize int
}

type slot struct {
	pid int // 0 when the slot is free
	mon *Monitor
}

// Registry is a fixed capacity pool of debugging sessions.
type Registry struct {
	backend proc.Backend
	cfg     Config
	handles *handles.Cache
	log     logflags.Logger

	mu    sync.Mutex
	slots []slot
}

// NewRegistry returns a Registry attaching through backend. A handle cache
// is created if the backend opens OS handles.
func NewRegistry(backend proc.Backend, cfg Config) (*Registry, error) {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.HandleCacheSize <= 0 {
		cfg.HandleCacheSize = DefaultHandleCacheSize
	}
	r := &Registry{
		backend: backend,
		cfg:     cfg,
		log:     logflags.RegistryLogger().WithField("backend", backend.Name()),
		slots:   make([]slot, cfg.MaxSessions),
	}
	if opener, ok := backend.(handles.Opener); ok {
		c, err := handles.New(cfg.HandleCacheSize, opener)
		if err != nil {
			return nil, err
		}
		r.handles = c
	}
	return r, nil
}

// Capacity returns the number of slots.
func (r *Registry) Capacity() int { return len(r.slots) }

// Backend returns the backend used to attach.
func (r *Registry) Backend() proc.Backend { return r.backend }

// reserve claims a free slot for pid.
func (r *Registry) reserve(pid int) (*slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var free *slot
	for i := range r.slots {
		s := &r.slots[i]
		if s.pid == pid {
			return nil, proc.ErrAlreadyAttached
		}
		if s.pid == 0 && free == nil {
			free = s
		}
	}
	if free == nil {
		return nil, proc.ErrPoolExhausted
	}
	free.pid = pid
	return free, nil
}

func (r *Registry) release(s *slot) {
	r.mu.Lock()
	s.pid = 0
	s.mon = nil
	r.mu.Unlock()
}

// Start attaches to pid. The slot is reserved before attaching and
// released again if attaching fails.
func (r *Registry) Start(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	s, err := r.reserve(pid)
	if err != nil {
		return err
	}

	tracer, err := r.backend.Attach(pid, &proc.AttachEnv{Handles: r.handles})
	if err != nil {
		r.release(s)
		return err
	}
	mon, err := newMonitor(tracer, r.cfg.StopTimeout, logflags.MonitorLogger().WithField("pid", pid))
	if err != nil {
		tracer.Detach()
		r.release(s)
		return err
	}

	r.mu.Lock()
	s.mon = mon
	r.mu.Unlock()
	r.log.Debugf("attached to %d", pid)
	return nil
}

// Stop detaches from pid and frees its slot. It returns the result of the
// native detach.
func (r *Registry) Stop(pid int) error {
	r.mu.Lock()
	var s *slot
	for i := range r.slots {
		if r.slots[i].pid == pid && r.slots[i].mon != nil {
			s = &r.slots[i]
			break
		}
	}
	if s == nil {
		r.mu.Unlock()
		return proc.ErrNotAttached
	}
	mon := s.mon
	// The slot stays reserved until teardown completes.
	s.mon = nil
	r.mu.Unlock()

	err := mon.stop()
	if r.handles != nil {
		r.handles.Invalidate(pid)
	}
	r.release(s)
	r.log.Debugf("detached from %d", pid)
	return err
}

// StopAll detaches from every target.
func (r *Registry) StopAll() {
	for _, info := range r.Sessions() {
		if err := r.Stop(info.Pid); err != nil {
			r.log.WithError(err).Warnf("detaching from %d", info.Pid)
		}
	}
}

// Monitor returns the session of pid.
func (r *Registry) Monitor(pid int) (*Monitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].pid == pid && r.slots[i].mon != nil {
			return r.slots[i].mon, nil
		}
	}
	return nil, proc.ErrNotAttached
}

// SessionInfo describes an attached target.
type SessionInfo struct {
	Pid       int
	Slot      int
	LastEvent proc.Event
	HasEvent  bool // false until the first event was delivered
}

// Sessions lists the attached targets in slot order.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	mons := make([]*Monitor, len(r.slots))
	for i := range r.slots {
		mons[i] = r.slots[i].mon
	}
	r.mu.Unlock()

	var out []SessionInfo
	for i, mon := range mons {
		if mon == nil {
			continue
		}
		last, ok := mon.Last()
		out = append(out, SessionInfo{Pid: mon.Pid(), Slot: i, LastEvent: last, HasEvent: ok})
	}
	return out
}

func (r *Registry) Interrupt(pid int) error {
	mon, err := r.Monitor(pid)
	if err != nil {
		return err
	}
	return mon.Interrupt()
}

func (r *Registry) Wait(pid int, timeout time.Duration) (proc.Event, error) {
	mon, err := r.Monitor(pid)
	if err != nil {
		return proc.Event{Status: proc.StatusError}, err
	}
	return mon.Wait(timeout)
}

func (r *Registry) Resume(pid, tid int) error {
	mon, err := r.Monitor(pid)
	if err != nil {
		return err
	}
	return mon.Resume(tid)
}

func (r *Registry) ReadMemory(pid int, addr uint64, data []byte) error {
	mon, err := r.Monitor(pid)
	if err != nil {
		return err
	}
	return mon.ReadMemory(addr, data)
}

func (r *Registry) WriteMemory(pid int, addr uint64, data []byte) error {
	mon, err := r.Monitor(pid)
	if err != nil {
		return err
	}
	return mon.WriteMemory(addr, data)
}

func (r *Registry) Flush(pid int, addr uint64, size int) error {
	mon, err := r.Monitor(pid)
	if err != nil {
		return err
	}
	return mon.FlushInstructionCache(addr, size)
}

func (r *Registry) ReadRegister(pid, tid int, id regs.RegisterID, is64 bool) ([]byte, error) {
	mon, err := r.Monitor(pid)
	if err != nil {
		return nil, err
	}
	return mon.ReadRegister(tid, id, is64)
}

func (r *Registry) WriteRegister(pid, tid int, id regs.RegisterID, value []byte, is64 bool) error {
	mon, err := r.Monitor(pid)
	if err != nil {
		return err
	}
	return mon.WriteRegister(tid, id, value, is64)
}
