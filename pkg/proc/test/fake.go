// Package test provides an in-memory debugging backend for tests of the
// layers above pkg/proc.
package test

import (
	"errors"
	"sync"

	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/regs"
)

// FakeLayout is the register layout exposed by FakeTracer: a 64 bit
// general area holding the flags, the instruction pointer and the stack
// pointer, one word each.
var FakeLayout = &regs.Layout{
	Name:    "fake",
	PtrSize: 8,
	Fields: [regs.NumRegisters]regs.Field{
		regs.Flags: {Area: regs.AreaGeneral, Offset: 0, Size: 8},
		regs.IP:    {Area: regs.AreaGeneral, Offset: 8, Size: 8},
		regs.SP:    {Area: regs.AreaGeneral, Offset: 16, Size: 8},
	},
}

// FakeMemorySize is the size of the address space of a FakeTracer,
// addresses start at zero.
const FakeMemorySize = 256

var errDetached = errors.New("detached")

// FakeBackend attaches FakeTracers to any positive pid.
type FakeBackend struct {
	// AttachErr, when set, makes every Attach fail with it.
	AttachErr error

	mu      sync.Mutex
	tracers map[int]*FakeTracer
}

// NewFakeBackend returns an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{tracers: make(map[int]*FakeTracer)}
}

func (b *FakeBackend) Name() string { return "fake" }

func (b *FakeBackend) Attach(pid int, env *proc.AttachEnv) (proc.Tracer, error) {
	if b.AttachErr != nil {
		return nil, &proc.AttachError{Op: "attach", Pid: pid, Err: b.AttachErr}
	}
	t := &FakeTracer{
		pid:    pid,
		events: make(chan proc.Event, 8),
		gone:   make(chan struct{}),
		regs:   make([]byte, 24),
		mem:    make([]byte, FakeMemorySize),
	}
	b.mu.Lock()
	b.tracers[pid] = t
	b.mu.Unlock()
	return t, nil
}

// Tracer returns the last tracer attached to pid.
func (b *FakeBackend) Tracer(pid int) *FakeTracer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracers[pid]
}

// FakeTracer is a blocking tracer over a byte slice of memory and one
// register context shared by every thread.
type FakeTracer struct {
	pid    int
	events chan proc.Event
	gone   chan struct{}

	mu       sync.Mutex
	regs     []byte
	mem      []byte
	resumed  int
	detached bool
}

// Post queues an event for WaitNative.
func (t *FakeTracer) Post(ev proc.Event) { t.events <- ev }

// Resumed returns the number of Resume calls.
func (t *FakeTracer) Resumed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumed
}

// Detached reports whether Detach was called.
func (t *FakeTracer) Detached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detached
}

// Memory returns a copy of the target memory.
func (t *FakeTracer) Memory() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.mem...)
}

func (t *FakeTracer) Pid() int       { return t.pid }
func (t *FakeTracer) Native64() bool { return true }

func (t *FakeTracer) Detach() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.detached {
		t.detached = true
		close(t.gone)
	}
	return nil
}

func (t *FakeTracer) Interrupt() error {
	t.Post(proc.Event{Status: proc.StatusBreakpoint, ThreadID: t.pid})
	return nil
}

func (t *FakeTracer) Resume(tid int) error {
	t.mu.Lock()
	t.resumed++
	t.mu.Unlock()
	return nil
}

func (t *FakeTracer) FlushInstructionCache(addr uint64, size int) error { return nil }

func (t *FakeTracer) ReadMemory(addr uint64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if addr+uint64(len(data)) > uint64(len(t.mem)) {
		return &proc.MemoryError{Op: "read", Addr: addr, Len: len(data), Err: errors.New("bad address")}
	}
	copy(data, t.mem[addr:])
	return nil
}

func (t *FakeTracer) WriteMemory(addr uint64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if addr+uint64(len(data)) > uint64(len(t.mem)) {
		return &proc.MemoryError{Op: "write", Addr: addr, Len: len(data), Err: errors.New("bad address")}
	}
	copy(t.mem[addr:], data)
	return nil
}

func (t *FakeTracer) Layout(is64 bool) (*regs.Layout, error) {
	if !is64 {
		return nil, regs.ErrWidthMismatch
	}
	return FakeLayout, nil
}

func (t *FakeTracer) ReadContext(tid int, area regs.Area, is64 bool) ([]byte, error) {
	if area != regs.AreaGeneral {
		return nil, regs.ErrUnsupportedRegister
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.regs...), nil
}

func (t *FakeTracer) WriteContext(tid int, area regs.Area, is64 bool, buf []byte) error {
	if area != regs.AreaGeneral {
		return regs.ErrUnsupportedRegister
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	copy(t.regs, buf)
	return nil
}

func (t *FakeTracer) WaitNative() (proc.Event, error) {
	select {
	case ev := <-t.events:
		return ev, nil
	case <-t.gone:
		return proc.Event{Status: proc.StatusError}, errDetached
	}
}
