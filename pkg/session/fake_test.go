package session

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/handles"
	"github.com/hldbg/hldbg/pkg/proc/regs"
)

var (
	errDetached   = errors.New("detached")
	errRegsFailed = errors.New("registers unavailable")
)

var fakeLayout = &regs.Layout{
	Name:    "fake",
	PtrSize: 8,
	Fields: [regs.NumRegisters]regs.Field{
		regs.Flags: {Area: regs.AreaGeneral, Offset: 0, Size: 8},
		regs.IP:    {Area: regs.AreaGeneral, Offset: 8, Size: 8},
		regs.SP:    {Area: regs.AreaGeneral, Offset: 16, Size: 8},
	},
}

type fakeBackend struct {
	polling   bool
	attachErr error
	stuck     bool // WaitNative ignores Detach

	mu      sync.Mutex
	tracers map[int]*fakeTracer
	env     *proc.AttachEnv
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{tracers: make(map[int]*fakeTracer)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Attach(pid int, env *proc.AttachEnv) (proc.Tracer, error) {
	if b.attachErr != nil {
		return nil, &proc.AttachError{Op: "attach", Pid: pid, Err: b.attachErr}
	}
	t := &fakeTracer{
		pid:      pid,
		events:   make(chan proc.Event, 16),
		detachCh: make(chan struct{}),
		stuck:    b.stuck,
		regs:     make([]byte, 24),
		mem:      make([]byte, 64),
	}
	b.mu.Lock()
	b.tracers[pid] = t
	b.env = env
	b.mu.Unlock()
	if b.polling {
		return &pollingTracer{t}, nil
	}
	return &blockingTracer{t}, nil
}

func (b *fakeBackend) tracer(pid int) *fakeTracer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracers[pid]
}

type fakeTracer struct {
	pid      int
	events   chan proc.Event
	detachCh chan struct{}
	stuck    bool

	waitCalls int32
	detached  int32
	resumed   int32

	mu       sync.Mutex
	regs     []byte
	mem      []byte
	failRegs bool
}

func (t *fakeTracer) Pid() int       { return t.pid }
func (t *fakeTracer) Native64() bool { return true }

func (t *fakeTracer) Detach() error {
	if !atomic.CompareAndSwapInt32(&t.detached, 0, 1) {
		return errors.New("detached twice")
	}
	close(t.detachCh)
	return nil
}

func (t *fakeTracer) Interrupt() error {
	t.events <- proc.Event{Status: proc.StatusBreakpoint, ThreadID: t.pid}
	return nil
}

func (t *fakeTracer) Resume(tid int) error {
	atomic.AddInt32(&t.resumed, 1)
	return nil
}

func (t *fakeTracer) ReadMemory(addr uint64, data []byte) error {
	if addr+uint64(len(data)) > uint64(len(t.mem)) {
		return &proc.MemoryError{Op: "read", Addr: addr, Len: len(data), Err: io.ErrUnexpectedEOF}
	}
	copy(data, t.mem[addr:])
	return nil
}

func (t *fakeTracer) WriteMemory(addr uint64, data []byte) error {
	if addr+uint64(len(data)) > uint64(len(t.mem)) {
		return &proc.MemoryError{Op: "write", Addr: addr, Len: len(data), Err: io.ErrUnexpectedEOF}
	}
	copy(t.mem[addr:], data)
	return nil
}

func (t *fakeTracer) FlushInstructionCache(addr uint64, size int) error { return nil }

func (t *fakeTracer) Layout(is64 bool) (*regs.Layout, error) {
	if !is64 {
		return nil, regs.ErrWidthMismatch
	}
	return fakeLayout, nil
}

func (t *fakeTracer) ReadContext(tid int, area regs.Area, is64 bool) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failRegs {
		return nil, errRegsFailed
	}
	return append([]byte(nil), t.regs...), nil
}

func (t *fakeTracer) WriteContext(tid int, area regs.Area, is64 bool, buf []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failRegs {
		return errRegsFailed
	}
	copy(t.regs, buf)
	return nil
}

func (t *fakeTracer) setFlags(v uint64) {
	t.mu.Lock()
	binary.LittleEndian.PutUint64(t.regs, v)
	t.mu.Unlock()
}

func (t *fakeTracer) flags() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return binary.LittleEndian.Uint64(t.regs)
}

type blockingTracer struct{ *fakeTracer }

func (t *blockingTracer) WaitNative() (proc.Event, error) {
	atomic.AddInt32(&t.waitCalls, 1)
	if t.stuck {
		select {}
	}
	select {
	case ev := <-t.events:
		return ev, nil
	case <-t.detachCh:
		return proc.Event{Status: proc.StatusError}, errDetached
	}
}

type pollingTracer struct{ *fakeTracer }

// Resume drops stops that were never polled, as a remote stub does with its
// pending stop reply.
func (t *pollingTracer) Resume(tid int) error {
	for {
		select {
		case ev := <-t.events:
			if !ev.Status.Stopping() {
				t.events <- ev
				return t.fakeTracer.Resume(tid)
			}
		default:
			return t.fakeTracer.Resume(tid)
		}
	}
}

func (t *pollingTracer) Poll(timeout time.Duration) (proc.Event, bool, error) {
	atomic.AddInt32(&t.waitCalls, 1)
	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}
	select {
	case ev := <-t.events:
		return ev, true, nil
	case <-t.detachCh:
		return proc.Event{Status: proc.StatusError}, false, errDetached
	case <-timer:
		return proc.Event{Status: proc.StatusTimeout}, false, nil
	}
}

// openerBackend is a fakeBackend whose tracers keep an OS handle in the
// registry cache.
type openerBackend struct {
	*fakeBackend
	closed int32
}

type fakeHandle struct{ b *openerBackend }

func (h fakeHandle) Close() error {
	atomic.AddInt32(&h.b.closed, 1)
	return nil
}

func (b *openerBackend) OpenHandle(key handles.Key) (io.Closer, error) {
	return fakeHandle{b}, nil
}

func (b *openerBackend) Attach(pid int, env *proc.AttachEnv) (proc.Tracer, error) {
	if _, err := env.Handles.Get(handles.Key{Kind: handles.KindProcess, Pid: pid, ID: pid}); err != nil {
		return nil, err
	}
	return b.fakeBackend.Attach(pid, env)
}
