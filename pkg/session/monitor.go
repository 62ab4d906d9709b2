package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hldbg/hldbg/pkg/logflags"
	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/regs"
)

var errMonitorTerminated = errors.New("event monitor terminated")

// Monitor owns one attached target. It turns the native events of the
// tracer into proc.Events and hands them to the controller.
//
// For tracers implementing proc.BlockingWaiter a goroutine waits for native
// events and publishes them one at a time: it does not wait for the next
// event until the current one was delivered by Wait. Tracers implementing
// proc.PollingWaiter are waited on synchronously by Wait.
type Monitor struct {
	pid     int
	tracer  proc.Tracer
	polling proc.PollingWaiter
	log     logflags.Logger

	stopTimeout time.Duration

	// opMu is held for reading by operations using the tracer and for
	// writing by stop, so that Detach never runs concurrently with them.
	opMu   sync.RWMutex
	closed bool

	// mu protects the event handoff and the last delivered event.
	mu        sync.Mutex
	hasEvent  bool
	event     proc.Event
	last      proc.Event
	delivered bool

	notify chan struct{}
	ack    chan struct{}
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newMonitor(tracer proc.Tracer, stopTimeout time.Duration, log logflags.Logger) (*Monitor, error) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		pid:         tracer.Pid(),
		tracer:      tracer,
		log:         log,
		stopTimeout: stopTimeout,
		notify:      make(chan struct{}, 1),
		ack:         make(chan struct{}, 1),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	switch w := tracer.(type) {
	case proc.PollingWaiter:
		m.polling = w
		close(m.done)
	case proc.BlockingWaiter:
		go m.run(w)
	default:
		cancel()
		return nil, fmt.Errorf("tracer %T can not wait for events", tracer)
	}
	return m, nil
}

// Pid returns the process id of the target.
func (m *Monitor) Pid() int { return m.pid }

// run waits for native events until the monitor is stopped or the target
// can no longer be observed.
func (m *Monitor) run(w proc.BlockingWaiter) {
	defer close(m.done)
	for {
		ev, err := w.WaitNative()
		if m.ctx.Err() != nil {
			return
		}
		if err != nil {
			m.log.WithError(err).Error("waiting for events failed")
			ev.Status = proc.StatusError
		}
		m.publish(ev)

		select {
		case <-m.ack:
		case <-m.ctx.Done():
			return
		}
		if err != nil || ev.Status == proc.StatusExited {
			return
		}
	}
}

func (m *Monitor) publish(ev proc.Event) {
	m.mu.Lock()
	m.event = ev
	m.hasEvent = true
	m.mu.Unlock()
	m.log.Debugf("event published: thread %d %s", ev.ThreadID, ev.Status)
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// take consumes the published event, if any.
func (m *Monitor) take() (proc.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasEvent {
		return proc.Event{}, false
	}
	m.hasEvent = false
	return m.event, true
}

// Wait returns the next event of the target. A zero timeout waits
// indefinitely. When the timeout elapses an event with StatusTimeout is
// returned and no event is consumed.
func (m *Monitor) Wait(timeout time.Duration) (proc.Event, error) {
	if m.polling != nil {
		return m.poll(timeout)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		if m.ctx.Err() != nil {
			return proc.Event{Status: proc.StatusError}, proc.ErrSessionClosed
		}
		if ev, ok := m.take(); ok {
			ev = m.deliver(ev)
			select {
			case m.ack <- struct{}{}:
			default:
			}
			return ev, nil
		}

		select {
		case <-m.notify:
		case <-m.ctx.Done():
		case <-m.done:
			m.mu.Lock()
			has := m.hasEvent
			m.mu.Unlock()
			if !has && m.ctx.Err() == nil {
				return proc.Event{Status: proc.StatusError}, m.terminatedErr()
			}
		case <-timer:
			return proc.Event{Status: proc.StatusTimeout}, nil
		}
	}
}

func (m *Monitor) poll(timeout time.Duration) (proc.Event, error) {
	if m.ctx.Err() != nil {
		return proc.Event{Status: proc.StatusError}, proc.ErrSessionClosed
	}
	m.mu.Lock()
	exited := m.delivered && m.last.Status == proc.StatusExited
	m.mu.Unlock()
	if exited {
		return proc.Event{Status: proc.StatusError}, m.terminatedErr()
	}

	ev, ok, err := m.polling.Poll(timeout)
	if err != nil {
		if m.ctx.Err() != nil {
			err = proc.ErrSessionClosed
		}
		return proc.Event{Status: proc.StatusError}, err
	}
	if !ok {
		return proc.Event{Status: proc.StatusTimeout}, nil
	}
	return m.deliver(ev), nil
}

func (m *Monitor) terminatedErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delivered && m.last.Status == proc.StatusExited {
		return proc.ErrProcessExited{Pid: m.pid}
	}
	return errMonitorTerminated
}

// deliver reclassifies ev and records it as the last event of the target.
func (m *Monitor) deliver(ev proc.Event) proc.Event {
	ev = m.reclassify(ev)
	m.mu.Lock()
	m.last = ev
	m.delivered = true
	m.mu.Unlock()
	return ev
}

// reclassify turns a breakpoint caused by the trap flag into a single-step
// event and clears the flag. If the flags register can not be accessed the
// breakpoint is reported as is.
func (m *Monitor) reclassify(ev proc.Event) proc.Event {
	if ev.Status != proc.StatusBreakpoint {
		return ev
	}
	m.opMu.RLock()
	defer m.opMu.RUnlock()
	if m.closed {
		return ev
	}

	is64 := m.tracer.Native64()
	flags, err := regs.ReadUint(m.tracer, ev.ThreadID, regs.Flags, is64)
	if err != nil {
		m.log.WithError(err).Warn("single-step detection failed")
		return ev
	}
	if flags&proc.SingleStepFlag == 0 {
		return ev
	}
	if err := regs.WriteUint(m.tracer, ev.ThreadID, regs.Flags, flags&^proc.SingleStepFlag, is64); err != nil {
		m.log.WithError(err).Warn("single-step detection failed")
		return ev
	}
	ev.Status = proc.StatusSingleStep
	return ev
}

// Last returns the last event delivered by Wait.
func (m *Monitor) Last() (proc.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.delivered
}

// thread resolves the thread an operation applies to, tid <= 0 selects
// the thread of the last event, or the process itself.
func (m *Monitor) thread(tid int) int {
	if tid > 0 {
		return tid
	}
	if last, ok := m.Last(); ok && last.ThreadID > 0 {
		return last.ThreadID
	}
	return m.pid
}

func (m *Monitor) use(fn func(proc.Tracer) error) error {
	m.opMu.RLock()
	defer m.opMu.RUnlock()
	if m.closed {
		return proc.ErrSessionClosed
	}
	return fn(m.tracer)
}

// Interrupt forces the target to stop.
func (m *Monitor) Interrupt() error {
	return m.use(func(t proc.Tracer) error { return t.Interrupt() })
}

// Resume continues the target. A stop that was published but not yet
// returned by Wait is discarded, Wait only reports what happens after the
// target was resumed. Polling backends drop their own unreported stop.
func (m *Monitor) Resume(tid int) error {
	return m.use(func(t proc.Tracer) error {
		if err := t.Resume(tid); err != nil {
			return err
		}
		m.discardStop()
		return nil
	})
}

// discardStop drops the published event if it is a stop. The monitoring
// goroutine is blocked until the event is acknowledged, so it can not have
// published anything newer.
func (m *Monitor) discardStop() {
	m.mu.Lock()
	discard := m.hasEvent && m.event.Status.Stopping()
	if discard {
		m.hasEvent = false
	}
	ev := m.event
	m.mu.Unlock()
	if !discard {
		return
	}
	m.log.Debugf("resumed, discarding %s of thread %d", ev.Status, ev.ThreadID)
	select {
	case m.ack <- struct{}{}:
	default:
	}
}

func (m *Monitor) ReadMemory(addr uint64, data []byte) error {
	return m.use(func(t proc.Tracer) error { return t.ReadMemory(addr, data) })
}

func (m *Monitor) WriteMemory(addr uint64, data []byte) error {
	return m.use(func(t proc.Tracer) error { return t.WriteMemory(addr, data) })
}

func (m *Monitor) FlushInstructionCache(addr uint64, size int) error {
	return m.use(func(t proc.Tracer) error { return t.FlushInstructionCache(addr, size) })
}

// ReadRegister returns the pointer sized value of register id.
func (m *Monitor) ReadRegister(tid int, id regs.RegisterID, is64 bool) ([]byte, error) {
	var out []byte
	err := m.use(func(t proc.Tracer) error {
		var err error
		out, err = regs.Read(t, m.thread(tid), id, is64)
		return err
	})
	return out, err
}

// WriteRegister stores value into register id.
func (m *Monitor) WriteRegister(tid int, id regs.RegisterID, value []byte, is64 bool) error {
	return m.use(func(t proc.Tracer) error {
		return regs.Write(t, m.thread(tid), id, value, is64)
	})
}

// stop cancels pending waits, detaches from the target and joins the
// monitoring goroutine for at most stopTimeout.
func (m *Monitor) stop() error {
	m.cancel()

	m.opMu.Lock()
	if m.closed {
		m.opMu.Unlock()
		return proc.ErrSessionClosed
	}
	m.closed = true
	err := m.tracer.Detach()
	m.opMu.Unlock()

	select {
	case <-m.done:
	case <-time.After(m.stopTimeout):
		m.log.Warnf("event monitor did not terminate within %v, abandoning it", m.stopTimeout)
	}
	return err
}
