package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hldbg/hldbg/pkg/proc"
)

func startFake(t *testing.T, b *fakeBackend, pid int) (*Registry, *fakeTracer) {
	r := newTestRegistry(t, b)
	require.NoError(t, r.Start(pid))
	return r, b.tracer(pid)
}

func TestWaitPublishedEvent(t *testing.T) {
	r, tr := startFake(t, newFakeBackend(), 20)

	tr.events <- proc.Event{Status: proc.StatusHandled, ThreadID: 21}
	ev, err := r.Wait(20, time.Second)
	require.NoError(t, err)
	assert.Equal(t, proc.Event{Status: proc.StatusHandled, ThreadID: 21}, ev)

	info := r.Sessions()[0]
	assert.True(t, info.HasEvent)
	assert.Equal(t, ev, info.LastEvent)
}

func TestWaitTimeoutKeepsState(t *testing.T) {
	r, tr := startFake(t, newFakeBackend(), 20)
	tr.setFlags(0x346)

	start := time.Now()
	ev, err := r.Wait(20, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, proc.StatusTimeout, ev.Status)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, uint64(0x346), tr.flags())
	assert.False(t, r.Sessions()[0].HasEvent)

	tr.events <- proc.Event{Status: proc.StatusExited, ThreadID: 20}
	ev, err = r.Wait(20, time.Second)
	require.NoError(t, err)
	assert.Equal(t, proc.StatusExited, ev.Status)
}

func TestWaitReturnsPendingEvent(t *testing.T) {
	b := newFakeBackend()
	r, tr := startFake(t, b, 20)
	mon, err := r.Monitor(20)
	require.NoError(t, err)

	tr.events <- proc.Event{Status: proc.StatusHandled, ThreadID: 20}
	require.Eventually(t, func() bool {
		mon.mu.Lock()
		defer mon.mu.Unlock()
		return mon.hasEvent
	}, time.Second, 5*time.Millisecond)

	// Drain the wakeup so that a waiter with a short timeout sees no
	// notification.
	<-mon.notify
	ev, err := mon.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, proc.StatusHandled, ev.Status)
}

func TestReclassifySingleStep(t *testing.T) {
	r, tr := startFake(t, newFakeBackend(), 30)

	tr.setFlags(0x346)
	tr.events <- proc.Event{Status: proc.StatusBreakpoint, ThreadID: 31}
	ev, err := r.Wait(30, time.Second)
	require.NoError(t, err)
	assert.Equal(t, proc.Event{Status: proc.StatusSingleStep, ThreadID: 31}, ev)
	assert.Equal(t, uint64(0x246), tr.flags())

	tr.events <- proc.Event{Status: proc.StatusBreakpoint, ThreadID: 31}
	ev, err = r.Wait(30, time.Second)
	require.NoError(t, err)
	assert.Equal(t, proc.StatusBreakpoint, ev.Status)
	assert.Equal(t, uint64(0x246), tr.flags())
}

func TestReclassifyFailureKeepsBreakpoint(t *testing.T) {
	r, tr := startFake(t, newFakeBackend(), 30)

	tr.mu.Lock()
	tr.failRegs = true
	tr.mu.Unlock()
	tr.events <- proc.Event{Status: proc.StatusBreakpoint, ThreadID: 30}
	ev, err := r.Wait(30, time.Second)
	require.NoError(t, err)
	assert.Equal(t, proc.StatusBreakpoint, ev.Status)
}

func TestMonitorWaitsForAck(t *testing.T) {
	r, tr := startFake(t, newFakeBackend(), 40)

	tr.events <- proc.Event{Status: proc.StatusHandled, ThreadID: 1}
	tr.events <- proc.Event{Status: proc.StatusHandled, ThreadID: 2}

	mon, err := r.Monitor(40)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mon.mu.Lock()
		defer mon.mu.Unlock()
		return mon.hasEvent
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.waitCalls), "listened before acknowledgment")

	ev, err := r.Wait(40, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.ThreadID)

	ev, err = r.Wait(40, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.ThreadID)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&tr.waitCalls) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestResumeDiscardsUnreportedStop(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "blocking"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			b := newFakeBackend()
			b.polling = polling
			r, tr := startFake(t, b, 40)
			mon, err := r.Monitor(40)
			require.NoError(t, err)

			tr.events <- proc.Event{Status: proc.StatusBreakpoint, ThreadID: 41}
			if !polling {
				require.Eventually(t, func() bool {
					mon.mu.Lock()
					defer mon.mu.Unlock()
					return mon.hasEvent
				}, time.Second, 5*time.Millisecond)
			}

			require.NoError(t, r.Resume(40, 0))
			assert.Equal(t, int32(1), atomic.LoadInt32(&tr.resumed))
			ev, err := r.Wait(40, 50*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, proc.StatusTimeout, ev.Status)

			tr.events <- proc.Event{Status: proc.StatusHandled, ThreadID: 42}
			ev, err = r.Wait(40, time.Second)
			require.NoError(t, err)
			assert.Equal(t, proc.Event{Status: proc.StatusHandled, ThreadID: 42}, ev)
		})
	}
}

func TestResumeKeepsExit(t *testing.T) {
	r, tr := startFake(t, newFakeBackend(), 40)
	mon, err := r.Monitor(40)
	require.NoError(t, err)

	tr.events <- proc.Event{Status: proc.StatusExited, ThreadID: 40}
	require.Eventually(t, func() bool {
		mon.mu.Lock()
		defer mon.mu.Unlock()
		return mon.hasEvent
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Resume(40, 0))
	ev, err := r.Wait(40, time.Second)
	require.NoError(t, err)
	assert.Equal(t, proc.StatusExited, ev.Status)
}

func TestWaitAfterExit(t *testing.T) {
	r, tr := startFake(t, newFakeBackend(), 50)

	tr.events <- proc.Event{Status: proc.StatusExited, ThreadID: 50}
	ev, err := r.Wait(50, time.Second)
	require.NoError(t, err)
	assert.Equal(t, proc.StatusExited, ev.Status)

	ev, err = r.Wait(50, time.Second)
	var exited proc.ErrProcessExited
	assert.ErrorAs(t, err, &exited)
	assert.Equal(t, proc.StatusError, ev.Status)
}

func TestWaitDuringStop(t *testing.T) {
	r, _ := startFake(t, newFakeBackend(), 60)
	mon, err := r.Monitor(60)
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() {
		ev, err := mon.Wait(0)
		assert.Equal(t, proc.StatusError, ev.Status)
		errChan <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Stop(60))

	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, proc.ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after stop")
	}

	ev, err := mon.Wait(0)
	assert.ErrorIs(t, err, proc.ErrSessionClosed)
	assert.Equal(t, proc.StatusError, ev.Status)
	assert.ErrorIs(t, mon.Resume(0), proc.ErrSessionClosed)
	_, err = r.Wait(60, 0)
	assert.ErrorIs(t, err, proc.ErrNotAttached)
}

func TestStopAbandonsStuckMonitor(t *testing.T) {
	b := newFakeBackend()
	b.stuck = true
	r, tr := startFake(t, b, 70)

	start := time.Now()
	require.NoError(t, r.Stop(70))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.detached))
}

func TestInterruptDeliversBreakpoint(t *testing.T) {
	r, _ := startFake(t, newFakeBackend(), 80)

	require.NoError(t, r.Interrupt(80))
	ev, err := r.Wait(80, time.Second)
	require.NoError(t, err)
	assert.Equal(t, proc.StatusBreakpoint, ev.Status)
}

func TestPollingWaiter(t *testing.T) {
	b := newFakeBackend()
	b.polling = true
	r, tr := startFake(t, b, 90)

	ev, err := r.Wait(90, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, proc.StatusTimeout, ev.Status)

	tr.setFlags(0x100)
	tr.events <- proc.Event{Status: proc.StatusBreakpoint, ThreadID: 91}
	ev, err = r.Wait(90, time.Second)
	require.NoError(t, err)
	assert.Equal(t, proc.Event{Status: proc.StatusSingleStep, ThreadID: 91}, ev)
	assert.Equal(t, uint64(0), tr.flags())

	mon, err := r.Monitor(90)
	require.NoError(t, err)
	errChan := make(chan error, 1)
	go func() {
		_, err := mon.Wait(0)
		errChan <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Stop(90))
	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, proc.ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after stop")
	}
}
