package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/regs"
)

func newTestRegistry(t *testing.T, b proc.Backend) *Registry {
	r, err := NewRegistry(b, Config{StopTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(r.StopAll)
	return r
}

func TestStartStop(t *testing.T) {
	b := newFakeBackend()
	r := newTestRegistry(t, b)

	require.NoError(t, r.Start(100))
	assert.ErrorIs(t, r.Start(100), proc.ErrAlreadyAttached)
	require.Len(t, r.Sessions(), 1)
	assert.Equal(t, 100, r.Sessions()[0].Pid)

	require.NoError(t, r.Stop(100))
	assert.Equal(t, int32(1), atomic.LoadInt32(&b.tracer(100).detached))
	assert.Empty(t, r.Sessions())
	assert.ErrorIs(t, r.Stop(100), proc.ErrNotAttached)

	// The slot can be reused.
	require.NoError(t, r.Start(100))
}

func TestStartInvalidPid(t *testing.T) {
	r := newTestRegistry(t, newFakeBackend())
	assert.Error(t, r.Start(0))
	assert.Error(t, r.Start(-1))
}

func TestPoolExhausted(t *testing.T) {
	b := newFakeBackend()
	r := newTestRegistry(t, b)
	require.Equal(t, DefaultMaxSessions, r.Capacity())

	for pid := 1; pid <= 8; pid++ {
		require.NoError(t, r.Start(pid))
	}
	assert.ErrorIs(t, r.Start(9), proc.ErrPoolExhausted)
	assert.Nil(t, b.tracer(9), "attached past capacity")

	// The other sessions are undisturbed.
	assert.Len(t, r.Sessions(), 8)
	for pid := 1; pid <= 8; pid++ {
		require.NoError(t, r.Resume(pid, 0))
	}

	require.NoError(t, r.Stop(3))
	require.NoError(t, r.Start(9))
}

func TestAttachFailureReleasesSlot(t *testing.T) {
	b := newFakeBackend()
	r, err := NewRegistry(b, Config{MaxSessions: 1})
	require.NoError(t, err)
	defer r.StopAll()

	b.attachErr = errors.New("operation not permitted")
	var aerr *proc.AttachError
	require.ErrorAs(t, r.Start(10), &aerr)
	assert.Equal(t, 10, aerr.Pid)

	b.attachErr = nil
	require.NoError(t, r.Start(11))
}

func TestUnknownPid(t *testing.T) {
	r := newTestRegistry(t, newFakeBackend())

	ev, err := r.Wait(42, 0)
	assert.ErrorIs(t, err, proc.ErrNotAttached)
	assert.Equal(t, proc.StatusError, ev.Status)
	assert.ErrorIs(t, r.Resume(42, 0), proc.ErrNotAttached)
	assert.ErrorIs(t, r.Interrupt(42), proc.ErrNotAttached)
	assert.ErrorIs(t, r.ReadMemory(42, 0, make([]byte, 4)), proc.ErrNotAttached)
	assert.ErrorIs(t, r.WriteMemory(42, 0, make([]byte, 4)), proc.ErrNotAttached)
	assert.ErrorIs(t, r.Flush(42, 0, 4), proc.ErrNotAttached)
	_, err = r.ReadRegister(42, 0, regs.IP, true)
	assert.ErrorIs(t, err, proc.ErrNotAttached)
	assert.ErrorIs(t, r.WriteRegister(42, 0, regs.IP, []byte{1}, true), proc.ErrNotAttached)
}

func TestMemoryAndRegisters(t *testing.T) {
	b := newFakeBackend()
	r := newTestRegistry(t, b)
	require.NoError(t, r.Start(7))

	require.NoError(t, r.WriteMemory(7, 4, []byte{0xde, 0xad, 0xbe, 0xef}))
	buf := make([]byte, 4)
	require.NoError(t, r.ReadMemory(7, 4, buf))
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, buf)
	var merr *proc.MemoryError
	assert.ErrorAs(t, r.ReadMemory(7, 62, buf), &merr)
	assert.NoError(t, r.Flush(7, 4, 4))

	require.NoError(t, r.WriteRegister(7, 0, regs.IP, []byte{0x00, 0x10, 0x40}, true))
	v, err := r.ReadRegister(7, 0, regs.IP, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x10, 0x40, 0, 0, 0, 0, 0}, v)

	_, err = r.ReadRegister(7, 0, regs.DR7, true)
	assert.ErrorIs(t, err, regs.ErrUnsupportedRegister)
	_, err = r.ReadRegister(7, 0, regs.IP, false)
	assert.ErrorIs(t, err, regs.ErrWidthMismatch)
	_, err = r.ReadRegister(7, 0, regs.RegisterID(12), true)
	assert.ErrorIs(t, err, regs.ErrUnknownRegister)
}

func TestHandlesInvalidatedOnStop(t *testing.T) {
	b := &openerBackend{fakeBackend: newFakeBackend()}
	r := newTestRegistry(t, b)
	require.NotNil(t, r.handles)

	require.NoError(t, r.Start(5))
	require.NoError(t, r.Start(6))
	assert.Equal(t, 2, r.handles.Len())

	require.NoError(t, r.Stop(5))
	assert.Equal(t, int32(1), atomic.LoadInt32(&b.closed))
	assert.Equal(t, 1, r.handles.Len())
}

func TestNoHandleCacheWithoutOpener(t *testing.T) {
	b := newFakeBackend()
	r := newTestRegistry(t, b)
	require.NoError(t, r.Start(5))
	assert.Nil(t, r.handles)
	assert.Nil(t, b.env.Handles)
}
