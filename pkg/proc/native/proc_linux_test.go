//go:build linux && (amd64 || 386)

package native

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"testing"

	sys "golang.org/x/sys/unix"

	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/regs"
)

func TestClassifyWaitStatus(t *testing.T) {
	stopped := func(sig syscall.Signal) sys.WaitStatus { return sys.WaitStatus(0x7f | int(sig)<<8) }
	tests := []struct {
		name string
		ws   sys.WaitStatus
		want proc.EventStatus
	}{
		{"exited", sys.WaitStatus(3 << 8), proc.StatusExited},
		{"killed", sys.WaitStatus(int(sys.SIGKILL)), proc.StatusExited},
		{"sigstop", stopped(sys.SIGSTOP), proc.StatusBreakpoint},
		{"sigtrap", stopped(sys.SIGTRAP), proc.StatusBreakpoint},
		{"sigsegv", stopped(sys.SIGSEGV), proc.StatusError},
		{"sigchld", stopped(sys.SIGCHLD), proc.StatusError},
		{"continued", sys.WaitStatus(0xffff), proc.StatusHandled},
	}
	for _, tc := range tests {
		if got := classifyWaitStatus(tc.ws); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

// startTarget starts a busy looping process that is not a child of the
// test, so that waiting on it after detach fails instead of blocking.
func startTarget(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sh", "-c", "while :; do :; done & echo $!; wait")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Skipf("could not start target: %v", err)
	}
	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil {
		cmd.Process.Kill()
		t.Fatalf("reading target pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		cmd.Process.Kill()
		t.Fatalf("bad pid %q: %v", line, err)
	}
	t.Cleanup(func() {
		sys.Kill(pid, sys.SIGKILL)
		cmd.Process.Kill()
		cmd.Wait()
	})
	return pid
}

// attachTarget attaches to a new target and consumes its initial stop.
func attachTarget(t *testing.T) *nativeProcess {
	t.Helper()
	pid := startTarget(t)
	tr, err := New().Attach(pid, nil)
	if err != nil {
		if errors.Is(err, sys.EPERM) || errors.Is(err, sys.EACCES) {
			t.Skipf("ptrace not permitted: %v", err)
		}
		t.Fatalf("attach: %v", err)
	}
	dbp := tr.(*nativeProcess)
	t.Cleanup(func() { dbp.Detach() })
	ev, err := dbp.WaitNative()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ev.Status != proc.StatusBreakpoint || ev.ThreadID != pid {
		t.Fatalf("initial stop: got %s on %d, want %s on %d", ev.Status, ev.ThreadID, proc.StatusBreakpoint, pid)
	}
	return dbp
}

func TestAttachInterruptResumeDetach(t *testing.T) {
	dbp := attachTarget(t)
	if err := dbp.Resume(dbp.pid); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := dbp.Interrupt(); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	ev, err := dbp.WaitNative()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != proc.StatusBreakpoint {
		t.Fatalf("after interrupt: got %s", ev.Status)
	}
	if err := dbp.Resume(0); err != nil {
		t.Fatalf("resume: %v", err)
	}
	// running tracee, Detach has to stop it first
	if err := dbp.Detach(); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if _, err := dbp.WaitNative(); err == nil {
		t.Fatal("wait succeeded after detach")
	}
	if s := status(dbp.pid); s == statusGroupStop || s == 't' {
		t.Fatalf("process left stopped after detach: %c", s)
	}
}

func TestAttachUnknownProcess(t *testing.T) {
	_, err := New().Attach(1<<22+12345, nil)
	var aerr *proc.AttachError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected AttachError, got %v", err)
	}
}

// writableAddress returns the start of the first private writable mapping
// of pid.
func writableAddress(t *testing.T, pid int) uint64 {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(string(buf), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "rw-p" {
			continue
		}
		start, err := strconv.ParseUint(strings.SplitN(fields[0], "-", 2)[0], 16, 64)
		if err == nil {
			return start
		}
	}
	t.Fatal("no writable mapping")
	return 0
}

func TestMemoryRoundTrip(t *testing.T) {
	dbp := attachTarget(t)
	addr := writableAddress(t, dbp.pid)

	orig := make([]byte, 16)
	if err := dbp.ReadMemory(addr, orig); err != nil {
		t.Fatalf("read: %v", err)
	}
	defer func() {
		if err := dbp.WriteMemory(addr, orig); err != nil {
			t.Errorf("restore: %v", err)
		}
	}()

	var val [4]byte
	binary.LittleEndian.PutUint32(val[:], 0xDEADBEEF)
	if err := dbp.WriteMemory(addr+2, val[:]); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, 16)
	if err := dbp.ReadMemory(addr, got); err != nil {
		t.Fatal(err)
	}
	if v := binary.LittleEndian.Uint32(got[2:]); v != 0xDEADBEEF {
		t.Fatalf("read back %#x", v)
	}
	if !bytes.Equal(got[:2], orig[:2]) || !bytes.Equal(got[6:], orig[6:]) {
		t.Fatalf("bytes around the write changed:\n%x\n%x", orig, got)
	}
}

func TestReadUnmappedMemory(t *testing.T) {
	dbp := attachTarget(t)
	err := dbp.ReadMemory(0, make([]byte, 8))
	var merr *proc.MemoryError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MemoryError, got %v", err)
	}
}

func TestRegisters(t *testing.T) {
	dbp := attachTarget(t)
	is64 := dbp.Native64()

	ip, err := regs.ReadUint(dbp, dbp.pid, regs.IP, is64)
	if err != nil {
		t.Fatal(err)
	}
	if ip == 0 {
		t.Fatal("instruction pointer is zero")
	}
	sp, err := regs.ReadUint(dbp, dbp.pid, regs.SP, is64)
	if err != nil || sp == 0 {
		t.Fatalf("stack pointer: %#x %v", sp, err)
	}

	if _, err := regs.ReadUint(dbp, dbp.pid, regs.DR7, is64); err != nil {
		t.Fatalf("dr7: %v", err)
	}
	if err := regs.WriteUint(dbp, dbp.pid, regs.DR0, ip, is64); err != nil {
		t.Fatalf("writing dr0: %v", err)
	}
	if dr0, err := regs.ReadUint(dbp, dbp.pid, regs.DR0, is64); err != nil || dr0 != ip {
		t.Fatalf("dr0: %#x %v", dr0, err)
	}
	if err := regs.WriteUint(dbp, dbp.pid, regs.DR0, 0, is64); err != nil {
		t.Fatal(err)
	}

	gpr, err := regs.ReadUint(dbp, dbp.pid, regs.GPR, is64)
	if err != nil {
		t.Fatal(err)
	}
	if err := regs.WriteUint(dbp, dbp.pid, regs.GPR, gpr^0x5a5a, is64); err != nil {
		t.Fatal(err)
	}
	if v, _ := regs.ReadUint(dbp, dbp.pid, regs.GPR, is64); v != gpr^0x5a5a {
		t.Fatalf("gpr: got %#x, want %#x", v, gpr^0x5a5a)
	}
	if err := regs.WriteUint(dbp, dbp.pid, regs.GPR, gpr, is64); err != nil {
		t.Fatal(err)
	}
	if v, _ := regs.ReadUint(dbp, dbp.pid, regs.IP, is64); v != ip {
		t.Fatalf("ip changed by a gpr write: %#x -> %#x", ip, v)
	}
}

func TestSingleStepFlag(t *testing.T) {
	dbp := attachTarget(t)
	is64 := dbp.Native64()

	flags, err := regs.ReadUint(dbp, dbp.pid, regs.Flags, is64)
	if err != nil {
		t.Fatal(err)
	}
	if err := regs.WriteUint(dbp, dbp.pid, regs.Flags, flags|proc.SingleStepFlag, is64); err != nil {
		t.Fatal(err)
	}
	if err := dbp.Resume(dbp.pid); err != nil {
		t.Fatal(err)
	}
	ev, err := dbp.WaitNative()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != proc.StatusBreakpoint {
		t.Fatalf("after single step: got %s", ev.Status)
	}
	flags, err = regs.ReadUint(dbp, dbp.pid, regs.Flags, is64)
	if err != nil {
		t.Fatal(err)
	}
	if flags&proc.SingleStepFlag == 0 {
		t.Fatalf("trap flag not visible after the step: %#x", flags)
	}
	if err := regs.WriteUint(dbp, dbp.pid, regs.Flags, flags&^proc.SingleStepFlag, is64); err != nil {
		t.Fatal(err)
	}
}
