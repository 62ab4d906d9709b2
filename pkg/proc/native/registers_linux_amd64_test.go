package native

import (
	"errors"
	"testing"

	"github.com/hldbg/hldbg/pkg/proc/regs"
)

func TestNarrowRegisters(t *testing.T) {
	dbp := attachTarget(t)
	wide, err := regs.ReadUint(dbp, dbp.pid, regs.SP, true)
	if err != nil {
		t.Fatal(err)
	}
	narrow, err := regs.Read(dbp, dbp.pid, regs.SP, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(narrow) != 4 {
		t.Fatalf("32 bit read returned %d bytes", len(narrow))
	}
	if got := uint64(narrow[0]) | uint64(narrow[1])<<8 | uint64(narrow[2])<<16 | uint64(narrow[3])<<24; got != wide&0xffffffff {
		t.Fatalf("narrow sp %#x, wide sp %#x", got, wide)
	}
}

func TestVectorRegister(t *testing.T) {
	dbp := attachTarget(t)
	orig, err := regs.ReadUint(dbp, dbp.pid, regs.Vector, true)
	if err != nil {
		t.Fatal(err)
	}
	const v = 0x0123456789abcdef
	if err := regs.WriteUint(dbp, dbp.pid, regs.Vector, v, true); err != nil {
		t.Fatal(err)
	}
	if got, err := regs.ReadUint(dbp, dbp.pid, regs.Vector, true); err != nil || got != v {
		t.Fatalf("xmm0: %#x %v", got, err)
	}
	if err := regs.WriteUint(dbp, dbp.pid, regs.Vector, orig, true); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownRegisterRejected(t *testing.T) {
	dbp := &nativeProcess{pid: 1, os: new(osProcessDetails)}
	if _, err := regs.Read(dbp, dbp.pid, regs.RegisterID(12), true); !errors.Is(err, regs.ErrUnknownRegister) {
		t.Fatalf("expected ErrUnknownRegister, got %v", err)
	}
}
