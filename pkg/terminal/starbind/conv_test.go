package starbind

import (
	"testing"

	"go.starlark.net/starlark"

	"github.com/hldbg/hldbg/pkg/proc/regs"
)

func TestConv(t *testing.T) {
	script := `
# A list global that we'll convert into memory contents.
x = [1, 2, 255]
`
	globals, err := starlark.ExecFile(&starlark.Thread{}, "test.star", script, nil)
	if err != nil {
		t.Fatal(err)
	}
	starlarkVal, ok := globals["x"]
	if !ok {
		t.Fatal("missing global 'x'")
	}
	buf, err := toBytes(starlarkVal)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "\x01\x02\xff" {
		t.Fatalf("expected [1 2 255], got: %v", buf)
	}

	if _, err := toBytes(starlark.NewList([]starlark.Value{starlark.MakeInt(256)})); err == nil {
		t.Fatal("expected error for out of range byte")
	}
	if _, err := toBytes(starlark.MakeInt(1)); err == nil {
		t.Fatal("expected error for int")
	}
}

func TestConvAddress(t *testing.T) {
	addr, err := toAddress(starlark.MakeUint64(0xffff800000001000))
	if err != nil || addr != 0xffff800000001000 {
		t.Fatalf("got %#x %v", addr, err)
	}
	if _, err := toAddress(starlark.MakeInt(-1)); err == nil {
		t.Fatal("expected error for negative address")
	}
	if _, err := toAddress(starlark.String("0x10")); err == nil {
		t.Fatal("expected error for string address")
	}
}

func TestConvRegister(t *testing.T) {
	id, err := toRegister(starlark.String("rip"))
	if err != nil || id != regs.IP {
		t.Fatalf("got %v %v", id, err)
	}
	id, err = toRegister(starlark.MakeInt(int(regs.DR7)))
	if err != nil || id != regs.DR7 {
		t.Fatalf("got %v %v", id, err)
	}

	v, err := toRegisterValue(starlark.MakeInt(0x1234), false)
	if err != nil || string(v) != "\x34\x12\x00\x00" {
		t.Fatalf("got %v %v", v, err)
	}
	v, err = toRegisterValue(starlark.MakeInt(-1), true)
	if err != nil || len(v) != 8 || v[7] != 0xff {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := toRegisterValue(starlark.MakeUint64(1<<40), false); err == nil {
		t.Fatal("expected error for value wider than 32 bits")
	}

	if got := registerValueToStarlark([]byte{0x34, 0x12, 0, 0, 0, 0, 0, 0}); got.String() != "4660" {
		t.Fatalf("got %s", got)
	}
	if got := registerValueToStarlark(nil); got != starlark.None {
		t.Fatalf("got %s", got)
	}
}
