package gdbserial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/regs"
)

func TestWiredecode(t *testing.T) {
	for _, tc := range []struct {
		in, out string
	}{
		{"$OK#", "OK"},
		{"$0* #", "0000"},
		{"$ab{\x03#", "ab#"},
		{"$a*!b#", "aaaaab"},
	} {
		_, msg := wiredecode([]byte(tc.in), nil)
		assert.Equal(t, tc.out, string(msg), "input %q", tc.in)
	}
}

func TestBinarywiredecode(t *testing.T) {
	_, msg := binarywiredecode([]byte("$l}\x03}\x5d#"), nil)
	assert.Equal(t, "l#}", string(msg))
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, uint8(0x9a), checksum([]byte("$OK#")))
	assert.True(t, checksumok([]byte("$OK#"), []byte("9a")))
	assert.False(t, checksumok([]byte("$OK#"), []byte("9b")))
	assert.False(t, checksumok([]byte("OK#"), []byte("9a")))
}

func TestParseStopPacket(t *testing.T) {
	conn := &gdbConn{}

	sp, err := conn.parseStopPacket([]byte("T05thread:3e9;reason:breakpoint;"))
	require.NoError(t, err)
	assert.Equal(t, byte('T'), sp.kind)
	assert.Equal(t, uint8(5), sp.sig)
	assert.Equal(t, "3e9", sp.threadID)
	assert.Equal(t, "breakpoint", sp.reason)

	sp, err = conn.parseStopPacket([]byte("W2a"))
	require.NoError(t, err)
	assert.Equal(t, 0x2a, sp.exitStatus)

	sp, err = conn.parseStopPacket([]byte("O68690a"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(sp.output))

	_, err = conn.parseStopPacket([]byte("T"))
	assert.Error(t, err)
	_, err = conn.parseStopPacket([]byte("Q00"))
	assert.Error(t, err)
}

func TestClassifyStop(t *testing.T) {
	for _, tc := range []struct {
		sp   stopPacket
		want proc.EventStatus
	}{
		{stopPacket{kind: 'W'}, proc.StatusExited},
		{stopPacket{kind: 'X', sig: 9}, proc.StatusExited},
		{stopPacket{kind: 'O'}, proc.StatusHandled},
		{stopPacket{kind: 'N'}, proc.StatusHandled},
		{stopPacket{kind: 'T', sig: 5, reason: "trace"}, proc.StatusSingleStep},
		{stopPacket{kind: 'T', sig: 5}, proc.StatusBreakpoint},
		{stopPacket{kind: 'T', sig: 0x11}, proc.StatusBreakpoint},
		{stopPacket{kind: 'T', sig: 0x13}, proc.StatusBreakpoint},
		{stopPacket{kind: 'S', sig: 2}, proc.StatusBreakpoint},
		{stopPacket{kind: 'T', sig: 0}, proc.StatusHandled},
		{stopPacket{kind: 'T', sig: 0xb}, proc.StatusError},
	} {
		assert.Equal(t, tc.want, classifyStop(tc.sp), "%c sig %#x reason %q", tc.sp.kind, tc.sp.sig, tc.sp.reason)
	}
}

func TestLayoutFromRegisters(t *testing.T) {
	l, err := layoutFromRegisters([]gdbRegisterInfo{
		{Name: "rax", Bitsize: 64, Offset: 0},
		{Name: "rsp", Bitsize: 64, Offset: 24},
		{Name: "rip", Bitsize: 64, Offset: 32},
		{Name: "rflags", Bitsize: 32, Offset: 40},
		{Name: "xmm0", Bitsize: 128, Offset: 44},
		{Name: "fctrl", Bitsize: 32, Offset: 60},
	})
	require.NoError(t, err)
	assert.Equal(t, 8, l.PtrSize)
	assert.Equal(t, regs.Field{Area: regs.AreaGeneral, Offset: 40, Size: 4}, l.Fields[regs.Flags])
	assert.Equal(t, regs.Field{Area: regs.AreaGeneral, Offset: 44, Size: 8}, l.Fields[regs.Vector])
	_, err = l.Field(regs.DR7)
	assert.ErrorIs(t, err, regs.ErrUnsupportedRegister)

	l, err = layoutFromRegisters([]gdbRegisterInfo{
		{Name: "esp", Bitsize: 32, Offset: 16},
		{Name: "eip", Bitsize: 32, Offset: 32},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, l.PtrSize)

	_, err = layoutFromRegisters([]gdbRegisterInfo{{Name: "rax", Bitsize: 64}})
	assert.Error(t, err)
}

func TestProtocolError(t *testing.T) {
	err := &ProtocolError{"memory read", "$m1000,4", "E14"}
	assert.Equal(t, "protocol error E14 during memory read for packet $m1000,4", err.Error())
	assert.False(t, isProtocolErrorUnsupported(err))
	assert.True(t, isProtocolErrorUnsupported(&ProtocolError{"attach", "$vAttach;1", ""}))
}
