package proc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

var errFault = errors.New("fault")

// wordMemory is a WordIO over a byte slice mapped at base.
type wordMemory struct {
	base      uint64
	mem       []byte
	ws        int
	failPoke  uint64 // address whose poke fails, 0 to disable
	peeks     int
	pokes     int
	lastPeeks []uint64
}

func (m *wordMemory) WordSize() int { return m.ws }

func (m *wordMemory) mapped(addr uint64) bool {
	return addr >= m.base && addr+uint64(m.ws) <= m.base+uint64(len(m.mem))
}

func (m *wordMemory) PeekWord(addr uint64) (uint64, error) {
	m.peeks++
	m.lastPeeks = append(m.lastPeeks, addr)
	if !m.mapped(addr) {
		return 0, errFault
	}
	var buf [8]byte
	copy(buf[:], m.mem[addr-m.base:addr-m.base+uint64(m.ws)])
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (m *wordMemory) PokeWord(addr uint64, word uint64) error {
	m.pokes++
	if !m.mapped(addr) || addr == m.failPoke {
		return errFault
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	copy(m.mem[addr-m.base:], buf[:m.ws])
	return nil
}

func newWordMemory(ws int) *wordMemory {
	m := &wordMemory{base: 0x1000, mem: make([]byte, 128), ws: ws}
	for i := range m.mem {
		m.mem[i] = byte(i)
	}
	return m
}

func TestReadWordsLengths(t *testing.T) {
	for _, ws := range []int{4, 8} {
		m := newWordMemory(ws)
		for off := 0; off < 8; off++ {
			for n := 0; n <= 3*ws+1; n++ {
				out := make([]byte, n+4)
				for i := range out {
					out[i] = 0xcc
				}
				if err := ReadWords(m, m.base+uint64(off), out[:n]); err != nil {
					t.Fatalf("ws=%d off=%d n=%d: %v", ws, off, n, err)
				}
				if !bytes.Equal(out[:n], m.mem[off:off+n]) {
					t.Fatalf("ws=%d off=%d n=%d: read %x, want %x", ws, off, n, out[:n], m.mem[off:off+n])
				}
				if !bytes.Equal(out[n:], []byte{0xcc, 0xcc, 0xcc, 0xcc}) {
					t.Fatalf("ws=%d off=%d n=%d: buffer overwritten past requested length: %x", ws, off, n, out[n:])
				}
			}
		}
	}
}

func TestReadWordsOneCallPerWord(t *testing.T) {
	m := newWordMemory(8)
	out := make([]byte, 19)
	if err := ReadWords(m, m.base, out); err != nil {
		t.Fatal(err)
	}
	if m.peeks != 3 {
		t.Fatalf("expected 3 peeks for 19 bytes, got %d", m.peeks)
	}
}

func TestWriteWordsPreservesTrailingBytes(t *testing.T) {
	for _, ws := range []int{4, 8} {
		for n := 1; n <= 3*ws; n++ {
			if n%ws == 0 {
				continue
			}
			m := newWordMemory(ws)
			before := append([]byte(nil), m.mem...)
			data := bytes.Repeat([]byte{0xee}, n)
			if err := WriteWords(m, m.base+8, data); err != nil {
				t.Fatalf("ws=%d n=%d: %v", ws, n, err)
			}
			tail := 8 + n
			rest := ws - n%ws
			if !bytes.Equal(m.mem[tail:tail+rest], before[tail:tail+rest]) {
				t.Fatalf("ws=%d n=%d: bytes after the write changed: %x -> %x", ws, n, before[tail:tail+rest], m.mem[tail:tail+rest])
			}
			if !bytes.Equal(m.mem[8:tail], data) {
				t.Fatalf("ws=%d n=%d: written bytes %x", ws, n, m.mem[8:tail])
			}
			if !bytes.Equal(m.mem[:8], before[:8]) || !bytes.Equal(m.mem[tail+rest:], before[tail+rest:]) {
				t.Fatalf("ws=%d n=%d: memory outside the touched words changed", ws, n)
			}
		}
	}
}

func TestReadWriteIdempotent(t *testing.T) {
	m := newWordMemory(8)
	before := append([]byte(nil), m.mem...)
	for n := 0; n < 30; n++ {
		buf := make([]byte, n)
		if err := ReadWords(m, m.base+3, buf); err != nil {
			t.Fatal(err)
		}
		if err := WriteWords(m, m.base+3, buf); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(m.mem, before) {
			t.Fatalf("n=%d: read followed by write changed memory", n)
		}
	}
}

func TestWriteDeadBeef(t *testing.T) {
	m := newWordMemory(8)
	var val [4]byte
	binary.LittleEndian.PutUint32(val[:], 0xDEADBEEF)
	if err := WriteWords(m, m.base+16, val[:]); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, 4)
	if err := ReadWords(m, m.base+16, out); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(out); got != 0xDEADBEEF {
		t.Fatalf("read back %#x", got)
	}
}

func TestWriteWordsPreflight(t *testing.T) {
	m := newWordMemory(8)
	before := append([]byte(nil), m.mem...)
	// the last word of this write is not mapped
	addr := m.base + uint64(len(m.mem)) - 12
	err := WriteWords(m, addr, make([]byte, 16))
	var merr *MemoryError
	if !errors.As(err, &merr) || !errors.Is(err, errFault) {
		t.Fatalf("expected MemoryError wrapping fault, got %v", err)
	}
	if m.pokes != 0 {
		t.Fatalf("expected no pokes when the pre-flight check fails, got %d", m.pokes)
	}
	if !bytes.Equal(m.mem, before) {
		t.Fatal("memory changed")
	}
}

func TestWriteWordsRollback(t *testing.T) {
	m := newWordMemory(8)
	before := append([]byte(nil), m.mem...)
	m.failPoke = m.base + 16
	err := WriteWords(m, m.base, bytes.Repeat([]byte{0xff}, 24))
	if !errors.Is(err, errFault) {
		t.Fatalf("expected fault, got %v", err)
	}
	if !bytes.Equal(m.mem, before) {
		t.Fatalf("partial write was not rolled back:\n%x\n%x", m.mem[:24], before[:24])
	}
}

func TestReadWordsFault(t *testing.T) {
	m := newWordMemory(8)
	err := ReadWords(m, m.base+uint64(len(m.mem))-4, make([]byte, 8))
	var merr *MemoryError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MemoryError, got %v", err)
	}
	if merr.Op != "read" || merr.Len != 8 {
		t.Fatalf("unexpected error fields: %+v", merr)
	}
}
