package proc

import (
	"encoding/binary"
	"fmt"
)

// WordIO is a tracing primitive that transfers exactly one machine word of
// target memory per call, like PTRACE_PEEKDATA and PTRACE_POKEDATA.
type WordIO interface {
	// WordSize returns the size of a machine word in bytes, at most 8.
	WordSize() int
	PeekWord(addr uint64) (uint64, error)
	PokeWord(addr uint64, word uint64) error
}

// ReadWords fills out with the target's memory starting at addr using one
// PeekWord per machine word. A trailing partial word is read whole and
// only its leading bytes are copied, out is never written past its length.
func ReadWords(w WordIO, addr uint64, out []byte) error {
	ws := w.WordSize()
	var buf [8]byte
	for done := 0; done < len(out); done += ws {
		word, err := w.PeekWord(addr + uint64(done))
		if err != nil {
			return &MemoryError{Op: "read", Addr: addr, Len: len(out), Err: fmt.Errorf("peek %#x: %w", addr+uint64(done), err)}
		}
		binary.LittleEndian.PutUint64(buf[:], word)
		copy(out[done:], buf[:ws])
	}
	return nil
}

// WriteWords stores data into the target's memory starting at addr using
// one PokeWord per machine word.
//
// Every word touched is peeked before the first poke: this validates the
// whole range up front, provides the bytes that must survive past the end
// of a partial trailing word and the original contents used to roll back
// if a poke fails half way. The rollback is best effort, a failure is
// still reported and the caller can not assume any byte was transferred.
func WriteWords(w WordIO, addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	ws := w.WordSize()
	n := (len(data) + ws - 1) / ws
	orig := make([]uint64, n)
	for i := range orig {
		word, err := w.PeekWord(addr + uint64(i*ws))
		if err != nil {
			return &MemoryError{Op: "write", Addr: addr, Len: len(data), Err: fmt.Errorf("peek %#x: %w", addr+uint64(i*ws), err)}
		}
		orig[i] = word
	}

	var buf [8]byte
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(buf[:], orig[i])
		copy(buf[:ws], data[i*ws:])
		word := binary.LittleEndian.Uint64(buf[:])
		if err := w.PokeWord(addr+uint64(i*ws), word); err != nil {
			for j := 0; j < i; j++ {
				_ = w.PokeWord(addr+uint64(j*ws), orig[j])
			}
			return &MemoryError{Op: "write", Addr: addr, Len: len(data), Err: fmt.Errorf("poke %#x: %w", addr+uint64(i*ws), err)}
		}
	}
	return nil
}
