// Package regs maps the small abstract register set used by the debugging
// primitives onto the concrete register context of each platform.
//
// Every platform is described by a Layout: for each RegisterID the area of
// the thread context holding it, its byte offset inside that area and its
// stored width. Backends only have to fetch and store whole areas; the
// extraction and merging logic in Read and Write is shared.
package regs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// RegisterID identifies one register of the abstract register set. The
// numeric codes are part of the primitive surface.
type RegisterID int

const (
	SP RegisterID = iota
	FP
	IP
	Flags
	DR0
	DR1
	DR2
	DR3
	DR6
	DR7
	GPR
	Vector

	NumRegisters = int(Vector) + 1
)

var registerNames = [NumRegisters]string{
	SP:     "sp",
	FP:     "fp",
	IP:     "ip",
	Flags:  "flags",
	DR0:    "dr0",
	DR1:    "dr1",
	DR2:    "dr2",
	DR3:    "dr3",
	DR6:    "dr6",
	DR7:    "dr7",
	GPR:    "ax",
	Vector: "xmm0",
}

func (id RegisterID) String() string {
	if id.Valid() {
		return registerNames[id]
	}
	return fmt.Sprintf("RegisterID(%d)", int(id))
}

// Valid returns true if id is one of the defined register codes.
func (id RegisterID) Valid() bool {
	return id >= 0 && int(id) < NumRegisters
}

// ParseRegister converts a register name or numeric code into a RegisterID.
func ParseRegister(s string) (RegisterID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range registerNames {
		if name == s {
			return RegisterID(i), nil
		}
	}
	switch s {
	case "rsp", "esp":
		return SP, nil
	case "rbp", "ebp":
		return FP, nil
	case "rip", "eip", "pc":
		return IP, nil
	case "rflags", "eflags":
		return Flags, nil
	case "rax", "eax", "gpr":
		return GPR, nil
	case "vec", "xmm":
		return Vector, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && RegisterID(n).Valid() {
		return RegisterID(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRegister, s)
}

var (
	// ErrUnknownRegister is returned for register codes outside of the
	// abstract register set.
	ErrUnknownRegister = errors.New("unknown register")
	// ErrUnsupportedRegister is returned when the layout has no storage for
	// the requested register.
	ErrUnsupportedRegister = errors.New("register not supported on this platform")
	// ErrWidthMismatch is returned when the requested width has no layout on
	// the current platform.
	ErrWidthMismatch = errors.New("register width not supported for this target")
)

// Area is a separately fetched part of a thread's register context.
type Area uint8

const (
	AreaGeneral Area = iota // general purpose registers or the whole thread context
	AreaDebug               // debug registers
	AreaVector              // floating point / SSE save area
)

func (a Area) String() string {
	switch a {
	case AreaGeneral:
		return "general"
	case AreaDebug:
		return "debug"
	case AreaVector:
		return "vector"
	}
	return fmt.Sprintf("Area(%d)", uint8(a))
}

// Field locates one register inside an area. A zero Size means the register
// has no storage in the layout.
type Field struct {
	Area   Area
	Offset int
	Size   int
}

func (f Field) get(buf []byte) uint64 {
	var v uint64
	for i := f.Size - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[f.Offset+i])
	}
	return v
}

func (f Field) put(buf []byte, v uint64) {
	for i := 0; i < f.Size; i++ {
		buf[f.Offset+i] = byte(v)
		v >>= 8
	}
}

// Layout describes the register context of a platform for one execution
// width.
type Layout struct {
	Name    string
	PtrSize int
	Fields  [NumRegisters]Field
}

// Field returns the storage descriptor of id.
func (l *Layout) Field(id RegisterID) (Field, error) {
	if !id.Valid() {
		return Field{}, fmt.Errorf("%w: %d", ErrUnknownRegister, int(id))
	}
	f := l.Fields[id]
	if f.Size == 0 {
		return Field{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedRegister, id, l.Name)
	}
	if f.Size > 8 {
		return Field{}, fmt.Errorf("register %s on %s is %d bytes wide", id, l.Name, f.Size)
	}
	return f, nil
}

// AreaSize returns the minimum size a buffer for area must have to hold
// every field of the layout that lives in it.
func (l *Layout) AreaSize(area Area) int {
	n := 0
	for _, f := range l.Fields {
		if f.Size != 0 && f.Area == area && f.Offset+f.Size > n {
			n = f.Offset + f.Size
		}
	}
	return n
}

// Narrow returns a copy of l that reports values as 32 bit wide. It is used
// where a 32 bit target is observed through the tracer's 64 bit context.
func (l *Layout) Narrow(name string) *Layout {
	nl := *l
	nl.Name = name
	nl.PtrSize = 4
	return &nl
}

// ContextIO is implemented by backends that can fetch and store the areas
// of a thread's register context.
type ContextIO interface {
	// Layout returns the layout used for the requested width, or an error
	// wrapping ErrWidthMismatch.
	Layout(is64 bool) (*Layout, error)
	// ReadContext returns a copy of area for thread tid.
	ReadContext(tid int, area Area, is64 bool) ([]byte, error)
	// WriteContext stores area for thread tid.
	WriteContext(tid int, area Area, is64 bool, buf []byte) error
}

func resolve(cio ContextIO, id RegisterID, is64 bool) (*Layout, Field, error) {
	if !id.Valid() {
		return nil, Field{}, fmt.Errorf("%w: %d", ErrUnknownRegister, int(id))
	}
	layout, err := cio.Layout(is64)
	if err != nil {
		return nil, Field{}, err
	}
	f, err := layout.Field(id)
	if err != nil {
		return nil, Field{}, err
	}
	return layout, f, nil
}

func fetch(cio ContextIO, tid int, f Field, is64 bool) ([]byte, error) {
	buf, err := cio.ReadContext(tid, f.Area, is64)
	if err != nil {
		return nil, err
	}
	if f.Offset+f.Size > len(buf) {
		return nil, fmt.Errorf("%s area of thread %d is %d bytes, register needs %d", f.Area, tid, len(buf), f.Offset+f.Size)
	}
	return buf, nil
}

// ReadUint returns the value of register id of thread tid, truncated to
// the pointer size of the requested width.
func ReadUint(cio ContextIO, tid int, id RegisterID, is64 bool) (uint64, error) {
	layout, f, err := resolve(cio, id, is64)
	if err != nil {
		return 0, err
	}
	buf, err := fetch(cio, tid, f, is64)
	if err != nil {
		return 0, err
	}
	v := f.get(buf)
	if layout.PtrSize == 4 {
		v &= 0xffffffff
	}
	return v, nil
}

// Read returns the value of register id of thread tid encoded as a
// little endian, pointer sized byte slice.
func Read(cio ContextIO, tid int, id RegisterID, is64 bool) ([]byte, error) {
	layout, _, err := resolve(cio, id, is64)
	if err != nil {
		return nil, err
	}
	v, err := ReadUint(cio, tid, id, is64)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, v)
	return out[:layout.PtrSize], nil
}

// WriteUint sets register id of thread tid to v. Only the bytes of the
// register are changed, the rest of the area is written back unmodified.
func WriteUint(cio ContextIO, tid int, id RegisterID, v uint64, is64 bool) error {
	layout, f, err := resolve(cio, id, is64)
	if err != nil {
		return err
	}
	if layout.PtrSize == 4 && v>>32 != 0 {
		return fmt.Errorf("value %#x does not fit a 32 bit register", v)
	}
	buf, err := fetch(cio, tid, f, is64)
	if err != nil {
		return err
	}
	f.put(buf, v)
	return cio.WriteContext(tid, f.Area, is64, buf)
}

// Write sets register id of thread tid to value, a little endian integer
// of at most 8 bytes.
func Write(cio ContextIO, tid int, id RegisterID, value []byte, is64 bool) error {
	if len(value) == 0 || len(value) > 8 {
		return fmt.Errorf("register value must be between 1 and 8 bytes, got %d", len(value))
	}
	var v uint64
	for i := len(value) - 1; i >= 0; i-- {
		v = v<<8 | uint64(value[i])
	}
	return WriteUint(cio, tid, id, v, is64)
}
