package starbind

import (
	"encoding/binary"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/regs"
	"github.com/hldbg/hldbg/pkg/session"
)

// interfaceToStarlarkValue converts a value produced by the controller
// into a starlark.Value.
func interfaceToStarlarkValue(v interface{}) starlark.Value {
	switch v := v.(type) {
	case uint8:
		return starlark.MakeUint64(uint64(v))
	case uint16:
		return starlark.MakeUint64(uint64(v))
	case uint32:
		return starlark.MakeUint64(uint64(v))
	case uint64:
		return starlark.MakeUint64(v)
	case uint:
		return starlark.MakeUint64(uint64(v))
	case int32:
		return starlark.MakeInt64(int64(v))
	case int64:
		return starlark.MakeInt64(v)
	case int:
		return starlark.MakeInt64(int64(v))
	case bool:
		return starlark.Bool(v)
	case string:
		return starlark.String(v)
	case []byte:
		if v == nil {
			return starlark.None
		}
		return starlark.Bytes(v)
	case proc.EventStatus:
		return starlark.MakeInt(int(v))
	case proc.Event:
		return eventToStarlarkValue(v)
	case session.SessionInfo:
		d := starlark.StringDict{
			"pid":  starlark.MakeInt(v.Pid),
			"slot": starlark.MakeInt(v.Slot),
			"last": starlark.None,
		}
		if v.HasEvent {
			d["last"] = eventToStarlarkValue(v.LastEvent)
		}
		return starlarkstruct.FromStringDict(starlarkstruct.Default, d)
	case []session.SessionInfo:
		elems := make([]starlark.Value, len(v))
		for i := range v {
			elems[i] = interfaceToStarlarkValue(v[i])
		}
		return starlark.NewList(elems)
	case nil:
		return starlark.None
	case error:
		return starlark.String(v.Error())
	default:
		return starlark.String(fmt.Sprintf("%v", v))
	}
}

func eventToStarlarkValue(ev proc.Event) starlark.Value {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"status": starlark.MakeInt(int(ev.Status)),
		"name":   starlark.String(ev.Status.String()),
		"thread": starlark.MakeInt(ev.ThreadID),
	})
}

// toAddress converts a non negative starlark integer into an address.
func toAddress(v starlark.Value) (uint64, error) {
	i, ok := v.(starlark.Int)
	if !ok {
		return 0, fmt.Errorf("got %s, want int", v.Type())
	}
	addr, ok := i.Uint64()
	if !ok {
		return 0, fmt.Errorf("address %s out of range", i)
	}
	return addr, nil
}

// toBytes accepts bytes, a string or a list of integers between 0 and 255.
func toBytes(v starlark.Value) ([]byte, error) {
	switch v := v.(type) {
	case starlark.Bytes:
		return []byte(v), nil
	case starlark.String:
		return []byte(v), nil
	case starlark.Indexable:
		buf := make([]byte, v.Len())
		for i := range buf {
			n, err := starlark.AsInt32(v.Index(i))
			if err != nil {
				return nil, fmt.Errorf("element %d: %v", i, err)
			}
			if n < 0 || n > 0xff {
				return nil, fmt.Errorf("element %d: %d is not a byte", i, n)
			}
			buf[i] = byte(n)
		}
		return buf, nil
	}
	return nil, fmt.Errorf("got %s, want bytes", v.Type())
}

// toRegister accepts a register code or a register name.
func toRegister(v starlark.Value) (regs.RegisterID, error) {
	switch v := v.(type) {
	case starlark.String:
		return regs.ParseRegister(string(v))
	case starlark.Int:
		n, err := starlark.AsInt32(v)
		if err != nil {
			return 0, err
		}
		return regs.RegisterID(n), nil
	}
	return 0, fmt.Errorf("got %s, want register name or code", v.Type())
}

// toRegisterValue encodes v as a little endian register value of the
// pointer size implied by is64.
func toRegisterValue(v starlark.Value, is64 bool) ([]byte, error) {
	i, ok := v.(starlark.Int)
	if !ok {
		return toBytes(v)
	}
	n, ok := i.Uint64()
	if !ok {
		n2, ok2 := i.Int64()
		if !ok2 {
			return nil, fmt.Errorf("register value %s out of range", i)
		}
		n = uint64(n2)
	}
	if is64 {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, n)
		return buf, nil
	}
	if s := int64(n); n > 0xffffffff && (s >= 0 || s < -0x80000000) {
		return nil, fmt.Errorf("register value %s does not fit 32 bits", i)
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return buf, nil
}

// registerValueToStarlark decodes a little endian register value.
func registerValueToStarlark(buf []byte) starlark.Value {
	if buf == nil {
		return starlark.None
	}
	var n uint64
	for i := len(buf) - 1; i >= 0; i-- {
		n = n<<8 | uint64(buf[i])
	}
	return starlark.MakeUint64(n)
}
