package starbind

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"

	"github.com/hldbg/hldbg/pkg/proc"
)

type builtinFn func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// primitives returns the builtins of the environment: the debugging
// primitives of the controller, the terminal builtins and help.
func (env *Env) primitives() starlark.StringDict {
	r := starlark.StringDict{}
	doc := make(map[string]string)

	add := func(name, args, descr string, fn builtinFn) {
		r[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := isCancelled(thread); err != nil {
				return starlark.None, decorateError(thread, err)
			}
			v, err := fn(thread, b, args, kwargs)
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
			return v, nil
		})
		doc[name] = name + args + "\n\n" + name + " " + descr
	}

	pidOp := func(name, descr string, op func(pid int) bool) {
		add(name, "(Pid)", descr, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var pid int
			if err := starlark.UnpackArgs(name, args, kwargs, "pid", &pid); err != nil {
				return nil, err
			}
			return starlark.Bool(op(pid)), nil
		})
	}

	pidOp("start", "attaches to the process and reports whether it succeeded.", func(pid int) bool {
		return env.ctx.Controller().Start(pid)
	})
	pidOp("stop", "detaches from the process, the process keeps running.", func(pid int) bool {
		return env.ctx.Controller().Stop(pid)
	})
	pidOp("breakpoint", "interrupts the process, the stop is reported by wait.", func(pid int) bool {
		return env.ctx.Controller().Breakpoint(pid)
	})

	add("read", "(Pid, Addr, Size)", "returns Size bytes of memory at Addr, None if they can not be read.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			pid, size int
			addrv     starlark.Value
		)
		if err := starlark.UnpackArgs("read", args, kwargs, "pid", &pid, "addr", &addrv, "size", &size); err != nil {
			return nil, err
		}
		addr, err := toAddress(addrv)
		if err != nil {
			return nil, err
		}
		if size < 0 {
			size = 0
		}
		buf := make([]byte, size)
		if !env.ctx.Controller().Read(pid, addr, buf) {
			return starlark.None, nil
		}
		return starlark.Bytes(buf), nil
	})

	add("write", "(Pid, Addr, Data)", "writes Data, bytes or a list of integers, at Addr.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			pid          int
			addrv, datav starlark.Value
		)
		if err := starlark.UnpackArgs("write", args, kwargs, "pid", &pid, "addr", &addrv, "data", &datav); err != nil {
			return nil, err
		}
		addr, err := toAddress(addrv)
		if err != nil {
			return nil, err
		}
		data, err := toBytes(datav)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(env.ctx.Controller().Write(pid, addr, data)), nil
	})

	add("flush", "(Pid, Addr, Size)", "invalidates the instruction cache for Size bytes at Addr.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			pid, size int
			addrv     starlark.Value
		)
		if err := starlark.UnpackArgs("flush", args, kwargs, "pid", &pid, "addr", &addrv, "size", &size); err != nil {
			return nil, err
		}
		addr, err := toAddress(addrv)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(env.ctx.Controller().Flush(pid, addr, size)), nil
	})

	add("wait", "(Pid, TimeoutMs=0)", "waits for the next event of the process, indefinitely if TimeoutMs is 0. It returns a struct with fields status, name and thread.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var pid, timeout int
		if err := starlark.UnpackArgs("wait", args, kwargs, "pid", &pid, "timeout_ms?", &timeout); err != nil {
			return nil, err
		}
		thread := 0
		status := proc.EventStatus(env.ctx.Controller().Wait(pid, &thread, timeout))
		return eventToStarlarkValue(proc.Event{Status: status, ThreadID: thread}), nil
	})

	add("resume", "(Pid, Thread=0)", "continues the execution of the process.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var pid, thread int
		if err := starlark.UnpackArgs("resume", args, kwargs, "pid", &pid, "thread?", &thread); err != nil {
			return nil, err
		}
		return starlark.Bool(env.ctx.Controller().Resume(pid, thread)), nil
	})

	add("read_register", "(Pid, Thread, Reg, Is64=True)", "returns the value of register Reg, a name or a code, of Thread. Thread 0 selects the thread of the last event. It returns None on failure.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			pid, thread int
			regv        starlark.Value
			is64        = true
		)
		if err := starlark.UnpackArgs("read_register", args, kwargs, "pid", &pid, "thread", &thread, "reg", &regv, "is64?", &is64); err != nil {
			return nil, err
		}
		reg, err := toRegister(regv)
		if err != nil {
			return nil, err
		}
		return registerValueToStarlark(env.ctx.Controller().ReadRegister(pid, thread, int(reg), is64)), nil
	})

	add("write_register", "(Pid, Thread, Reg, Value, Is64=True)", "sets register Reg of Thread to Value, an integer or little endian bytes.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			pid, thread int
			regv, valv  starlark.Value
			is64        = true
		)
		if err := starlark.UnpackArgs("write_register", args, kwargs, "pid", &pid, "thread", &thread, "reg", &regv, "value", &valv, "is64?", &is64); err != nil {
			return nil, err
		}
		reg, err := toRegister(regv)
		if err != nil {
			return nil, err
		}
		val, err := toRegisterValue(valv, is64)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(env.ctx.Controller().WriteRegister(pid, thread, int(reg), val, is64)), nil
	})

	add("sessions", "()", "lists the attached processes as structs with fields pid, slot and last, the last event or None.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs("sessions", args, kwargs); err != nil {
			return nil, err
		}
		return interfaceToStarlarkValue(env.ctx.Controller().Sessions()), nil
	})

	add("current_pid", "()", "returns the process selected with the target command, 0 if none is.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return starlark.MakeInt(env.ctx.CurrentPid()), nil
	})

	add("last_error", "()", "returns the message of the last failed primitive, None if nothing failed yet.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return interfaceToStarlarkValue(env.ctx.Controller().LastError()), nil
	})

	add("hldbg_command", "(Command)", "executes a terminal command, its arguments are joined with spaces.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		words := make([]string, len(args))
		for i := range args {
			s, ok := args[i].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("argument %d of hldbg_command is not a string", i)
			}
			words[i] = string(s)
		}
		return starlark.None, env.ctx.CallCommand(strings.Join(words, " "))
	})

	add("help", "(Object)", "prints the help of a builtin or the doc string of a function, without arguments it lists the builtins.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var obj starlark.Value
		if err := starlark.UnpackArgs("help", args, kwargs, "object?", &obj); err != nil {
			return nil, err
		}
		switch x := obj.(type) {
		case nil:
			names := make([]string, 0, len(doc))
			for name := range doc {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintln(env.out, "Available builtins:")
			for _, name := range names {
				fmt.Fprintf(env.out, "\t%s\n", name)
			}
		case *starlark.Builtin:
			if d, ok := doc[x.Name()]; ok {
				fmt.Fprintln(env.out, d)
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if d := x.Doc(); d != "" {
				fmt.Fprintln(env.out, d)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %s\n", obj.Type())
		}
		return starlark.None, nil
	})

	return r
}
