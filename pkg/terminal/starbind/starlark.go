package starbind

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/service/debugger"
)

const (
	commandPrefix = "command_"
	cancelLocal   = "hldbg_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
// It gives access to the debugging primitives and to the terminal
// commands.
type Context interface {
	Controller() *debugger.Controller
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
	// CurrentPid returns the process selected in the terminal, 0 if none.
	CurrentPid() int
}

// EchoWriter is the output of the starlark environment. Echo and Flush
// only affect the transcript of the terminal, if there is one.
type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env starlark.StringDict
	ctx Context
	out EchoWriter

	mu     sync.Mutex
	thread *starlark.Thread
	cancel context.CancelFunc
}

// New creates the environment. Its globals are the primitives, the
// terminal builtins and one constant per event status.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{ctx: ctx, out: out}

	starlark.Universe["time"] = startime.Module

	env.env = env.primitives()
	for status := proc.StatusTimeout; status <= proc.StatusStackOverflow; status++ {
		env.env[strings.ToUpper(status.String())] = starlark.MakeInt(int(status))
	}
	return env
}

// Execute runs the script at path, or source when it is not nil, then
// calls its function mainFnName if it has one. The main function takes no
// arguments.
func (env *Env) Execute(path string, source interface{}, mainFnName string) (v starlark.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic executing starlark script: %v", r)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}
	if err := env.exportGlobals(globals); err != nil {
		return starlark.None, err
	}

	main, ok := globals[mainFnName].(*starlark.Function)
	switch {
	case mainFnName == "" || globals[mainFnName] == nil:
		return starlark.None, nil
	case !ok:
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	case main.NumParams() != 0:
		return starlark.None, fmt.Errorf("%s must not take arguments", mainFnName)
	}
	return starlark.Call(thread, main, nil, nil)
}

// exportGlobals makes globals starting with a capital letter visible to
// later scripts and registers every command_ function as a terminal
// command.
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			if fn, ok := val.(*starlark.Function); ok {
				env.registerCommand(name[len(commandPrefix):], fn)
			}
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel interrupts the running script, if any.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.cancel != nil {
		env.cancel()
		env.cancel = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) },
	}
	ctx, cancel := context.WithCancel(context.Background())
	env.mu.Lock()
	env.thread, env.cancel = thread, cancel
	env.mu.Unlock()
	thread.SetLocal(cancelLocal, ctx)
	return thread
}

// registerCommand adds fn as a terminal command. A function with a single
// parameter named args receives the argument string unparsed, otherwise
// the arguments are evaluated as a starlark tuple.
func (env *Env) registerCommand(name string, fn *starlark.Function) {
	helpMsg := fn.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	raw := false
	if fn.NumParams() == 1 {
		p0, _ := fn.Param(0)
		raw = p0 == "args"
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		var argtuple starlark.Tuple
		if raw {
			argtuple = starlark.Tuple{starlark.String(args)}
		} else {
			v, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
			if err != nil {
				return err
			}
			t, ok := v.(starlark.Tuple)
			if !ok {
				t = starlark.Tuple{v}
			}
			argtuple = t
		}
		_, err := starlark.Call(thread, fn, argtuple, nil)
		return err
	})
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(cancelLocal).(context.Context); ok {
		return ctx.Err()
	}
	return nil
}

// decorateError prefixes err with the script position of the builtin call.
func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}
