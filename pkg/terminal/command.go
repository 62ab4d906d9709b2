// Package terminal implements functions for responding to user
// input and dispatching to the debugging primitives.
package terminal

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/proc/regs"
)

// callContext is the context a command runs in.
type callContext struct {
	// Pid is the process the command applies to, 0 if none is selected.
	Pid int
}

// target returns the process the command applies to.
func (ctx callContext) target() (int, error) {
	if ctx.Pid == 0 {
		return 0, errNoTarget
	}
	return ctx.Pid, nil
}

type cmdfunc func(t *Term, ctx callContext, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the hldbg terminal.
type Commands struct {
	cmds  []command
	names *trie.Trie
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

var (
	errNoTarget   = errors.New("no process selected, use attach or target")
	noCmdError    = errors.New("command not available")
	maxExamineLen = 4096
)

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"attach", "start"}, group: sessionCmds, cmdFn: attachCmd, helpMsg: `Attaches to a running process.

	attach <pid>

The process becomes the target of the commands that follow. Attaching does not stop the process, use interrupt to stop it.`},
		{aliases: []string{"detach", "stop"}, group: sessionCmds, cmdFn: detachCmd, helpMsg: `Detaches from a process.

	detach [<pid>]

Without arguments detaches from the current target. The process keeps running.`},
		{aliases: []string{"target"}, group: sessionCmds, cmdFn: targetCmd, helpMsg: `Shows or selects the current target.

	target [<pid>]

The process must have been attached with attach.`},
		{aliases: []string{"sessions"}, group: sessionCmds, cmdFn: sessionsCmd, helpMsg: `Lists the attached processes and their last event.`},
		{aliases: []string{"with"}, group: sessionCmds, cmdFn: c.withCmd, helpMsg: `Executes a command on another attached process.

	with <pid> <command>

The current target is not changed.`},
		{aliases: []string{"interrupt", "breakpoint", "halt"}, group: runCmds, cmdFn: interruptCmd, helpMsg: `Stops the target.

The stop is reported by the next wait.`},
		{aliases: []string{"wait"}, group: runCmds, cmdFn: waitCmd, helpMsg: `Waits for the next event of the target.

	wait [<timeout>]

The timeout is in milliseconds, without it wait blocks until an event arrives. Typing ctrl-C while waiting interrupts the target.`},
		{aliases: []string{"resume", "r"}, group: runCmds, cmdFn: resumeCmd, helpMsg: `Resumes the target after an event.

	resume [<thread>]

Resume returns immediately, use wait to observe the next event.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: continueCmd, helpMsg: `Resumes the target and waits for the next event.

	continue [<thread>]`},
		{aliases: []string{"examinemem", "x"}, group: dataCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine raw memory at the given address.

	examinemem [-fmt <format>] [-count|-len <count>] [-size <size>] <address>

Format represents the data format and the value is one of this list (default hex): bin(binary), oct(octal), dec(decimal), hex(hexadecimal).
Length is the number of items (default 16) and size is the size of each item in bytes (default 1).

For example:

    x -fmt hex -len 20 0xc00008af38
    x -size 8 -len 4 0x7ffe2a0c`},
		{aliases: []string{"write"}, group: dataCmds, cmdFn: writeMemoryCmd, helpMsg: `Writes bytes into memory.

	write <address> <hex bytes>...

The bytes are written at once or not at all. For example:

	write 0x401000 cc
	write 0x401000 90 90 "c3"`},
		{aliases: []string{"flush"}, group: dataCmds, cmdFn: flushCmd, helpMsg: `Invalidates the instruction cache.

	flush <address> <size>`},
		{aliases: []string{"regs"}, group: dataCmds, cmdFn: regsCmd, helpMsg: `Print contents of registers.

	regs [-32] [-t <thread>] [<register>...]

Without registers prints every register the target supports. -32 uses the 32 bit register context, -t selects a thread other than the one of the last event.`},
		{aliases: []string{"set"}, group: dataCmds, cmdFn: setCmd, helpMsg: `Changes the value of a register.

	set [-32] [-t <thread>] <register> <value>

Registers can be named (sp, ip, flags, dr7, rip...) or given by code.`},
		{aliases: []string{"source"}, group: scriptCmds, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of hldbg commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.

If path is a single '-' character an interactive starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of hldbg's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger, detaching from every process.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.index()
	return c
}

// index rebuilds the trie used to complete command names.
func (c *Commands) index() {
	c.names = trie.New()
	for i := range c.cmds {
		for _, alias := range c.cmds[i].aliases {
			c.names.Add(alias, i)
		}
	}
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.index()
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will return nullCommand.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// CallWithContext takes a command and a context that command should be executed in.
func (c *Commands) CallWithContext(cmdstr string, t *Term, ctx callContext) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, ctx, args)
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	return c.CallWithContext(cmdstr, t, callContext{Pid: t.pid})
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.index()
}

// complete returns the completions of line: command names for the first
// word, register names for the arguments of regs and set.
func (c *Commands) complete(line string) []string {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 1 {
		r := c.names.PrefixSearch(strings.ToLower(line))
		sort.Strings(r)
		return r
	}
	if cmd := c.lookup(fields[0]); cmd != nil && (cmd.aliases[0] == "regs" || cmd.aliases[0] == "set") {
		args := fields[1]
		start := strings.LastIndex(args, " ") + 1
		prefix := strings.ToLower(args[start:])
		var r []string
		for id := regs.RegisterID(0); int(id) < regs.NumRegisters; id++ {
			if strings.HasPrefix(id.String(), prefix) {
				r = append(r, fields[0]+" "+args[:start]+id.String())
			}
		}
		return r
	}
	return nil
}

// lookup returns the command with alias name, nil if there is none.
func (c *Commands) lookup(name string) *command {
	node, ok := c.names.Find(name)
	if !ok {
		return nil
	}
	return &c.cmds[node.Meta().(int)]
}

func noCmdAvailable(t *Term, ctx callContext, args string) error {
	return noCmdError
}

func nullCommand(t *Term, ctx callContext, args string) error {
	return nil
}

func (c *Commands) help(t *Term, ctx callContext, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args the way a shell would, without expansions.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal commandline '%s'", args)
	}
	return v[0], nil
}

func parsePid(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return pid, nil
}

func parseAddress(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

// failed returns the error of the last primitive that failed.
func failed(t *Term, op string, pid int) error {
	if err := t.ctrl.LastError(); err != nil {
		return fmt.Errorf("%s %d: %v", op, pid, err)
	}
	return fmt.Errorf("%s %d failed", op, pid)
}

func attachCmd(t *Term, ctx callContext, args string) error {
	if args == "" {
		return errors.New("not enough arguments: attach <pid>")
	}
	pid, err := parsePid(args)
	if err != nil {
		return err
	}
	if !t.ctrl.Start(pid) {
		return failed(t, "attach", pid)
	}
	t.pid = pid
	fmt.Fprintf(t.stdout, "Attached to process %d\n", pid)
	return nil
}

func detachCmd(t *Term, ctx callContext, args string) error {
	pid, err := ctx.target()
	if args != "" {
		pid, err = parsePid(args)
	}
	if err != nil {
		return err
	}
	if !t.ctrl.Stop(pid) {
		return failed(t, "detach", pid)
	}
	if t.pid == pid {
		t.pid = 0
		if sessions := t.ctrl.Sessions(); len(sessions) > 0 {
			t.pid = sessions[0].Pid
		}
	}
	fmt.Fprintf(t.stdout, "Detached from process %d\n", pid)
	return nil
}

func targetCmd(t *Term, ctx callContext, args string) error {
	if args == "" {
		if t.pid == 0 {
			return errNoTarget
		}
		fmt.Fprintf(t.stdout, "Current target: %d\n", t.pid)
		return nil
	}
	pid, err := parsePid(args)
	if err != nil {
		return err
	}
	for _, s := range t.ctrl.Sessions() {
		if s.Pid == pid {
			t.pid = pid
			return nil
		}
	}
	return fmt.Errorf("process %d is not attached", pid)
}

func sessionsCmd(t *Term, ctx callContext, args string) error {
	sessions := t.ctrl.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(t.stdout, "No processes attached.")
		return nil
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "  Slot\tPid\tLast event\tThread")
	for _, s := range sessions {
		prefix := "  "
		if s.Pid == t.pid {
			prefix = "* "
		}
		last, thread := "-", "-"
		if s.HasEvent {
			last = s.LastEvent.Status.String()
			thread = strconv.Itoa(s.LastEvent.ThreadID)
		}
		fmt.Fprintf(w, "%s%d\t%d\t%s\t%s\n", prefix, s.Slot, s.Pid, last, thread)
	}
	return w.Flush()
}

func (c *Commands) withCmd(t *Term, ctx callContext, args string) error {
	v := strings.SplitN(args, " ", 2)
	if len(v) != 2 {
		return errors.New("not enough arguments: with <pid> <command>")
	}
	pid, err := parsePid(v[0])
	if err != nil {
		return err
	}
	ctx.Pid = pid
	return c.CallWithContext(v[1], t, ctx)
}

func interruptCmd(t *Term, ctx callContext, args string) error {
	pid, err := ctx.target()
	if err != nil {
		return err
	}
	if !t.ctrl.Breakpoint(pid) {
		return failed(t, "interrupt", pid)
	}
	return nil
}

func waitCmd(t *Term, ctx callContext, args string) error {
	pid, err := ctx.target()
	if err != nil {
		return err
	}
	timeout := 0
	if args != "" {
		timeout, err = strconv.Atoi(args)
		if err != nil || timeout < 0 {
			return fmt.Errorf("invalid timeout %q", args)
		}
	}
	return waitForEvent(t, pid, timeout)
}

func waitForEvent(t *Term, pid, timeoutMs int) error {
	thread := 0
	start := time.Now()
	status := proc.EventStatus(t.ctrl.Wait(pid, &thread, timeoutMs))
	t.log.Debugf("wait %d returned %s after %v", pid, status, time.Since(start))
	switch status {
	case proc.StatusTimeout:
		fmt.Fprintf(t.stdout, "%s after %dms\n", t.colorize(statusColor(status), status.String()), timeoutMs)
	case proc.StatusError:
		if err := t.ctrl.LastError(); err != nil {
			return fmt.Errorf("wait %d: %v", pid, err)
		}
		fmt.Fprintf(t.stdout, "%s in thread %d\n", t.colorize(statusColor(status), status.String()), thread)
	case proc.StatusExited:
		fmt.Fprintf(t.stdout, "Process %d has %s\n", pid, t.colorize(statusColor(status), status.String()))
	default:
		fmt.Fprintf(t.stdout, "%s in thread %d\n", t.colorize(statusColor(status), status.String()), thread)
	}
	return nil
}

func parseThread(args string) (int, error) {
	if args == "" {
		return 0, nil
	}
	thread, err := strconv.Atoi(args)
	if err != nil || thread < 0 {
		return 0, fmt.Errorf("invalid thread %q", args)
	}
	return thread, nil
}

func resumeCmd(t *Term, ctx callContext, args string) error {
	pid, err := ctx.target()
	if err != nil {
		return err
	}
	thread, err := parseThread(args)
	if err != nil {
		return err
	}
	if !t.ctrl.Resume(pid, thread) {
		return failed(t, "resume", pid)
	}
	return nil
}

func continueCmd(t *Term, ctx callContext, args string) error {
	if err := resumeCmd(t, ctx, args); err != nil {
		return err
	}
	return waitForEvent(t, ctx.Pid, 0)
}

func examineMemoryCmd(t *Term, ctx callContext, args string) error {
	pid, err := ctx.target()
	if err != nil {
		return err
	}
	v, err := splitArgs(args)
	if err != nil {
		return err
	}

	var (
		address  uint64
		haveAddr bool
		ok       bool
	)

	// Default value
	priFmt := byte('x')
	count := 16
	size := 1

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-count", "-len":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -count/-len")
			}
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return fmt.Errorf("count/len must be a positive integer")
			}
		case "-size":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -size")
			}
			size, err = strconv.Atoi(v[i])
			if err != nil || size <= 0 || size > 8 {
				return fmt.Errorf("size must be a positive integer (<=8)")
			}
		default:
			if i != len(v)-1 {
				return fmt.Errorf("unknown option %q", v[i])
			}
			address, err = parseAddress(v[i])
			if err != nil {
				return err
			}
			haveAddr = true
		}
	}

	if count*size > maxExamineLen {
		return fmt.Errorf("read memory range (count*size) must be less than or equal to %d bytes", maxExamineLen)
	}
	if !haveAddr {
		return fmt.Errorf("no address specified")
	}

	memArea := make([]byte, count*size)
	if !t.ctrl.Read(pid, address, memArea) {
		return failed(t, "read", pid)
	}
	fmt.Fprint(t.stdout, prettyExamineMemory(uintptr(address), memArea, priFmt, size))
	return nil
}

func writeMemoryCmd(t *Term, ctx callContext, args string) error {
	pid, err := ctx.target()
	if err != nil {
		return err
	}
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) < 2 {
		return errors.New("not enough arguments: write <address> <hex bytes>...")
	}
	address, err := parseAddress(v[0])
	if err != nil {
		return err
	}
	var data []byte
	for _, s := range v[1:] {
		b, err := hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(s, " ", ""), "0x"))
		if err != nil {
			return fmt.Errorf("invalid bytes %q: %v", s, err)
		}
		data = append(data, b...)
	}
	if !t.ctrl.Write(pid, address, data) {
		return failed(t, "write", pid)
	}
	return nil
}

func flushCmd(t *Term, ctx callContext, args string) error {
	pid, err := ctx.target()
	if err != nil {
		return err
	}
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) != 2 {
		return errors.New("wrong number of arguments: flush <address> <size>")
	}
	address, err := parseAddress(v[0])
	if err != nil {
		return err
	}
	size, err := strconv.Atoi(v[1])
	if err != nil || size < 0 {
		return fmt.Errorf("invalid size %q", v[1])
	}
	if !t.ctrl.Flush(pid, address, size) {
		return failed(t, "flush", pid)
	}
	return nil
}

// parseRegisterFlags consumes the -32 and -t options shared by regs and
// set.
func parseRegisterFlags(v []string) (is64 bool, thread int, rest []string, err error) {
	is64 = true
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-32":
			is64 = false
		case "-t":
			i++
			if i >= len(v) {
				return false, 0, nil, errors.New("expected argument after -t")
			}
			thread, err = parseThread(v[i])
			if err != nil {
				return false, 0, nil, err
			}
		default:
			return is64, thread, v[i:], nil
		}
	}
	return is64, thread, nil, nil
}

func formatRegister(value []byte) string {
	return fmt.Sprintf("0x%0*x", 2*len(value), littleEndianUint(value))
}

func regsCmd(t *Term, ctx callContext, args string) error {
	pid, err := ctx.target()
	if err != nil {
		return err
	}
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	is64, thread, names, err := parseRegisterFlags(v)
	if err != nil {
		return err
	}

	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 2, ' ', 0)
	if len(names) == 0 {
		for id := regs.RegisterID(0); int(id) < regs.NumRegisters; id++ {
			value := t.ctrl.ReadRegister(pid, thread, int(id), is64)
			if value == nil {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\n", id, formatRegister(value))
		}
		return w.Flush()
	}
	for _, name := range names {
		id, err := regs.ParseRegister(name)
		if err != nil {
			return err
		}
		value := t.ctrl.ReadRegister(pid, thread, int(id), is64)
		if value == nil {
			w.Flush()
			return failed(t, "read "+id.String()+" of", pid)
		}
		fmt.Fprintf(w, "%s\t%s\n", id, formatRegister(value))
	}
	return w.Flush()
}

func setCmd(t *Term, ctx callContext, args string) error {
	pid, err := ctx.target()
	if err != nil {
		return err
	}
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	is64, thread, rest, err := parseRegisterFlags(v)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return errors.New("wrong number of arguments: set <register> <value>")
	}
	id, err := regs.ParseRegister(rest[0])
	if err != nil {
		return err
	}
	n, err := strconv.ParseUint(rest[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", rest[1])
	}
	width := 8
	if !is64 {
		width = 4
		if n > 0xffffffff {
			return fmt.Errorf("value %q does not fit 32 bits", rest[1])
		}
	}
	value := make([]byte, width)
	for i := range value {
		value[i] = byte(n >> (8 * i))
	}
	if !t.ctrl.WriteRegister(pid, thread, int(id), value, is64) {
		return failed(t, "write "+id.String()+" of", pid)
	}
	return nil
}

func (c *Commands) sourceCommand(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main")
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, ctx callContext, args string) error {
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range strings.Fields(args) {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits hldbg.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, ctx callContext, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
