package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/hldbg/hldbg/pkg/config"
	"github.com/hldbg/hldbg/pkg/logflags"
	"github.com/hldbg/hldbg/pkg/proc"
	"github.com/hldbg/hldbg/pkg/terminal/starbind"
	"github.com/hldbg/hldbg/service/debugger"
)

const (
	historyFile                 string = ".hldbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
	ansiCyan   = 36
)

// Term represents the terminal running hldbg.
type Term struct {
	ctrl        *debugger.Controller
	conf        *config.Config
	prompt      string
	line        *liner.State
	cmds        *Commands
	dumb        bool
	stdout      *transcriptWriter
	InitFile    string
	log         logflags.Logger
	starlarkEnv *starbind.Env

	// pid is the process commands apply to, 0 if none is selected.
	pid int

	quittingMutex sync.Mutex
	quitting      bool
}

// New returns a new Term.
func New(ctrl *debugger.Controller, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	if dumb {
		w = os.Stdout
	} else {
		w = colorable.NewColorableStdout()
	}

	t := &Term{
		ctrl:   ctrl,
		conf:   conf,
		prompt: "(hldbg) ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		stdout: &transcriptWriter{w: w},
		log:    logflags.TerminalLogger(),
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
	if err := t.stdout.CloseTranscript(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing transcript file: %v\n", err)
	}
}

// sigintGuard interrupts the selected process on SIGINT, or cancels the
// starlark script that is running.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		if t.pid == 0 {
			continue
		}
		fmt.Fprintf(t.stdout, "received SIGINT, interrupting process %d (will not forward signal)\n", t.pid)
		if !t.ctrl.Breakpoint(t.pid) {
			fmt.Fprintf(os.Stderr, "%v\n", t.ctrl.LastError())
		}
	}
}

// Run begins running hldbg in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)
	defer signal.Stop(ch)

	t.line.SetCompleter(t.cmds.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.sourceCommand(t, callContext{}, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed")
		}
		t.stdout.Echo(t.prompt + cmdstr + "\n")

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.quittingMutex.Lock()
			quitting := t.quitting
			t.quittingMutex.Unlock()
			if quitting {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
		t.stdout.Flush()
	}
}

// Attach starts a session on pid and selects it as the target of the
// following commands.
func (t *Term) Attach(pid int) error {
	return t.cmds.Call(fmt.Sprintf("attach %d", pid), t)
}

// Source executes the script at path without prompting for input, then
// detaches from every process the script left attached.
func (t *Term) Source(path string) (int, error) {
	defer t.Close()
	err := t.cmds.sourceCommand(t, callContext{}, path)
	if _, ok := err.(ExitRequestError); ok {
		err = nil
	}
	status, derr := t.detachAll()
	if err != nil {
		return 1, err
	}
	return status, derr
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	fmt.Fprintf(t.stdout, "%s%s\n", t.colorize(ansiBlue, prefix), str)
}

// colorize wraps s in the escape codes of color, unless the terminal is
// dumb.
func (t *Term) colorize(color int, s string) string {
	if t.dumb || s == "" {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + s + terminalResetEscapeCode
}

// statusColor returns the color used to print events with status s.
func statusColor(s proc.EventStatus) int {
	switch s {
	case proc.StatusBreakpoint, proc.StatusSingleStep:
		return ansiYellow
	case proc.StatusError, proc.StatusStackOverflow:
		return ansiRed
	case proc.StatusExited:
		return ansiCyan
	}
	return ansiGreen
}

func (t *Term) promptForInput() (string, error) {
	prompt := t.prompt
	if t.pid != 0 {
		prompt = fmt.Sprintf("(hldbg %d) ", t.pid)
	}
	l, err := t.line.Prompt(prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func yesno(line *liner.State, question string) (bool, error) {
	for {
		answer, err := line.Prompt(question)
		if err != nil {
			return false, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		switch answer {
		case "n", "no":
			return false, nil
		case "y", "yes":
			return true, nil
		}
	}
}

// handleExit saves the history and detaches from every process still
// attached.
func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	return t.detachAll()
}

// detachAll stops every session still registered.
func (t *Term) detachAll() (int, error) {
	sessions := t.ctrl.Sessions()
	if len(sessions) == 0 {
		return 0, nil
	}
	t.log.Debugf("detaching from %d processes on exit", len(sessions))
	failed := 0
	for _, s := range sessions {
		if !t.ctrl.Stop(s.Pid) {
			fmt.Fprintf(os.Stderr, "could not detach from %d: %v\n", s.Pid, t.ctrl.LastError())
			failed++
		}
	}
	if failed > 0 {
		return 1, fmt.Errorf("could not detach from %d processes", failed)
	}
	return 0, nil
}
