package terminal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComplete(t *testing.T) {
	cmds := DebugCommands()
	got := cmds.complete("re")
	if strings.Join(got, " ") != "regs resume" {
		t.Fatalf("unexpected completions %q", got)
	}
	if got := cmds.complete("W"); strings.Join(got, " ") != "wait with write" {
		t.Fatalf("unexpected completions %q", got)
	}
	if got := cmds.complete("regs -32 d"); len(got) != 6 || got[0] != "regs -32 dr0" {
		t.Fatalf("unexpected register completions %q", got)
	}
	if got := cmds.complete("attach 1"); got != nil {
		t.Fatalf("unexpected completions %q", got)
	}
}

func TestMergeAliases(t *testing.T) {
	cmds := DebugCommands()
	cmds.Merge(map[string][]string{"examinemem": {"dump"}, "wait": {"w"}})
	if cmds.Find("dump") == nil || cmds.lookup("dump").aliases[0] != "examinemem" {
		t.Fatal("alias dump not merged")
	}
	if got := cmds.complete("du"); len(got) != 1 || got[0] != "dump" {
		t.Fatalf("alias not completed: %q", got)
	}
	// Merging again replaces the previous aliases.
	cmds.Merge(map[string][]string{"wait": {"w"}})
	if cmds.lookup("dump") != nil {
		t.Fatal("alias dump survived merge")
	}
	if cmds.lookup("w").aliases[0] != "wait" {
		t.Fatal("alias w lost")
	}
}

func TestRegisterCommand(t *testing.T) {
	cmds := DebugCommands()
	called := ""
	cmds.Register("hello", func(t *Term, ctx callContext, args string) error {
		called = args
		return nil
	}, "says hello")
	if err := cmds.Find("hello")(nil, callContext{}, "world"); err != nil {
		t.Fatal(err)
	}
	if called != "world" {
		t.Fatalf("command called with %q", called)
	}
	if got := cmds.complete("hel"); strings.Join(got, " ") != "hello help" {
		t.Fatalf("unexpected completions %q", got)
	}
}

func TestConfig(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("config max-sessions 3")
		term.MustExec("config stop-timeout 5s")
		term.MustExec("config gdbremote.address localhost:1234")
		term.AssertExecError("config backend ptrace", "unknown backend")
		term.AssertExecError("config max-sessions -1", "greater than zero")
		term.AssertExecError("config nothing 1", "not a configuration parameter")

		if term.conf.MaxSessions != 3 || term.conf.StopTimeout.String() != "5s" || term.conf.GdbRemote.Address != "localhost:1234" {
			t.Fatalf("configuration not changed: %#v", term.conf)
		}
		if term.conf.Backend != "" {
			t.Fatalf("invalid backend kept: %q", term.conf.Backend)
		}

		term.MustExec("config alias x peek")
		if term.cmds.lookup("peek") == nil || term.conf.Aliases["examinemem"][0] != "peek" {
			t.Fatal("alias not added")
		}
		out := term.MustExec("config -list")
		for _, s := range []string{"max-sessions", "3", "gdbremote.packet-timeout", "<not defined>", "alias examinemem", "peek"} {
			if !strings.Contains(out, s) {
				t.Fatalf("config -list does not contain %q:\n%s", s, out)
			}
		}
		term.MustExec("config alias peek")
		if term.cmds.lookup("peek") != nil {
			t.Fatal("alias not removed")
		}
		term.AssertExecError("config alias nothing peek", "unknown command")
	})
}

func TestTranscript(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "transcript.txt")
		term.MustExec("transcript " + path)
		term.MustExec("attach 3")
		out := term.MustExec("transcript -x -t " + path)
		if out != "" {
			t.Fatalf("unexpected output %q", out)
		}
		if out := term.MustExec("target"); out != "" {
			t.Fatalf("output not suppressed: %q", out)
		}
		term.MustExec("transcript -off")
		buf, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(buf) != "Current target: 3\n" {
			t.Fatalf("unexpected transcript %q", buf)
		}
		term.AssertExecError("transcript", "no output path specified")
		term.AssertExecError("transcript -off "+path, "-off option")
	})
}

func TestPrettyExamineMemory(t *testing.T) {
	out := prettyExamineMemory(0x1000, []byte{0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x7, 0x8, 0x9}, 'x', 1)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 rows, got %q", out)
	}
	if f := strings.Fields(lines[1]); strings.Join(f, " ") != "0x1008: 0x09" {
		t.Fatalf("unexpected second row %q", lines[1])
	}
	out = prettyExamineMemory(0x10, []byte{0x5}, 'b', 1)
	if f := strings.Fields(out); strings.Join(f, " ") != "0x10: 00000101" {
		t.Fatalf("unexpected binary output %q", out)
	}
}
