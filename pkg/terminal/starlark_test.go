package terminal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hldbg/hldbg/pkg/config"
	"github.com/hldbg/hldbg/pkg/proc/test"
	"github.com/hldbg/hldbg/pkg/session"
	"github.com/hldbg/hldbg/service/debugger"
)

func writeScript(t *testing.T, name, src string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(src), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStarlarkSource(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := writeScript(t, "patch.star", `
def command_patch(addr, size):
    "Fills memory with int3."
    pid = current_pid()
    if not write(pid, addr, [0xcc] * size):
        print("write failed: " + last_error())
        return
    flush(pid, addr, size)
    print("patched %d bytes" % size)

def main():
    hldbg_command("attach 31")
`)
		out := term.MustExec("source " + path)
		if !strings.Contains(out, "Attached to process 31\n") {
			t.Fatalf("main not executed:\n%s", out)
		}
		if term.pid != 31 {
			t.Fatalf("unexpected target %d", term.pid)
		}
		term.AssertExec("patch 0x20, 2", "patched 2 bytes\n")
		if got := term.backend.Tracer(31).Memory()[0x20:0x23]; string(got) != "\xcc\xcc\x00" {
			t.Fatalf("memory not patched: %v", got)
		}
		out = term.MustExec("patch 0x200, 2")
		if !strings.HasPrefix(out, "write failed: ") {
			t.Fatalf("unexpected output %q", out)
		}
		out = term.MustExec("help patch")
		if out != "Fills memory with int3.\n" {
			t.Fatalf("unexpected help %q", out)
		}
	})
}

func TestStarlarkError(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := writeScript(t, "bad.star", "def main():\n    read(1, 0)\n")
		term.AssertExecError("source "+path, "missing argument for size")
	})
}

func TestSourceDetaches(t *testing.T) {
	backend := test.NewFakeBackend()
	ctrl, err := debugger.NewWithBackend(&debugger.Config{Session: session.Config{StopTimeout: time.Second}}, backend)
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	path := writeScript(t, "attach.star", "def main():\n    hldbg_command(\"attach 7\")\n    hldbg_command(\"attach 8\")\n")
	term := New(ctrl, &config.Config{})
	term.stdout.w = new(bytes.Buffer)
	status, err := term.Source(path)
	if err != nil || status != 0 {
		t.Fatalf("Source: %d %v", status, err)
	}
	if n := len(ctrl.Sessions()); n != 0 {
		t.Fatalf("%d sessions left after Source", n)
	}
	if !backend.Tracer(7).Detached() || !backend.Tracer(8).Detached() {
		t.Fatal("processes not detached")
	}
}
