//go:build !(linux && (amd64 || 386)) && !(windows && (amd64 || 386))

package native

import (
	"github.com/hldbg/hldbg/pkg/proc"
)

type osProcessDetails struct{}

func (os *osProcessDetails) Close() {}

// Attach returns proc.ErrUnsupportedOS, the gdbserial backend is used
// instead on this platform.
func (b *Backend) Attach(pid int, env *proc.AttachEnv) (proc.Tracer, error) {
	return nil, &proc.AttachError{Op: "attach", Pid: pid, Err: proc.ErrUnsupportedOS}
}
