// Package proc defines the primitive debugging surface shared by every
// native backend: the event status enumeration, the backend and tracer
// interfaces, the error taxonomy and the memory accessor that turns a
// word-sized tracing primitive into arbitrary-length transfers.
//
// Concrete backends live in the native (ptrace on Linux, debug events on
// Windows) and gdbserial (gdb remote serial protocol) subpackages.
package proc
