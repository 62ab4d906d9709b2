package proc

import "fmt"

// EventStatus is the normalized result of waiting on a debugged process.
// The numeric values are part of the primitive surface and must not change.
type EventStatus int

const (
	StatusTimeout       EventStatus = -1
	StatusExited        EventStatus = 0
	StatusBreakpoint    EventStatus = 1
	StatusSingleStep    EventStatus = 2
	StatusError         EventStatus = 3
	StatusHandled       EventStatus = 4
	StatusStackOverflow EventStatus = 5
)

var statusNames = map[EventStatus]string{
	StatusTimeout:       "timeout",
	StatusExited:        "exited",
	StatusBreakpoint:    "breakpoint",
	StatusSingleStep:    "singlestep",
	StatusError:         "error",
	StatusHandled:       "handled",
	StatusStackOverflow: "stackoverflow",
}

func (s EventStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("EventStatus(%d)", int(s))
}

// Stopping returns true if the target is stopped when this status is
// reported, i.e. the controller is expected to call Resume.
func (s EventStatus) Stopping() bool {
	switch s {
	case StatusBreakpoint, StatusSingleStep, StatusError, StatusStackOverflow:
		return true
	}
	return false
}

// Event is a native debug event after classification.
type Event struct {
	Status   EventStatus
	ThreadID int
}

// SingleStepFlag is the trap flag bit of the x86 flags register.
const SingleStepFlag = 0x100
