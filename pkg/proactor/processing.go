package proactor

import (
	"fmt"
	"strings"
)

// ProcessingType declares the kind of work a processor does, which
// decides the pool it runs on.
type ProcessingType int

const (
	// EventLoop is cpu-light, non-blocking work. It runs inline on the
	// event-loop pool.
	EventLoop ProcessingType = iota

	// CPUIntensive is cpu-bound work that would starve the event loop.
	CPUIntensive

	// Blocking is work that blocks on IO.
	Blocking

	// BlockingAndEventLoop is read/write IO that mixes blocking calls with
	// light processing. It always runs on the blocking pool.
	BlockingAndEventLoop

	// Custom work runs on the pool the processor supplies.
	Custom
)

// String returns the type name.
func (t ProcessingType) String() string {
	switch t {
	case EventLoop:
		return "event_loop"
	case CPUIntensive:
		return "cpu_intensive"
	case Blocking:
		return "blocking"
	case BlockingAndEventLoop:
		return "io_rw"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseProcessingType parses a type name. It accepts the String forms and
// the aliases cpu_lite, io and io_rw.
func ParseProcessingType(s string) (ProcessingType, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "event_loop", "cpu_lite":
		return EventLoop, nil
	case "cpu_intensive":
		return CPUIntensive, nil
	case "blocking", "io":
		return Blocking, nil
	case "io_rw", "blocking_and_event_loop":
		return BlockingAndEventLoop, nil
	case "custom":
		return Custom, nil
	default:
		return 0, fmt.Errorf("unknown processing type %q", s)
	}
}
