package monitoring

import (
	"fmt"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// CapturePanic reports a recovered panic value without re-panicking.
	CapturePanic(v any, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any, map[string]string)       {}
func (NopMonitor) Flush(time.Duration)                       {}

var current Monitor = NopMonitor{}

// Init sets the global monitor implementation.
func Init(m Monitor) {
	if m != nil {
		current = m
	}
}

// Current returns the global monitor.
func Current() Monitor { return current }

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if current != nil {
		current.CaptureException(err, tags)
	}
}

// Recover captures a panic in the calling goroutine and re-panics. It must
// be deferred directly.
func Recover() {
	if r := recover(); r != nil {
		if current != nil {
			current.CapturePanic(r, nil)
			current.Flush(2 * time.Second)
		}
		panic(r)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	if current != nil {
		current.Flush(d)
	}
}

// PanicError converts a recovered value into an error.
func PanicError(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", v)
}
