package monitoring

import (
	"errors"
	"testing"
	"time"
)

type recordingMonitor struct {
	errs   []error
	panics []any
}

func (m *recordingMonitor) CaptureException(err error, _ map[string]string) {
	m.errs = append(m.errs, err)
}
func (m *recordingMonitor) CapturePanic(v any, _ map[string]string) { m.panics = append(m.panics, v) }
func (m *recordingMonitor) Flush(time.Duration)                     {}

func TestGlobalMonitor(t *testing.T) {
	prev := Current()
	defer Init(prev)

	m := &recordingMonitor{}
	Init(m)
	Init(nil)
	if Current() != m {
		t.Fatalf("nil Init replaced the monitor")
	}
	CaptureException(errors.New("x"), nil)
	if len(m.errs) != 1 {
		t.Fatalf("exception not captured")
	}

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Fatalf("expected re-panic, got %v", r)
			}
		}()
		defer Recover()
		panic("boom")
	}()
	if len(m.panics) != 1 {
		t.Fatalf("panic not captured")
	}
}

func TestPanicError(t *testing.T) {
	base := errors.New("bad")
	if !errors.Is(PanicError(base), base) {
		t.Fatalf("expected wrapped error")
	}
	if PanicError("oops").Error() != "panic: oops" {
		t.Fatalf("unexpected message")
	}
}
