package shutdown

import (
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"
)

// exitRecorder заменяет os.Exit в тестах.
type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exitRecorder) calls() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

func TestController_FirstSignalDrains(t *testing.T) {
	rec := &exitRecorder{}
	c := New(Config{Exit: rec.exit})
	drain, force := c.Contexts(context.Background())

	if got := c.Signal(); got != StateShuttingDown {
		t.Fatalf("expected shutting_down, got %s", got)
	}

	if drain.Err() == nil {
		t.Error("drain context should be canceled after first signal")
	}
	if force.Err() != nil {
		t.Error("force context must stay alive after first signal")
	}
	if len(rec.calls()) != 0 {
		t.Error("exit must not be called on first signal")
	}
}

func TestController_SecondSignalForces(t *testing.T) {
	rec := &exitRecorder{}
	c := New(Config{Exit: rec.exit})
	_, force := c.Contexts(context.Background())

	c.Signal()
	if got := c.Signal(); got != StateTerminated {
		t.Fatalf("expected terminated, got %s", got)
	}

	if force.Err() == nil {
		t.Error("force context should be canceled after second signal")
	}
	if calls := rec.calls(); len(calls) != 1 || calls[0] != ForcedExitCode {
		t.Errorf("expected exit(%d) once, got %v", ForcedExitCode, calls)
	}
	if !c.Forced() {
		t.Error("expected forced termination")
	}
	if c.Finish() {
		t.Error("Finish after forced exit should report false")
	}
}

func TestController_SignalAfterTerminatedIsNoop(t *testing.T) {
	rec := &exitRecorder{}
	c := New(Config{Exit: rec.exit})
	c.Contexts(context.Background())

	c.Signal()
	if !c.Finish() {
		t.Fatal("graceful finish should report true")
	}
	if c.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", c.State())
	}

	if got := c.Signal(); got != StateTerminated {
		t.Errorf("expected terminated, got %s", got)
	}
	if len(rec.calls()) != 0 {
		t.Error("signal after graceful termination must not call exit")
	}
}

func TestController_SignalBeforeContexts(t *testing.T) {
	c := New(Config{Exit: func(int) {}})

	if got := c.Signal(); got != StateShuttingDown {
		t.Fatalf("expected shutting_down, got %s", got)
	}
}

func TestController_Watch(t *testing.T) {
	rec := &exitRecorder{}
	c := New(Config{Exit: rec.exit})
	drain, force := c.Contexts(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 2)
	done := make(chan struct{})
	go func() {
		c.Watch(ctx, sigs)
		close(done)
	}()

	sigs <- syscall.SIGTERM
	select {
	case <-drain.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("drain context not canceled")
	}

	sigs <- syscall.SIGINT
	select {
	case <-force.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("force context not canceled")
	}

	cancel()
	<-done

	if calls := rec.calls(); len(calls) != 1 {
		t.Errorf("expected one exit call, got %v", calls)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateRunning:      "running",
		StateShuttingDown: "shutting_down",
		StateTerminated:   "terminated",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
