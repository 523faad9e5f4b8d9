package backoff

import (
	"context"
	"testing"
	"time"
)

func TestExponential_Delay(t *testing.T) {
	e := Exponential{Initial: 100 * time.Millisecond, Max: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // capped
		{30, time.Second},
	}

	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_DefaultInitial(t *testing.T) {
	e := Exponential{}
	if got := e.Delay(1); got != time.Second {
		t.Errorf("expected 1s default initial, got %v", got)
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	e := ExponentialWithJitter{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond}

	for attempt := 1; attempt <= 6; attempt++ {
		upper := Exponential{Initial: e.Initial, Max: e.Max}.Delay(attempt)
		for i := 0; i < 50; i++ {
			d := e.Delay(attempt)
			if d < 0 || d > upper {
				t.Fatalf("attempt %d: delay %v outside [0, %v]", attempt, d, upper)
			}
		}
	}
}

func TestSleep_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, 10*time.Second); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep should return immediately on cancelled context")
	}
}

func TestSleep_Elapses(t *testing.T) {
	if err := Sleep(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
