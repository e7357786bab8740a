package queue

import (
	"testing"
	"time"
)

func TestBackoffLinearMonotonic(t *testing.T) {
	b := Backoff{Kind: BackoffLinear, Base: 30 * time.Second}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := b.Delay(attempt)
		if d <= prev {
			t.Fatalf("attempt %d: delay %v not strictly greater than %v", attempt, d, prev)
		}
		prev = d
	}
	if got := b.Delay(3); got != 90*time.Second {
		t.Errorf("got %v, want 90s", got)
	}
}

func TestBackoffExponential(t *testing.T) {
	b := Backoff{Kind: BackoffExponential, Base: time.Minute}
	want := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("attempt %d: got %v, want %v", i+1, got, w)
		}
	}
	// Capped so a long retry chain cannot schedule years out.
	if got := b.Delay(40); got != 24*time.Hour {
		t.Errorf("got %v, want 24h cap", got)
	}
}

func TestBackoffZeroValue(t *testing.T) {
	var b Backoff
	if got := b.Delay(2); got != 2*time.Minute {
		t.Errorf("got %v, want linear 2m from defaults", got)
	}
	if got := b.Delay(0); got != time.Minute {
		t.Errorf("got %v, want clamped first attempt", got)
	}
}
