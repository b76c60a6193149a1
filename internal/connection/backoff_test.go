package connection

import (
	"testing"
	"time"
)

func TestRetryDelay_Linear(t *testing.T) {
	base := 2 * time.Second
	max := 30 * time.Second

	if got := RetryDelay(base, max, 1); got != 2*time.Second {
		t.Errorf("RetryDelay(1) = %s, want 2s", got)
	}
	if got := RetryDelay(base, max, 3); got != 6*time.Second {
		t.Errorf("RetryDelay(3) = %s, want 6s", got)
	}
}

func TestRetryDelay_Capped(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Second

	if got := RetryDelay(base, max, 10); got != max {
		t.Errorf("RetryDelay(10) = %s, want cap %s", got, max)
	}
}

func TestRetryDelay_NonDecreasing(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	prev := time.Duration(0)
	for i := 1; i <= 20; i++ {
		d := RetryDelay(base, max, i)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %s < %s", i, d, prev)
		}
		if d > max {
			t.Fatalf("delay %s exceeds cap %s at attempt %d", d, max, i)
		}
		prev = d
	}
}

func TestRetryDelay_ClampsBadInput(t *testing.T) {
	if got := RetryDelay(time.Second, 10*time.Second, 0); got != time.Second {
		t.Errorf("RetryDelay(0) = %s, want 1s", got)
	}
	if got := RetryDelay(time.Second, 10*time.Second, -3); got != time.Second {
		t.Errorf("RetryDelay(-3) = %s, want 1s", got)
	}
}
