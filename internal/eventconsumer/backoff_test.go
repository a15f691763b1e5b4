package eventconsumer

import (
	"testing"
	"time"
)

func TestBackoffDoublesUntilCapped(t *testing.T) {
	base, max := 100*time.Millisecond, time.Second
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	prev := time.Duration(0)
	for i, expected := range want {
		got := Backoff(int64(i+1), base, max)
		if got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, got)
		}
		if got < prev {
			t.Fatalf("attempt %d: backoff decreased", i+1)
		}
		prev = got
	}
}

func TestBackoffLargeAttemptDoesNotOverflow(t *testing.T) {
	if got := Backoff(200, time.Second, time.Hour); got != time.Hour {
		t.Fatalf("expected cap, got %s", got)
	}
}

func TestBackoffEdgeInputs(t *testing.T) {
	if got := Backoff(0, time.Second, time.Minute); got != time.Second {
		t.Fatalf("attempt 0 should use base, got %s", got)
	}
	if got := Backoff(3, time.Second, 0); got != time.Second {
		t.Fatalf("max below base should clamp to base, got %s", got)
	}
	if got := Backoff(3, 0, time.Second); got != 0 {
		t.Fatalf("zero base should yield zero, got %s", got)
	}
}

func TestBackoffOddCapKeepsExactDoubling(t *testing.T) {
	cases := []struct {
		attempt   int64
		base, max time.Duration
		want      time.Duration
	}{
		{attempt: 2, base: 100, max: 201, want: 200},
		{attempt: 3, base: 100, max: 401, want: 400},
		{attempt: 3, base: 100, max: 399, want: 399},
		{attempt: 2, base: 3, max: 7, want: 6},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt, tc.base, tc.max); got != tc.want {
			t.Fatalf("Backoff(%d, %d, %d): expected %d, got %d", tc.attempt, tc.base, tc.max, tc.want, got)
		}
	}
}
