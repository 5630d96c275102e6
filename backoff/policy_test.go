package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestPolicy_ExponentialTableAndClamp(t *testing.T) {
	policy := Policy{
		Kind:      KindExponential,
		BaseDelay: 5 * time.Second,
		MaxDelay:  300 * time.Second,
		Jitter:    -1,
	}

	expected := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
	}
	for i, want := range expected {
		got := policy.Delay(i + 1)
		if got != want {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, want, got)
		}
	}

	for attempt := 7; attempt <= 10; attempt++ {
		if got := policy.Delay(attempt); got != 300*time.Second {
			t.Fatalf("attempt %d: expected clamp to 300s, got %s", attempt, got)
		}
	}
}

func TestPolicy_FixedKind(t *testing.T) {
	policy := Policy{
		Kind:      KindFixed,
		BaseDelay: 7 * time.Second,
		MaxDelay:  time.Minute,
		Jitter:    -1,
	}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := policy.Delay(attempt); got != 7*time.Second {
			t.Fatalf("attempt %d: expected fixed 7s, got %s", attempt, got)
		}
	}
}

func TestPolicy_JitterStaysWithinBounds(t *testing.T) {
	policy := Policy{
		Kind:      KindExponential,
		BaseDelay: 10 * time.Second,
		MaxDelay:  10 * time.Minute,
		Rand:      rand.New(rand.NewSource(42)),
	}

	for attempt := 1; attempt <= 6; attempt++ {
		noJitter := Policy{
			Kind:      policy.Kind,
			BaseDelay: policy.BaseDelay,
			MaxDelay:  policy.MaxDelay,
			Jitter:    -1,
		}.Delay(attempt)
		lower := time.Duration(float64(noJitter) * 0.9)
		upper := time.Duration(float64(noJitter) * 1.1)
		for i := 0; i < 50; i++ {
			got := policy.Delay(attempt)
			if got < lower || got > upper {
				t.Fatalf("attempt %d: jittered delay %s outside [%s, %s]", attempt, got, lower, upper)
			}
		}
	}
}

func TestPolicy_ValidateRejectsBadInput(t *testing.T) {
	cases := []Policy{
		{Kind: "linear", BaseDelay: time.Second, MaxDelay: time.Minute},
		{Kind: KindExponential, BaseDelay: 0, MaxDelay: time.Minute},
		{Kind: KindFixed, BaseDelay: time.Minute, MaxDelay: time.Second},
	}
	for i, policy := range cases {
		if err := policy.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default policy should validate: %v", err)
	}
}

func TestFromRetryPolicy_NormalizesDocument(t *testing.T) {
	policy := FromRetryPolicy(" Fixed ", 2*time.Second, 20*time.Second)
	if policy.Kind != KindFixed {
		t.Fatalf("expected fixed kind, got %q", policy.Kind)
	}
	if policy.BaseDelay != 2*time.Second || policy.MaxDelay != 20*time.Second {
		t.Fatalf("expected delays to be carried over, got %s/%s", policy.BaseDelay, policy.MaxDelay)
	}

	fallback := FromRetryPolicy("bogus", 0, 0)
	if fallback.Kind != KindExponential {
		t.Fatalf("expected exponential fallback, got %q", fallback.Kind)
	}
	if fallback.BaseDelay != Default().BaseDelay || fallback.MaxDelay != Default().MaxDelay {
		t.Fatalf("expected default delays for unset document values")
	}
}
