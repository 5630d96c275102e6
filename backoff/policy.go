// Package backoff computes retry delays for step and delivery attempts.
package backoff

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

type Kind string

const (
	KindExponential Kind = "exponential"
	KindFixed       Kind = "fixed"
)

// DefaultJitterFraction spreads retries from workflows scheduled at the same
// instant so they do not all fire together.
const DefaultJitterFraction = 0.1

type Policy struct {
	Kind      Kind
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter is the +/- fraction applied on top of the computed delay.
	// Zero means DefaultJitterFraction; negative disables jitter.
	Jitter float64
	// Rand allows deterministic jitter in tests; nil uses the global source.
	Rand *rand.Rand
}

func Default() Policy {
	return Policy{
		Kind:      KindExponential,
		BaseDelay: 5 * time.Second,
		MaxDelay:  5 * time.Minute,
	}
}

func (p Policy) Validate() error {
	switch p.Kind {
	case KindExponential, KindFixed:
	default:
		return fmt.Errorf("backoff: unknown kind %q", p.Kind)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("backoff: base delay must be positive")
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("backoff: max delay is below base delay")
	}
	return nil
}

// Delay returns the wait before attempt n (1-indexed) including jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = Default().BaseDelay
	}
	maximum := p.MaxDelay
	if maximum <= 0 {
		maximum = Default().MaxDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	if p.Kind != KindFixed {
		multiplier := math.Pow(2, float64(attempt-1))
		delay = time.Duration(float64(base) * multiplier)
		if delay < 0 {
			delay = maximum
		}
	}
	if delay > maximum {
		delay = maximum
	}
	return p.applyJitter(delay)
}

func (p Policy) applyJitter(delay time.Duration) time.Duration {
	fraction := p.Jitter
	if fraction == 0 {
		fraction = DefaultJitterFraction
	}
	if fraction < 0 || delay <= 0 {
		return delay
	}
	span := float64(delay) * fraction
	offset := p.random()*2*span - span
	jittered := time.Duration(float64(delay) + offset)
	if jittered <= 0 {
		return delay
	}
	return jittered
}

func (p Policy) random() float64 {
	if p.Rand != nil {
		return p.Rand.Float64()
	}
	return rand.Float64()
}

// FromRetryPolicy builds a policy from a webhook's stored retry document.
func FromRetryPolicy(kind string, baseDelay time.Duration, maxDelay time.Duration) Policy {
	policy := Default()
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindFixed:
		policy.Kind = KindFixed
	case KindExponential:
		policy.Kind = KindExponential
	}
	if baseDelay > 0 {
		policy.BaseDelay = baseDelay
	}
	if maxDelay > 0 {
		policy.MaxDelay = maxDelay
	}
	return policy
}
