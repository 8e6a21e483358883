// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package backoff provides the capped exponential-backoff implementation used
// by every retry loop in the relay agent.
// https://github.com/jpillora/backoff inlined for customizations.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff is a time.Duration counter. The delay for an attempt grows as
// min(Min × Factor^attempt, Max) plus, when Jitter is enabled, a uniform
// random addition of at most 25% of the capped value.
//
// Backoff is not generally concurrent-safe, but the ForAttempt method can
// be used concurrently.
type Backoff struct {
	//Factor is the multiplying factor for each increment step
	attempt, Factor float64
	//Jitter eases contention by randomizing backoff steps
	Jitter bool
	//Min and Max are the minimum and maximum values of the counter
	Min, Max time.Duration
}

// Default values
const (
	DefaultFactor = 2
	DefaultJitter = true
	DefaultMin    = 1 * time.Second
	DefaultMax    = 30 * time.Second

	// jitterShare is the fraction of the capped delay the jitter may add.
	jitterShare = 0.25
)

// NewDefaultBackoff returns the backoff shape shared by the cloud-facing
// retry loops.
func NewDefaultBackoff() *Backoff {
	return &Backoff{
		Factor: DefaultFactor,
		Jitter: DefaultJitter,
		Min:    DefaultMin,
		Max:    DefaultMax,
	}
}

// New returns a jittered backoff bounded by the given range.
func New(min, max time.Duration) *Backoff {
	return &Backoff{
		Factor: DefaultFactor,
		Jitter: DefaultJitter,
		Min:    min,
		Max:    max,
	}
}

// Duration returns the duration for the current attempt and increments the
// attempt counter.
func (b *Backoff) Duration() time.Duration {
	d := b.ForAttempt(b.attempt)
	b.attempt++
	return d
}

const maxInt64 = float64(math.MaxInt64 - 512)

// ForAttempt returns the duration for a specific attempt. The first attempt
// is 0.
//
// ForAttempt is concurrent-safe.
func (b *Backoff) ForAttempt(attempt float64) time.Duration {
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 10 * time.Second
	}
	if min > max {
		min = max
	}
	factor := b.Factor
	if factor <= 0 {
		factor = DefaultFactor
	}

	minf := float64(min)
	maxf := float64(max)

	base := minf * math.Pow(factor, attempt)
	if base > maxf || base > maxInt64 || math.IsInf(base, 1) {
		base = maxf
	}

	durf := base
	if b.Jitter {
		durf += rand.Float64() * jitterShare * base
	}
	if durf > maxInt64 {
		durf = maxInt64
	}

	return time.Duration(durf)
}

// Reset restarts the current attempt counter at zero.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the current attempt counter value.
func (b *Backoff) Attempt() float64 {
	return b.attempt
}

// Copy returns a backoff with equal constraints as the original.
func (b *Backoff) Copy() *Backoff {
	return &Backoff{
		Factor: b.Factor,
		Jitter: b.Jitter,
		Min:    b.Min,
		Max:    b.Max,
	}
}

// Sleep waits for d or until ctx is cancelled, whichever happens first. It
// returns the context error when the wait was aborted, so callers can tell
// a completed pause from a cancelled one.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
