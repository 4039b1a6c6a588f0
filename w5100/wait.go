// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package w5100

import "time"

// WaitPolicy describes how a register polling loop waits for a condition.
type WaitPolicy struct {
	// Interval is the pause between two unsuccessful polls.
	Interval time.Duration
	// Retries bounds the number of unsuccessful polls. Zero polls forever.
	Retries int
}

var (
	// Unbounded busy-waits until the condition holds.
	Unbounded = WaitPolicy{}

	// SendWindow waits about five seconds for transmit buffer space.
	SendWindow = WaitPolicy{Interval: time.Millisecond, Retries: 5000}
)

// Bounded reports whether the policy can give up.
func (w WaitPolicy) Bounded() bool {
	return w.Retries > 0
}

// poll evaluates cond until it holds or the retry budget is spent.
// It reports whether cond held.
func (w WaitPolicy) poll(cond func() bool) bool {
	for n := 0; !cond(); n++ {
		if w.Bounded() && n >= w.Retries {
			return false
		}
		if w.Interval > 0 {
			time.Sleep(w.Interval)
		}
	}
	return true
}
