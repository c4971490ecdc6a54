// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/json"
	"fmt"
	"time"
)

// Failover tracks repeated start failures for one broker and derives
// a bounded exponential backoff from them. The delay after the k-th
// failure is min(Delay * 2^(k-1), MaxDelay); it is recomputed from
// the failure count rather than stored, so state reloaded from disk
// reproduces the same delay.
//
// Invariant: Failures == 0 exactly when FailureTime == nil.
type Failover struct {
	Delay       Period
	MaxDelay    Period
	MaxTries    *int // nil means unlimited
	Failures    int
	FailureTime *time.Time
}

// NewFailover returns a Failover with the given base delay and cap
// and no recorded failures.
func NewFailover(delay, maxDelay Period) *Failover {
	return &Failover{Delay: delay, MaxDelay: maxDelay}
}

// CurrentDelay returns the backoff delay implied by the current
// failure count: zero when idle, otherwise the base delay doubled per
// additional failure and capped at MaxDelay. Both branches compare as
// time.Duration so the cap is applied in like units.
func (f *Failover) CurrentDelay() time.Duration {
	if f.Failures == 0 {
		return 0
	}
	max := f.MaxDelay.Duration()
	shift := uint(f.Failures - 1)
	if shift > 30 {
		// 2^30 times any positive base delay is past any
		// sensible cap; avoid shifting into overflow.
		return max
	}
	d := f.Delay.Duration() << shift
	if d > max || d < 0 {
		d = max
	}
	return d
}

// DelayExpires returns the time at which the current backoff delay
// ends, or the zero time if no failure is recorded.
func (f *Failover) DelayExpires() time.Time {
	if f.Failures == 0 {
		return time.Time{}
	}
	return f.FailureTime.Add(f.CurrentDelay())
}

// IsWaitingDelay reports whether a failure is recorded and its
// backoff delay has not yet elapsed at the given time.
func (f *Failover) IsWaitingDelay(now time.Time) bool {
	return f.Failures > 0 && now.Before(f.DelayExpires())
}

// IsMaxTriesExceeded reports whether MaxTries is set and the failure
// count has reached it.
func (f *Failover) IsMaxTriesExceeded() bool {
	return f.MaxTries != nil && f.Failures >= *f.MaxTries
}

// RegisterFailure records one more failed start at the given time.
func (f *Failover) RegisterFailure(now time.Time) {
	f.Failures++
	t := now
	f.FailureTime = &t
}

// ResetFailures clears the failure count and timestamp, following a
// confirmed successful run.
func (f *Failover) ResetFailures() {
	f.Failures = 0
	f.FailureTime = nil
}

// Copy returns a deep copy.
func (f *Failover) Copy() *Failover {
	dup := *f
	if f.MaxTries != nil {
		n := *f.MaxTries
		dup.MaxTries = &n
	}
	if f.FailureTime != nil {
		t := *f.FailureTime
		dup.FailureTime = &t
	}
	return &dup
}

type failoverJSON struct {
	Delay       Period `json:"delay"`
	MaxDelay    Period `json:"maxDelay"`
	MaxTries    *int   `json:"maxTries,omitempty"`
	Failures    int    `json:"failures,omitempty"`
	FailureTime *int64 `json:"failureTime,omitempty"`
}

// MarshalJSON implements json.Marshaler. FailureTime is written as
// epoch milliseconds; failures and failureTime are omitted while no
// failure is recorded.
func (f Failover) MarshalJSON() ([]byte, error) {
	j := failoverJSON{
		Delay:    f.Delay,
		MaxDelay: f.MaxDelay,
		MaxTries: f.MaxTries,
		Failures: f.Failures,
	}
	if f.FailureTime != nil {
		ms := f.FailureTime.UnixMilli()
		j.FailureTime = &ms
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler. Missing required fields
// and failures/failureTime invariant violations are rejected.
func (f *Failover) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, field := range []string{"delay", "maxDelay"} {
		if _, ok := raw[field]; !ok {
			return fmt.Errorf("failover: missing required field %q", field)
		}
	}
	var j failoverJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	if (j.Failures == 0) != (j.FailureTime == nil) {
		return fmt.Errorf("failover: failures=%d inconsistent with failureTime", j.Failures)
	}
	*f = Failover{
		Delay:    j.Delay,
		MaxDelay: j.MaxDelay,
		MaxTries: j.MaxTries,
		Failures: j.Failures,
	}
	if j.FailureTime != nil {
		t := time.UnixMilli(*j.FailureTime).UTC()
		f.FailureTime = &t
	}
	return nil
}
