// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package broker provides the broker placement entity and its
// supporting value types: offer matching, failover backoff, task
// identity, and the JSON schema they persist as.
package broker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// An Offer is a resource-and-attribute advertisement from a cluster
// node, as presented by the external scheduler.
type Offer interface {
	Hostname() string
	// ScalarResource returns the value of the named scalar
	// resource, e.g. "cpus" or "mem", and whether the offer
	// carries it.
	ScalarResource(name string) (float64, bool)
	// Attribute returns the text value of the named attribute and
	// whether the offer carries it.
	Attribute(name string) (string, bool)
}

const stateTimeLayout = "2006-01-02 15:04:05 MST"

// Broker is the desired-state definition and runtime handle for one
// managed service instance.
//
// ID, Host, CPUs, Mem, Heap, Attributes and Options are configuration
// and do not change after load. Active and Task are written only by
// the scheduler, the failure fields only by the supervisor; all of
// them are read and written through the methods below, which
// serialize access with one mutex per Broker. Consumers needing a
// consistent multi-field view call Copy.
type Broker struct {
	ID         string
	Active     bool
	Host       string // wildcard constraint on offer hostname, "" = any
	CPUs       float64
	Mem        int64
	Heap       int64
	Attributes string // ";"-separated name:value wildcard constraints
	Options    string // ";"-separated key=value templates ($id, $host)
	Failover   *Failover
	Task       *Task

	mtx     sync.Mutex
	changed chan struct{} // closed and replaced on each mutation
}

// Matches reports whether this broker may be placed on the given
// offer: hostname satisfies the Host wildcard (if any), the offer's
// cpus and mem resources meet the broker's requirements, and every
// attribute constraint is satisfied by a matching offer attribute.
// No side effects; a missing resource or attribute means false.
func (b *Broker) Matches(offer Offer) bool {
	if b.Host != "" && !WildcardMatch(b.Host, offer.Hostname()) {
		return false
	}
	if cpus, ok := offer.ScalarResource("cpus"); !ok || cpus < b.CPUs {
		return false
	}
	if mem, ok := offer.ScalarResource("mem"); !ok || mem < float64(b.Mem) {
		return false
	}
	for name, pattern := range parsePairs(b.Attributes, ":") {
		value, ok := offer.Attribute(name)
		if !ok || !WildcardMatch(pattern, value) {
			return false
		}
	}
	return true
}

// ShouldStart reports whether the scheduler should launch this broker
// on the given offer: it is active, has no outstanding task, matches
// the offer, and is not waiting out a failover delay.
func (b *Broker) ShouldStart(offer Offer, now time.Time) bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.Active && b.Task == nil && !b.Failover.IsWaitingDelay(now) && b.Matches(offer)
}

// ShouldStop reports whether an outstanding task should be torn down.
func (b *Broker) ShouldStop() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return !b.Active
}

// State returns a human-readable status. Liveness takes precedence
// over backoff display, which takes precedence over a bare
// "starting".
func (b *Broker) State(now time.Time) string {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.Task != nil && b.Task.Running {
		return "running"
	}
	if b.Active {
		f := b.Failover
		if f.IsWaitingDelay(now) {
			return "failed " + f.triesString() +
				" " + f.FailureTime.Format(stateTimeLayout) +
				", next start " + f.DelayExpires().Format(stateTimeLayout)
		}
		if f.Failures > 0 {
			return "starting " + f.triesString() +
				", failed " + f.FailureTime.Format(stateTimeLayout)
		}
		return "starting"
	}
	if b.Task != nil {
		return "stopping"
	}
	return "stopped"
}

func (f *Failover) triesString() string {
	s := strconv.Itoa(f.Failures)
	if f.MaxTries != nil {
		s += "/" + strconv.Itoa(*f.MaxTries)
	}
	return s
}

// WaitFor blocks until the task's liveness equals running, or the
// timeout elapses, and reports whether the desired state was reached.
// Waiters are woken by the broker's mutators, so this is a short
// synchronous confirmation, not a poll loop.
func (b *Broker) WaitFor(running bool, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		b.mtx.Lock()
		if b.taskRunningLocked() == running {
			b.mtx.Unlock()
			return true
		}
		wake := b.changedLocked()
		b.mtx.Unlock()
		select {
		case <-wake:
		case <-deadline.C:
			b.mtx.Lock()
			defer b.mtx.Unlock()
			return b.taskRunningLocked() == running
		}
	}
}

func (b *Broker) taskRunningLocked() bool {
	return b.Task != nil && b.Task.Running
}

// caller must have lock.
func (b *Broker) changedLocked() <-chan struct{} {
	if b.changed == nil {
		b.changed = make(chan struct{})
	}
	return b.changed
}

// caller must have lock.
func (b *Broker) notifyLocked() {
	if b.changed != nil {
		close(b.changed)
		b.changed = nil
	}
}

// SetActive records the desired-state flag. Scheduler only.
func (b *Broker) SetActive(active bool) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.Active = active
	b.notifyLocked()
}

// SetTask assigns (or, with nil, clears) the broker's task. Scheduler
// only.
func (b *Broker) SetTask(task *Task) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.Task = task
	b.notifyLocked()
}

// SetTaskRunning updates the outstanding task's liveness flag, as
// observed by reconciliation. No-op if no task is outstanding.
func (b *Broker) SetTaskRunning(running bool) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.Task != nil {
		b.Task.Running = running
		b.notifyLocked()
	}
}

// RegisterFailure records an abnormal termination of a launched
// instance. Supervisor only.
func (b *Broker) RegisterFailure(now time.Time) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.Failover.RegisterFailure(now)
	b.notifyLocked()
}

// ResetFailures clears failover state after a confirmed successful
// run. Supervisor only.
func (b *Broker) ResetFailures() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.Failover.ResetFailures()
	b.notifyLocked()
}

// Copy returns a deep copy suitable for handing to another goroutine
// as a consistent snapshot.
func (b *Broker) Copy() *Broker {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	dup := &Broker{
		ID:         b.ID,
		Active:     b.Active,
		Host:       b.Host,
		CPUs:       b.CPUs,
		Mem:        b.Mem,
		Heap:       b.Heap,
		Attributes: b.Attributes,
		Options:    b.Options,
	}
	if b.Failover != nil {
		dup.Failover = b.Failover.Copy()
	}
	if b.Task != nil {
		dup.Task = b.Task.Copy()
	}
	return dup
}

// ResolveOptions parses the broker's option templates and substitutes
// the $id and $host variables, returning the resolved map handed to a
// launched instance.
func (b *Broker) ResolveOptions(host string) map[string]string {
	resolved := map[string]string{}
	for key, value := range parsePairs(b.Options, "=") {
		value = strings.ReplaceAll(value, "$id", b.ID)
		value = strings.ReplaceAll(value, "$host", host)
		resolved[key] = value
	}
	return resolved
}

// parsePairs splits ";"-separated sep-delimited pairs. An entry
// without the separator becomes a key with an empty value; empty
// entries are skipped.
func parsePairs(s, sep string) map[string]string {
	pairs := map[string]string{}
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, sep, 2)
		if len(kv) == 2 {
			pairs[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		} else {
			pairs[kv[0]] = ""
		}
	}
	return pairs
}

type brokerJSON struct {
	ID         string    `json:"id"`
	Active     bool      `json:"active"`
	Host       string    `json:"host,omitempty"`
	CPUs       float64   `json:"cpus"`
	Mem        int64     `json:"mem"`
	Heap       int64     `json:"heap"`
	Attributes string    `json:"attributes,omitempty"`
	Options    string    `json:"options,omitempty"`
	Failover   *Failover `json:"failover"`
	Task       *Task     `json:"task,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (b *Broker) MarshalJSON() ([]byte, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return json.Marshal(brokerJSON{
		ID:         b.ID,
		Active:     b.Active,
		Host:       b.Host,
		CPUs:       b.CPUs,
		Mem:        b.Mem,
		Heap:       b.Heap,
		Attributes: b.Attributes,
		Options:    b.Options,
		Failover:   b.Failover,
		Task:       b.Task,
	})
}

// UnmarshalJSON implements json.Unmarshaler, rejecting records with
// missing required fields.
func (b *Broker) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, field := range []string{"id", "active", "cpus", "mem", "heap", "failover"} {
		if _, ok := raw[field]; !ok {
			return fmt.Errorf("broker: missing required field %q", field)
		}
	}
	var j brokerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*b = Broker{
		ID:         j.ID,
		Active:     j.Active,
		Host:       j.Host,
		CPUs:       j.CPUs,
		Mem:        j.Mem,
		Heap:       j.Heap,
		Attributes: j.Attributes,
		Options:    j.Options,
		Failover:   j.Failover,
		Task:       j.Task,
	}
	return nil
}
