// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/json"
	"fmt"
)

// Task is the runtime identity of one launched broker instance. It
// exists only while a launch is outstanding or running; it is
// replaced or cleared when the instance terminates or is superseded.
// Running is updated by the scheduler's reconciliation.
type Task struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// Copy returns a copy.
func (t *Task) Copy() *Task {
	dup := *t
	return &dup
}

// UnmarshalJSON implements json.Unmarshaler, rejecting records with
// missing fields.
func (t *Task) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, field := range []string{"id", "running", "host", "port"} {
		if _, ok := raw[field]; !ok {
			return fmt.Errorf("task: missing required field %q", field)
		}
	}
	type alias Task
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = Task(a)
	return nil
}
