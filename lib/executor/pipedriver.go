// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// A PipeDriver connects a Handler to a remote agent over a pair of
// byte streams: JSON-encoded events arrive on In (one object per
// line) and status updates are written to Out the same way. It is the
// transport the node agent binary speaks on stdin/stdout.
type PipeDriver struct {
	In      io.Reader
	Out     io.Writer
	Handler Handler
	Logger  logrus.FieldLogger

	mtx sync.Mutex // guards Out
}

type driverEvent struct {
	Event    string    `json:"event"`
	Hostname string    `json:"hostname,omitempty"`
	Task     *TaskInfo `json:"task,omitempty"`
	TaskID   string    `json:"task_id,omitempty"`
	Data     []byte    `json:"data,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// SendStatusUpdate implements Driver.
func (d *PipeDriver) SendStatusUpdate(status TaskStatus) error {
	buf, err := json.Marshal(status)
	if err != nil {
		return err
	}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	_, err = d.Out.Write(append(buf, '\n'))
	return err
}

// Run decodes events from In and dispatches them to the Handler
// until EOF, a shutdown event, a decode error, or context
// cancellation. Cancellation is only checked between events: a read
// blocked on In is not interrupted, so a caller that needs a prompt
// stop must also close In.
func (d *PipeDriver) Run(ctx context.Context) error {
	dec := json.NewDecoder(d.In)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ev driverEvent
		err := dec.Decode(&ev)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("error decoding driver event: %w", err)
		}
		switch ev.Event {
		case "registered":
			d.Handler.Registered(d, ev.Hostname)
		case "reregistered":
			d.Handler.Reregistered(d, ev.Hostname)
		case "disconnected":
			d.Handler.Disconnected()
		case "launch":
			if ev.Task == nil {
				return fmt.Errorf("launch event without task")
			}
			d.Handler.LaunchTask(d, *ev.Task)
		case "kill":
			d.Handler.KillTask(d, ev.TaskID)
		case "message":
			d.Handler.FrameworkMessage(d, ev.Data)
		case "shutdown":
			d.Handler.Shutdown(d)
			return nil
		case "error":
			d.Handler.Error(d, ev.Message)
		default:
			d.Logger.WithField("Event", ev.Event).Warn("ignoring unknown driver event")
		}
	}
}
