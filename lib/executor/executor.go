// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package executor implements the node-local agent that receives
// lifecycle callbacks from a remote driver, starts and stops the
// managed server, and translates its outcome into status reports.
package executor

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// State indicates where the adapter's singleton process instance is
// in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateLaunching
	StateRunning
	StateFinished
	StateFailed
)

var stateString = map[State]string{
	StateIdle:      "idle",
	StateLaunching: "launching",
	StateRunning:   "running",
	StateFinished:  "finished",
	StateFailed:    "failed",
}

// String implements fmt.Stringer.
func (s State) String() string {
	return stateString[s]
}

// MarshalText implements encoding.TextMarshaler so a JSON encoding of
// map[State]anything uses the state's string representation.
func (s State) MarshalText() ([]byte, error) {
	return []byte(stateString[s]), nil
}

// TaskState is a task status report's state tag.
type TaskState string

const (
	TaskRunning  TaskState = "RUNNING"
	TaskFinished TaskState = "FINISHED"
	TaskFailed   TaskState = "FAILED"
)

// TaskStatus is one status report sent to the driver. Message carries
// error detail for FAILED reports.
type TaskStatus struct {
	TaskID  string    `json:"task_id"`
	State   TaskState `json:"state"`
	Message string    `json:"message,omitempty"`
}

// TaskInfo describes a task to launch. Data is an opaque payload of
// key=value properties resolved by the scheduler.
type TaskInfo struct {
	ID   string `json:"id"`
	Data []byte `json:"data,omitempty"`
}

// Driver is the narrow surface of the remote driver the adapter
// reports through.
type Driver interface {
	SendStatusUpdate(status TaskStatus) error
}

// Server is the managed server collaborator. Stop must be idempotent:
// the adapter requests it both from kill/shutdown callbacks and as
// the launch path's cleanup step.
type Server interface {
	Start(options map[string]string) error
	IsStarted() bool
	// WaitFor blocks until the server exits, returning any
	// abnormal-termination error.
	WaitFor() error
	Stop()
}

// Handler is the callback surface invoked by a remote driver.
type Handler interface {
	Registered(driver Driver, slaveHostname string)
	Reregistered(driver Driver, slaveHostname string)
	Disconnected()
	LaunchTask(driver Driver, task TaskInfo)
	KillTask(driver Driver, taskID string)
	FrameworkMessage(driver Driver, data []byte)
	Shutdown(driver Driver)
	Error(driver Driver, message string)
}

// Executor runs at most one managed server instance at a time; the
// driver's contract (one task per executor instance) prevents a
// second LaunchTask while one is active. The launch path runs on its
// own goroutine so the driver's callback path is never blocked.
type Executor struct {
	Logger logrus.FieldLogger
	Server Server

	mtx    sync.Mutex
	state  State

	mLaunches prometheus.Counter
	mFinishes prometheus.Counter
	mFailures prometheus.Counter
	mRunning  prometheus.Gauge
}

// New returns an Executor supervising the given server, with metrics
// registered on reg (a private registry is used if reg is nil).
func New(logger logrus.FieldLogger, server Server, reg *prometheus.Registry) *Executor {
	e := &Executor{
		Logger: logger,
		Server: server,
		state:  StateIdle,
	}
	e.registerMetrics(reg)
	return e
}

func (e *Executor) registerMetrics(reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	e.mLaunches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "brokermesh",
		Subsystem: "executor",
		Name:      "tasks_launched_total",
		Help:      "Number of tasks this executor has launched.",
	})
	reg.MustRegister(e.mLaunches)
	e.mFinishes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "brokermesh",
		Subsystem: "executor",
		Name:      "tasks_finished_total",
		Help:      "Number of tasks that ended with a FINISHED status.",
	})
	reg.MustRegister(e.mFinishes)
	e.mFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "brokermesh",
		Subsystem: "executor",
		Name:      "tasks_failed_total",
		Help:      "Number of tasks that ended with a FAILED status.",
	})
	reg.MustRegister(e.mFailures)
	e.mRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "brokermesh",
		Subsystem: "executor",
		Name:      "server_running",
		Help:      "1 while the managed server is running, else 0.",
	})
	reg.MustRegister(e.mRunning)
}

// State returns the adapter's current lifecycle state.
func (e *Executor) State() State {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.state
}

// Registered is called when the executor registers with an agent.
func (e *Executor) Registered(driver Driver, slaveHostname string) {
	e.Logger.WithField("Hostname", slaveHostname).Info("executor registered")
}

// Reregistered is called when the executor reregisters after an agent
// restart.
func (e *Executor) Reregistered(driver Driver, slaveHostname string) {
	e.Logger.WithField("Hostname", slaveHostname).Info("executor reregistered")
}

// Disconnected is called when the executor loses its agent
// connection.
func (e *Executor) Disconnected() {
	e.Logger.Info("executor disconnected")
}

// LaunchTask parses the task's payload into an option map and starts
// the managed server on a new goroutine: report RUNNING after the
// start call returns, block until the server exits, then report the
// terminal outcome. The server is stopped exactly once on every exit
// path, including start errors and panics.
func (e *Executor) LaunchTask(driver Driver, task TaskInfo) {
	logger := e.Logger.WithField("TaskID", task.ID)
	if id, err := IDFromTaskID(task.ID); err == nil {
		logger = logger.WithField("BrokerID", id)
	}
	logger.Info("launching task")

	e.mtx.Lock()
	if e.state == StateLaunching || e.state == StateRunning {
		// The driver's one-task-per-executor contract is
		// broken; nothing sane to do but log it.
		logger.WithField("State", e.state).Error("launch callback while a task is active")
	}
	e.state = StateLaunching
	e.mtx.Unlock()
	e.mLaunches.Inc()

	options := ParseProperties(task.Data)
	go e.runTask(driver, task.ID, options, logger)
}

func (e *Executor) runTask(driver Driver, taskID string, options map[string]string, logger logrus.FieldLogger) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
			}
		}()
		defer e.Server.Stop()
		if err := e.Server.Start(options); err != nil {
			return fmt.Errorf("error starting server: %w", err)
		}
		e.setState(StateRunning)
		e.mRunning.Set(1)
		e.sendStatus(driver, TaskStatus{TaskID: taskID, State: TaskRunning})
		return e.Server.WaitFor()
	}()
	e.mRunning.Set(0)
	if err != nil {
		logger.WithError(err).Error("task failed")
		e.mFailures.Inc()
		e.setState(StateFailed)
		e.sendStatus(driver, TaskStatus{TaskID: taskID, State: TaskFailed, Message: err.Error()})
	} else {
		logger.Info("task finished")
		e.mFinishes.Inc()
		e.setState(StateFinished)
		e.sendStatus(driver, TaskStatus{TaskID: taskID, State: TaskFinished})
	}
	e.setState(StateIdle)
}

// KillTask requests cooperative shutdown of the managed server. The
// terminal status is reported by the launch goroutine once the server
// actually exits.
func (e *Executor) KillTask(driver Driver, taskID string) {
	e.Logger.WithField("TaskID", taskID).Info("kill requested, stopping server")
	e.Server.Stop()
}

// FrameworkMessage is called with a message relayed from the
// framework scheduler.
func (e *Executor) FrameworkMessage(driver Driver, data []byte) {
	e.Logger.WithField("Message", string(data)).Info("framework message")
}

// Shutdown requests cooperative shutdown of the managed server.
func (e *Executor) Shutdown(driver Driver) {
	e.Logger.Info("shutdown requested, stopping server")
	e.Server.Stop()
}

// Error is called when the driver reports an unrecoverable error.
func (e *Executor) Error(driver Driver, message string) {
	e.Logger.WithField("Error", message).Error("driver error")
}

func (e *Executor) setState(state State) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.state = state
}

func (e *Executor) sendStatus(driver Driver, status TaskStatus) {
	if err := driver.SendStatusUpdate(status); err != nil {
		e.Logger.WithFields(logrus.Fields{
			"TaskID": status.TaskID,
			"State":  status.State,
		}).WithError(err).Error("error sending status update")
	}
}
