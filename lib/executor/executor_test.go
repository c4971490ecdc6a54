// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package executor

import (
	"errors"
	"strings"
	"sync"
	"time"

	"git.brokermesh.org/brokermesh.git/sdk/go/ctxlog"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ExecutorSuite{})

type ExecutorSuite struct{}

// stubServer is a controllable Server implementation.
type stubServer struct {
	mtx        sync.Mutex
	startErr   error
	started    bool
	stops      int
	options    map[string]string
	exit       chan error
	panicStart bool
}

func newStubServer() *stubServer {
	return &stubServer{exit: make(chan error, 1)}
}

func (s *stubServer) Start(options map[string]string) error {
	if s.panicStart {
		panic("start blew up")
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	s.options = options
	return nil
}

func (s *stubServer) IsStarted() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.started
}

func (s *stubServer) WaitFor() error {
	return <-s.exit
}

func (s *stubServer) Stop() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.stops++
	if s.started {
		s.started = false
		s.exit <- nil
	}
}

func (s *stubServer) stopCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.stops
}

// stubDriver records status updates.
type stubDriver struct {
	statuses chan TaskStatus
	sendErr  error
}

func newStubDriver() *stubDriver {
	return &stubDriver{statuses: make(chan TaskStatus, 10)}
}

func (d *stubDriver) SendStatusUpdate(status TaskStatus) error {
	d.statuses <- status
	return d.sendErr
}

func (d *stubDriver) next(c *check.C) TaskStatus {
	select {
	case status := <-d.statuses:
		return status
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for status update")
		return TaskStatus{}
	}
}

func (s *ExecutorSuite) TestLaunchFinish(c *check.C) {
	server := newStubServer()
	driver := newStubDriver()
	e := New(ctxlog.TestLogger(c), server, nil)

	e.LaunchTask(driver, TaskInfo{ID: "broker-0-uuid", Data: []byte("a=1\nb=2")})

	status := driver.next(c)
	c.Check(status.State, check.Equals, TaskRunning)
	c.Check(status.TaskID, check.Equals, "broker-0-uuid")
	c.Check(server.IsStarted(), check.Equals, true)
	c.Check(server.options, check.DeepEquals, map[string]string{"a": "1", "b": "2"})
	c.Check(e.State(), check.Equals, StateRunning)

	server.exit <- nil
	status = driver.next(c)
	c.Check(status.State, check.Equals, TaskFinished)
	c.Check(status.TaskID, check.Equals, "broker-0-uuid")
	// cleanup stop runs even on the success path
	for deadline := time.Now().Add(time.Second); server.stopCount() == 0 && time.Now().Before(deadline); {
		time.Sleep(time.Millisecond)
	}
	c.Check(server.stopCount(), check.Equals, 1)
}

func (s *ExecutorSuite) TestLaunchStartError(c *check.C) {
	server := newStubServer()
	server.startErr = errors.New("no disk")
	driver := newStubDriver()
	e := New(ctxlog.TestLogger(c), server, nil)

	e.LaunchTask(driver, TaskInfo{ID: "broker-1-uuid"})
	status := driver.next(c)
	c.Check(status.State, check.Equals, TaskFailed)
	c.Check(status.TaskID, check.Equals, "broker-1-uuid")
	c.Check(strings.Contains(status.Message, "no disk"), check.Equals, true)
	c.Check(server.stopCount(), check.Equals, 1)
}

func (s *ExecutorSuite) TestLaunchStartPanic(c *check.C) {
	server := newStubServer()
	server.panicStart = true
	driver := newStubDriver()
	e := New(ctxlog.TestLogger(c), server, nil)

	e.LaunchTask(driver, TaskInfo{ID: "broker-1-uuid"})
	status := driver.next(c)
	c.Check(status.State, check.Equals, TaskFailed)
	c.Check(strings.Contains(status.Message, "start blew up"), check.Equals, true)
	// the captured stack trace rides along in the message
	c.Check(strings.Contains(status.Message, "goroutine"), check.Equals, true)
	c.Check(server.stopCount(), check.Equals, 1)
}

func (s *ExecutorSuite) TestRunError(c *check.C) {
	server := newStubServer()
	driver := newStubDriver()
	e := New(ctxlog.TestLogger(c), server, nil)

	e.LaunchTask(driver, TaskInfo{ID: "broker-2-uuid"})
	c.Check(driver.next(c).State, check.Equals, TaskRunning)

	server.exit <- errors.New("exit status 1")
	status := driver.next(c)
	c.Check(status.State, check.Equals, TaskFailed)
	c.Check(strings.Contains(status.Message, "exit status 1"), check.Equals, true)
}

func (s *ExecutorSuite) TestKillTask(c *check.C) {
	server := newStubServer()
	driver := newStubDriver()
	e := New(ctxlog.TestLogger(c), server, nil)

	e.LaunchTask(driver, TaskInfo{ID: "broker-3-uuid"})
	c.Check(driver.next(c).State, check.Equals, TaskRunning)

	e.KillTask(driver, "broker-3-uuid")
	status := driver.next(c)
	c.Check(status.State, check.Equals, TaskFinished)
	// kill plus deferred cleanup: Stop is idempotent and was
	// requested twice
	for deadline := time.Now().Add(time.Second); server.stopCount() < 2 && time.Now().Before(deadline); {
		time.Sleep(time.Millisecond)
	}
	c.Check(server.stopCount(), check.Equals, 2)
	c.Check(server.IsStarted(), check.Equals, false)
}

func (s *ExecutorSuite) TestRunningPrecedesTerminal(c *check.C) {
	server := newStubServer()
	driver := newStubDriver()
	e := New(ctxlog.TestLogger(c), server, nil)

	e.LaunchTask(driver, TaskInfo{ID: "broker-4-uuid"})
	first := driver.next(c)
	server.exit <- nil
	second := driver.next(c)
	c.Check(first.State, check.Equals, TaskRunning)
	c.Check(second.State, check.Equals, TaskFinished)
	c.Check(first.TaskID, check.Equals, second.TaskID)
}

func (s *ExecutorSuite) TestIDFromTaskID(c *check.C) {
	id, err := IDFromTaskID("broker-7-550e8400-e29b")
	c.Check(err, check.IsNil)
	c.Check(id, check.Equals, "7")

	id, err = IDFromTaskID("broker-12")
	c.Check(err, check.IsNil)
	c.Check(id, check.Equals, "12")

	_, err = IDFromTaskID("malformed")
	c.Check(err, check.NotNil)
	_, err = IDFromTaskID("")
	c.Check(err, check.NotNil)
}

func (s *ExecutorSuite) TestParseProperties(c *check.C) {
	props := ParseProperties([]byte("a=1\n\n# comment\nb = spaced \nflag\nc=x=y"))
	c.Check(props, check.DeepEquals, map[string]string{
		"a":    "1",
		"b":    "spaced",
		"flag": "",
		"c":    "x=y",
	})
	c.Check(ParseProperties(nil), check.DeepEquals, map[string]string{})
}
