// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package procserver runs the managed service as a child process and
// implements the executor's Server contract around it.
package procserver

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Server supervises one child process. Start writes the resolved
// option map to a properties file, appends its path to Args, and
// exports it as $SERVER_PROPERTIES. A Server is single-use: once the
// process has exited it cannot be restarted.
type Server struct {
	Command string
	Args    []string
	Dir     string
	Logger  logrus.FieldLogger

	mtx       sync.Mutex
	cmd       *exec.Cmd
	done      chan struct{}
	waitErr   error
	signalled bool
}

// Start begins the managed server with the given option map.
func (s *Server) Start(options map[string]string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.cmd != nil {
		return fmt.Errorf("server already started")
	}
	propfile, err := s.writeProperties(options)
	if err != nil {
		return err
	}
	cmd := exec.Command(s.Command, append(append([]string{}, s.Args...), propfile)...)
	cmd.Dir = s.Dir
	cmd.Env = append(os.Environ(), "SERVER_PROPERTIES="+propfile)
	cmd.Stdout = s.Logger.WithField("stream", "stdout").WriterLevel(logrus.InfoLevel)
	cmd.Stderr = s.Logger.WithField("stream", "stderr").WriterLevel(logrus.WarnLevel)
	if err := cmd.Start(); err != nil {
		os.Remove(propfile)
		return fmt.Errorf("error starting %q: %w", s.Command, err)
	}
	s.Logger.WithFields(logrus.Fields{
		"Command": s.Command,
		"PID":     cmd.Process.Pid,
	}).Info("server process started")
	s.cmd = cmd
	s.done = make(chan struct{})
	go func() {
		err := cmd.Wait()
		s.mtx.Lock()
		s.waitErr = err
		s.mtx.Unlock()
		close(s.done)
	}()
	return nil
}

// IsStarted reports whether the process has been started and has not
// yet exited.
func (s *Server) IsStarted() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// WaitFor blocks until the process exits and returns its exit error,
// if any. It returns an error if the process was never started.
func (s *Server) WaitFor() error {
	s.mtx.Lock()
	done := s.done
	s.mtx.Unlock()
	if done == nil {
		return fmt.Errorf("server not started")
	}
	<-done
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.waitErr
}

// Stop asks the process to terminate with SIGTERM. It is idempotent:
// the signal is sent at most once, and Stop is a no-op before Start
// or after exit. A Stop that arrives before Start does not use up the
// request; a later Stop still terminates the process.
func (s *Server) Stop() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.cmd == nil || s.cmd.Process == nil || s.signalled {
		return
	}
	select {
	case <-s.done:
		// already exited
	default:
		s.Logger.WithField("PID", s.cmd.Process.Pid).Info("sending TERM to server process")
		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.Logger.WithError(err).Warn("error signalling server process")
			return
		}
		s.signalled = true
	}
}

// writeProperties writes options as key=value lines, sorted by key,
// to a file in the server's working directory (or the default temp
// dir) and returns its path.
func (s *Server) writeProperties(options map[string]string) (string, error) {
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	buf := ""
	for _, key := range keys {
		buf += key + "=" + options[key] + "\n"
	}
	f, err := os.CreateTemp(s.Dir, "server-*.properties")
	if err != nil {
		return "", fmt.Errorf("error creating properties file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(buf); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("error writing properties file: %w", err)
	}
	return filepath.Abs(f.Name())
}
