// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package ctxlog provides the project's logrus setup and a way to
// pass a logger through a context.Context.
package ctxlog

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	check "gopkg.in/check.v1"
)

var (
	loggerCtxKey = new(int)
	rootLogger   = New(os.Stderr, "text", "info")
)

const rfc3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"

// New returns a logger with the given output, format ("text" or
// "json"), and level.
func New(out io.Writer, format, level string) *logrus.Logger {
	logger := logrus.New()
	logger.Out = out
	setFormat(logger, format)
	setLevel(logger, level)
	return logger
}

// Context returns a new child context such that FromContext(child)
// returns the given logger.
func Context(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// FromContext returns the logger attached to the given context by
// Context, or the package-level default logger if none is attached.
func FromContext(ctx context.Context) logrus.FieldLogger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerCtxKey).(logrus.FieldLogger); ok {
			return logger
		}
	}
	return rootLogger
}

// TestLogger returns a logger whose output is attached to the given
// gocheck test state.
func TestLogger(c *check.C) *logrus.Logger {
	logger := logrus.New()
	logger.Out = &logWriter{c.Log}
	logger.Formatter = &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: rfc3339NanoFixed,
	}
	if os.Getenv("BROKERMESH_DEBUG") != "" {
		logger.Level = logrus.DebugLevel
	}
	return logger
}

func setLevel(logger *logrus.Logger, level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Fatal(err)
	}
	logger.Level = lvl
}

func setFormat(logger *logrus.Logger, format string) {
	switch format {
	case "text":
		logger.Formatter = &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: rfc3339NanoFixed,
		}
	case "json":
		logger.Formatter = &logrus.JSONFormatter{
			TimestampFormat: rfc3339NanoFixed,
		}
	default:
		logrus.WithField("LogFormat", format).Fatal("unknown log format")
	}
}

type logWriter struct {
	logfunc func(...interface{})
}

func (tl *logWriter) Write(buf []byte) (int, error) {
	tl.logfunc(string(buf))
	return len(buf), nil
}
