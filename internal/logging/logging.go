// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package logging provides the thin structured-logging wrapper used across
// the planner/walker/resolver packages. It mirrors the small vocabulary
// (Noticef/Warnf/Errorf) that the teacher's pkg/pillar/base.LogObject
// exposes to callers such as depGraph, built directly on logrus since the
// EVE-specific base package itself is not part of this module.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Logger is a per-component structured logger.
type Logger struct {
	entry *logrus.Entry
}

// New wraps a logrus.FieldLogger with a component field, in the style of
// base.NewSourceLogObject(logger, source, pid).
func New(base logrus.FieldLogger, component string) *Logger {
	return &Logger{entry: loggerEntry(base).WithField("component", component)}
}

func loggerEntry(base logrus.FieldLogger) *logrus.Entry {
	switch l := base.(type) {
	case *logrus.Logger:
		return logrus.NewEntry(l)
	case *logrus.Entry:
		return l
	default:
		return logrus.NewEntry(logrus.StandardLogger())
	}
}

// Noticef logs an informational message about a state change.
func (l *Logger) Noticef(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warnf logs a recoverable problem (e.g. a skipped dangling edge).
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Errorf logs a request-aborting problem.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Error logs an already-constructed error.
func (l *Logger) Error(err error) {
	l.entry.Error(err)
}

// With returns a child logger with an additional field, for scoping log
// lines to e.g. a single request ID.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}
