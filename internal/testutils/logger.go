// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package testutils holds helpers shared by the tests of several packages.
package testutils

import (
	"fmt"
	"sync"
	"testing"
)

// Logger is a base.Logger that writes to a testing.TB. Messages logged at
// error level are also recorded so that tests can assert on them.
type Logger struct {
	T testing.TB

	mu     sync.Mutex
	errors []string
}

// NewLogger returns a logger writing to t.
func NewLogger(t testing.TB) *Logger {
	return &Logger{T: t}
}

// Infof implements base.Logger.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.T.Logf(format, args...)
}

// Errorf implements base.Logger.
func (l *Logger) Errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
	l.T.Log(msg)
}

// Fatalf implements base.Logger. It fails the test without stopping the
// calling goroutine, which may not be the test's.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.T.Errorf(format, args...)
}

// Errors returns the messages logged at error level.
func (l *Logger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}
