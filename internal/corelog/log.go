// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package corelog

// This file adorns the logxi package with common fields (host, component)
// so that every subsystem in the core emits consistently shaped log lines.

import (
	"os"
	"sync"

	logxi "github.com/karlmutch/logxi/v1"
)

var (
	hostName string
)

func init() {
	hostName, _ = os.Hostname()
	logxi.DisableCallstack()
}

// Logger wraps a logxi.Logger with a fixed component label and host field.
type Logger struct {
	log       logxi.Logger
	component string
	sync.Mutex
}

// New returns a Logger tagged with the supplied component name, e.g.
// "cache", "environment", "ephemeral".
func New(component string) (l *Logger) {
	return &Logger{
		log:       logxi.New(component),
		component: component,
	}
}

func (l *Logger) withHost(args []interface{}) []interface{} {
	allArgs := append([]interface{}{}, args...)
	return append(allArgs, "host", hostName)
}

func (l *Logger) Trace(msg string, args ...interface{}) {
	l.Lock()
	defer l.Unlock()
	l.log.Trace(msg, l.withHost(args))
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.Lock()
	defer l.Unlock()
	l.log.Debug(msg, l.withHost(args))
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.Lock()
	defer l.Unlock()
	l.log.Info(msg, l.withHost(args))
}

func (l *Logger) Warn(msg string, args ...interface{}) error {
	l.Lock()
	defer l.Unlock()
	return l.log.Warn(msg, l.withHost(args))
}

func (l *Logger) Error(msg string, args ...interface{}) error {
	l.Lock()
	defer l.Unlock()
	return l.log.Error(msg, l.withHost(args))
}

// IsDebug reports whether debug-level messages will actually be emitted,
// letting callers skip building expensive arg lists when they will not.
func (l *Logger) IsDebug() bool {
	l.Lock()
	defer l.Unlock()
	return l.log.IsDebug()
}
