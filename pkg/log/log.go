// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is the shared diagnostics logger for the bandwidth controller
// and its sibling tools. It wraps the standard library logger rather than
// a structured backend: both cipp and bwmon are single-purpose daemons
// whose only consumer is a human watching a terminal or a log collector
// tailing stderr.
package log

import (
	stdlog "log"
	"os"
)

// Logger is the interface every package in this module logs through.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})
}

type logger struct {
	*stdlog.Logger
	prefix string
}

var log Logger = &logger{Logger: stdlog.New(os.Stderr, "", 0), prefix: ""}
var debugEnabled bool

// SetLogger installs l as the destination for all subsequent log output.
func SetLogger(l *stdlog.Logger, prefix string) {
	log = &logger{Logger: l, prefix: prefix}
}

// SetDebug enables or disables Debugf output.
func SetDebug(enabled bool) {
	debugEnabled = enabled
}

// Get returns the shared logger.
func Get() Logger {
	return log
}

func (l *logger) Debugf(format string, v ...interface{}) {
	if l.Logger != nil && debugEnabled {
		l.Logger.Printf("DEBUG: "+l.prefix+format, v...)
	}
}

func (l *logger) Infof(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf("INFO: "+l.prefix+format, v...)
	}
}

func (l *logger) Warnf(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf("WARN: "+l.prefix+format, v...)
	}
}

func (l *logger) Errorf(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf("ERROR: "+l.prefix+format, v...)
	}
}

func (l *logger) Fatalf(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Fatalf(l.prefix+format, v...)
	}
}
