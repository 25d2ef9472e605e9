// Copyright 2024 The Authors.
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

// Package rlog is the package-level logging facade used throughout this
// repository, the way the teacher's runsc/cli calls into its own pkg/log:
// a small set of global Debugf/Infof/Warningf/Errorf functions backed by a
// swappable target, here a *logrus.Logger instead of a bespoke emitter.
package rlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var target = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetTarget replaces the logger every package-level call writes through.
func SetTarget(l *logrus.Logger) { target = l }

// SetOutput redirects the default logger's output, e.g. to /dev/null once
// the supervisor has daemonized and closed its inherited stderr.
func SetOutput(w io.Writer) { target.SetOutput(w) }

// SetDebug toggles debug-level verbosity on the default logger.
func SetDebug(debug bool) {
	if debug {
		target.SetLevel(logrus.DebugLevel)
	} else {
		target.SetLevel(logrus.InfoLevel)
	}
}

func Debugf(format string, args ...any)   { target.Debugf(format, args...) }
func Infof(format string, args ...any)    { target.Infof(format, args...) }
func Warningf(format string, args ...any) { target.Warningf(format, args...) }
func Errorf(format string, args ...any)   { target.Errorf(format, args...) }

// WithField returns an entry pre-populated with one field, for call sites
// that log several related lines (e.g. per supervised tree).
func WithField(key string, value any) *logrus.Entry {
	return target.WithField(key, value)
}
