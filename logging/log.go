// Copyright (C) 2019-2024 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

// Package logging wraps logrus with the fields every node log line carries:
// the source file, line and function of the call site.
//
// Log through the base logger:
//
//	logging.Base().Info("listening")
//
// or through a logger of your own:
//
//	log := logging.NewLogger()
//	log.With("peer", id).Info("connected")
package logging

import (
	"io"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// Level refers to the log logging level
type Level uint32

const (
	// Panic logs and then panics.
	Panic Level = iota
	// Fatal logs and then calls os.Exit(1), whatever the level.
	Fatal
	// Error is for failures that need attention. Error and above also log the stack.
	Error
	// Warn is for non-critical entries that deserve eyes.
	Warn
	// Info is for general operational entries.
	Info
	// Debug is very verbose.
	Debug
)

const stackPrefix = "[Stack]"

var (
	baseLogger Logger
	once       sync.Once
)

// Init sets up the base logger: stderr, warnings and above.
func Init() {
	once.Do(func() {
		baseLogger = NewLogger()
		baseLogger.SetLevel(Warn)
	})
}

func init() {
	Init()
}

// Fields maps logrus fields
type Fields = logrus.Fields

// Logger is the interface for loggers.
type Logger interface {
	Debug(...any)
	Debugln(...any)
	Debugf(string, ...any)

	Info(...any)
	Infoln(...any)
	Infof(string, ...any)

	Warn(...any)
	Warnln(...any)
	Warnf(string, ...any)

	Error(...any)
	Errorln(...any)
	Errorf(string, ...any)

	Fatal(...any)
	Fatalln(...any)
	Fatalf(string, ...any)

	Panic(...any)
	Panicln(...any)
	Panicf(string, ...any)

	// With adds one key-value to every entry
	With(key string, value any) Logger
	// WithFields adds fields to every entry
	WithFields(Fields) Logger

	SetLevel(Level)
	GetLevel() Level
	IsLevelEnabled(level Level) bool

	SetOutput(io.Writer)
	SetJSONFormatter()

	AddHook(hook logrus.Hook)

	// Entry returns the underlying logrus entry
	Entry() *logrus.Entry

	source() *logrus.Entry
}

type logger struct {
	entry *logrus.Entry
}

// callerDepth is the stack depth of the logging call site seen from sourceAt
// when reached through a Logger method.
const callerDepth = 3

func (l logger) sourceAt(skip int) *logrus.Entry {
	event := l.entry
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return event
	}
	event = event.WithFields(logrus.Fields{
		"file": file[strings.LastIndex(file, "/")+1:],
		"line": line,
	})
	if function := runtime.FuncForPC(pc); function != nil {
		event = event.WithField("function", function.Name())
	}
	return event
}

func (l logger) source() *logrus.Entry {
	return l.sourceAt(callerDepth)
}

// stacked is source with the current goroutine stack logged first.
func (l logger) stacked() *logrus.Entry {
	event := l.sourceAt(callerDepth)
	event.Errorln(stackPrefix, string(debug.Stack()))
	return event
}

func (l logger) With(key string, value any) Logger {
	return logger{l.entry.WithField(key, value)}
}

func (l logger) WithFields(fields Fields) Logger {
	return logger{l.source().WithFields(fields)}
}

func (l logger) Debug(args ...any)                 { l.source().Debug(args...) }
func (l logger) Debugln(args ...any)               { l.source().Debugln(args...) }
func (l logger) Debugf(format string, args ...any) { l.source().Debugf(format, args...) }

func (l logger) Info(args ...any)                 { l.source().Info(args...) }
func (l logger) Infoln(args ...any)               { l.source().Infoln(args...) }
func (l logger) Infof(format string, args ...any) { l.source().Infof(format, args...) }

func (l logger) Warn(args ...any)                 { l.source().Warn(args...) }
func (l logger) Warnln(args ...any)               { l.source().Warnln(args...) }
func (l logger) Warnf(format string, args ...any) { l.source().Warnf(format, args...) }

func (l logger) Error(args ...any)                 { l.stacked().Error(args...) }
func (l logger) Errorln(args ...any)               { l.stacked().Errorln(args...) }
func (l logger) Errorf(format string, args ...any) { l.stacked().Errorf(format, args...) }

func (l logger) Fatal(args ...any)                 { l.stacked().Fatal(args...) }
func (l logger) Fatalln(args ...any)               { l.stacked().Fatalln(args...) }
func (l logger) Fatalf(format string, args ...any) { l.stacked().Fatalf(format, args...) }

func (l logger) Panic(args ...any)                 { l.stacked().Panic(args...) }
func (l logger) Panicln(args ...any)               { l.stacked().Panicln(args...) }
func (l logger) Panicf(format string, args ...any) { l.stacked().Panicf(format, args...) }

func (l logger) SetLevel(lvl Level) {
	l.entry.Logger.SetLevel(logrus.Level(lvl))
}

func (l logger) GetLevel() Level {
	return Level(l.entry.Logger.GetLevel())
}

func (l logger) IsLevelEnabled(level Level) bool {
	return l.entry.Logger.IsLevelEnabled(logrus.Level(level))
}

func (l logger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

func (l logger) SetJSONFormatter() {
	l.entry.Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000000Z07:00"})
}

func (l logger) AddHook(hook logrus.Hook) {
	l.entry.Logger.AddHook(hook)
}

func (l logger) Entry() *logrus.Entry {
	return l.entry
}

// Base returns the process wide logger.
func Base() Logger {
	return baseLogger
}

// NewLogger returns an Info level logger writing text to stderr.
func NewLogger() Logger {
	l := logrus.New()
	if tf, ok := l.Formatter.(*logrus.TextFormatter); ok {
		tf.TimestampFormat = "2006-01-02T15:04:05.000000 -0700"
	}
	return logger{logrus.NewEntry(l)}
}

// RegisterExitHandler registers a function run before a Fatal log exits the process.
func RegisterExitHandler(handler func()) {
	logrus.RegisterExitHandler(handler)
}

type testLoggerWriter struct {
	t testing.TB
}

func (w testLoggerWriter) Write(p []byte) (n int, err error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// TestingLog returns a Logger at Debug level writing through t.Log.
func TestingLog(t testing.TB) Logger {
	l := NewLogger()
	l.SetLevel(Debug)
	l.SetOutput(testLoggerWriter{t})
	return l
}

// TestingLogWithoutFatalExit is TestingLog with Fatal not terminating the process.
// Registered exit handlers still run.
func TestingLogWithoutFatalExit(t testing.TB) Logger {
	l := TestingLog(t).(logger)
	l.entry.Logger.ExitFunc = func(int) {}
	return l
}
