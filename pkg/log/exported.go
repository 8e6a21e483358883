// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// logrus wrapper
type wrap struct {
	l *logrus.Logger
}

// usual singleton access used on the codebase
var w = wrap{
	l: logrus.StandardLogger(),
}

func init() {
	// All diagnostics go to stderr so stdout stays clean for piped consumers.
	w.l.SetOutput(os.Stderr)
}

// SetOutput sets the standard logger output.
func SetOutput(out io.Writer) {
	w.l.SetOutput(out)
}

// SetFormatter sets the standard logger formatter.
func SetFormatter(formatter logrus.Formatter) {
	w.l.SetFormatter(formatter)
}

// SetLevel sets the standard logger level.
func SetLevel(level logrus.Level) {
	w.l.SetLevel(level)
}

// GetLevel returns the standard logger level.
func GetLevel() logrus.Level {
	return w.l.GetLevel()
}

// IsLevelEnabled checks if the log level of the standard logger is greater than the level param
func IsLevelEnabled(level logrus.Level) bool {
	return w.l.IsLevelEnabled(level)
}

// ParseLevel maps the levels accepted by the configuration document
// (debug, info, warn, error) into logrus levels. Unknown values fall back
// to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Debug logs a message at level Debug on the standard logger.
func Debug(args ...interface{}) {
	w.l.Debug(args...)
}

// Info logs a message at level Info on the standard logger.
func Info(args ...interface{}) {
	w.l.Info(args...)
}

// Warn logs a message at level Warn on the standard logger.
func Warn(args ...interface{}) {
	w.l.Warn(args...)
}

// Error logs a message at level Error on the standard logger.
func Error(args ...interface{}) {
	w.l.Error(args...)
}

// Debugf logs a message at level Debug on the standard logger.
func Debugf(format string, args ...interface{}) {
	w.l.Debugf(format, args...)
}

// Infof logs a message at level Info on the standard logger.
func Infof(format string, args ...interface{}) {
	w.l.Infof(format, args...)
}

// Warnf logs a message at level Warn on the standard logger.
func Warnf(format string, args ...interface{}) {
	w.l.Warnf(format, args...)
}

// Errorf logs a message at level Error on the standard logger.
func Errorf(format string, args ...interface{}) {
	w.l.Errorf(format, args...)
}
