// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package recover

import (
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// Type determines the behaviour of the PanicHandler.
type Type int

const (
	// LogAndFail causes the process to exit after the panic is logged.
	LogAndFail Type = iota
	// LogAndContinue logs the panic and lets the process continue.
	LogAndContinue
)

// PanicHandler captures a panic together with its stack trace and logs it.
// It captures panics from the goroutine it is deferred in.
func PanicHandler(recoverType Type) {
	r := recover()

	if r == nil {
		return
	}

	logEntry := log.WithField("stacktrace", string(debug.Stack()))

	if recoverType == LogAndFail {
		logEntry.Fatal(r)
	}
	logEntry.Error(r)
}

// FuncWithPanicHandler wraps a function meant to run on its own goroutine
// with a PanicHandler.
func FuncWithPanicHandler(recoverType Type, function func()) {
	defer PanicHandler(recoverType)

	function()
}
