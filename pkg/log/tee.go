// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"io"
	"os"
)

// stderrTeeLogger copies every log line to stderr in addition to a file sink,
// so the diagnostic stream stays observable when a file sink is configured.
// Data output (stdout) is never written to.
type stderrTeeLogger struct {
	writer io.Writer
	stderr bool
}

// NewStderrTeeLogger returns an io.Writer that mirrors writes to stderr when
// mirror is true.
func NewStderrTeeLogger(writer io.Writer, mirror bool) io.Writer {
	return &stderrTeeLogger{
		writer: writer,
		stderr: mirror,
	}
}

func (s *stderrTeeLogger) Write(b []byte) (n int, err error) {
	if s.stderr {
		_, _ = os.Stderr.Write(b)
	}
	return s.writer.Write(b)
}
