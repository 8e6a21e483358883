// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryLevelGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(logrus.WarnLevel)
	defer SetLevel(logrus.InfoLevel)

	l := WithComponent("Test")
	l.Debug("not rendered")
	l.Info("not rendered either")
	l.Warn("rendered")

	out := buf.String()
	assert.NotContains(t, out, "not rendered")
	assert.Contains(t, out, "rendered")
}

func TestEntryComposition(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(logrus.InfoLevel)

	WithComponent("Outbound").
		WithField("messageId", "out-1").
		WithChannel("signal").
		Info("delivered")

	out := buf.String()
	assert.Contains(t, out, "component=Outbound")
	assert.Contains(t, out, "messageId=out-1")
	assert.Contains(t, out, "channel=signal")
	assert.Contains(t, out, "delivered")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"ERROR", logrus.ErrorLevel},
		{" Info ", logrus.InfoLevel},
		{"bogus", logrus.InfoLevel},
		{"", logrus.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "level %q", tt.in)
	}
}

func TestMemLoggerReplaysBuffer(t *testing.T) {
	var first bytes.Buffer
	mem := NewMemLogger(&first)

	_, err := mem.Write([]byte("line one\n"))
	require.NoError(t, err)
	_, err = mem.Write([]byte("line two\n"))
	require.NoError(t, err)

	var replay bytes.Buffer
	_, err = mem.WriteBuffer(&replay)
	require.NoError(t, err)

	assert.Equal(t, "line one\nline two\n", first.String())
	assert.Equal(t, first.String(), replay.String())
}
