// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package format renders relay agent log lines as
// "<ISO timestamp> <LEVEL> [<component>] <message> <k=v ...>".
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// stackTracer is satisfied by errors created or wrapped with pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Text is a logrus formatter for the diagnostic stream. Stack traces carried
// by wrapped errors are rendered only when the debug threshold is enabled.
type Text struct{}

func NewText() *Text {
	return &Text{}
}

// Format renders a single log entry.
func (f *Text) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	b.WriteString(entry.Time.UTC().Format(timestampLayout))
	b.WriteByte(' ')
	b.WriteString(levelName(entry.Level))

	if component, ok := entry.Data["component"].(string); ok && component != "" {
		fmt.Fprintf(b, " [%s]", component)
	}

	b.WriteByte(' ')
	b.WriteString(entry.Message)

	var errValue error
	for _, key := range sortedKeys(entry.Data) {
		if key == "component" {
			continue
		}
		if key == logrus.ErrorKey {
			if err, ok := entry.Data[key].(error); ok {
				errValue = err
				fmt.Fprintf(b, " error=%s", quoteIfNeeded(err.Error()))
				continue
			}
		}
		fmt.Fprintf(b, " %s=%s", key, renderValue(entry.Data[key]))
	}

	if errValue != nil && entry.Logger != nil && entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		if st, ok := errValue.(stackTracer); ok {
			fmt.Fprintf(b, "%+v", st.StackTrace())
		}
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelName(level logrus.Level) string {
	if level == logrus.WarnLevel {
		return "WARN"
	}
	return strings.ToUpper(level.String())
}

func sortedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// renderValue serializes scalar values verbatim and everything else as
// compact JSON, so a line stays grep-able.
func renderValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return quoteIfNeeded(v)
	case error:
		return quoteIfNeeded(v.Error())
	case fmt.Stringer:
		return quoteIfNeeded(v.String())
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", v)
	default:
		compact, err := json.Marshal(v)
		if err != nil {
			return quoteIfNeeded(fmt.Sprintf("%v", v))
		}
		return string(compact)
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n=\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
