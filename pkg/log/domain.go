// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// relay agent domain helpers
package log

import (
	"github.com/sirupsen/logrus"
)

// WithComponent decorates log context with the emitting component name.
func WithComponent(name string) Entry {
	return func() *logrus.Entry {
		return w.l.WithField("component", name)
	}
}

// WithComponent decorates entry context with the emitting component name.
func (e Entry) WithComponent(name string) Entry {
	return func() *logrus.Entry {
		return e().WithField("component", name)
	}
}

// WithChannel decorates log context with a channel tag.
func WithChannel(tag string) Entry {
	return func() *logrus.Entry {
		return w.l.WithField("channel", tag)
	}
}

// WithChannel decorates entry context with a channel tag.
func (e Entry) WithChannel(tag string) Entry {
	return func() *logrus.Entry {
		return e().WithField("channel", tag)
	}
}
