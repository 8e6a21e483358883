// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package agent

import "sync/atomic"

// Metrics are the in-memory counters the loops maintain and the status API
// surfaces. They reset on restart.
type Metrics struct {
	InboundForwarded  atomic.Int64
	InboundDropped    atomic.Int64
	OutboundDelivered atomic.Int64
	OutboundFailed    atomic.Int64
	Heartbeats        atomic.Int64
}

// MetricsSnapshot is the JSON rendering of the counters.
type MetricsSnapshot struct {
	InboundForwarded  int64 `json:"inboundForwarded"`
	InboundDropped    int64 `json:"inboundDropped"`
	OutboundDelivered int64 `json:"outboundDelivered"`
	OutboundFailed    int64 `json:"outboundFailed"`
	Heartbeats        int64 `json:"heartbeats"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		InboundForwarded:  m.InboundForwarded.Load(),
		InboundDropped:    m.InboundDropped.Load(),
		OutboundDelivered: m.OutboundDelivered.Load(),
		OutboundFailed:    m.OutboundFailed.Load(),
		Heartbeats:        m.Heartbeats.Load(),
	}
}
