// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/hyvehq/relay-agent/pkg/backend/backoff"
	"github.com/hyvehq/relay-agent/pkg/backend/relayapi"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/log"
)

var hblog = log.WithComponent("Heartbeat")

// ErrDeviceRevoked is the terminal outcome of the heartbeat loop: the cloud
// rejected the device token.
var ErrDeviceRevoked = fmt.Errorf("the cloud revoked this relay's device token")

// heartbeatLoop periodically reports liveness. The server may retune the
// interval in any response; the change takes effect on the next iteration and
// is never written back to disk.
type heartbeatLoop struct {
	client   relayapi.Client
	plugin   channel.Plugin
	relayID  string
	version  string
	interval time.Duration
	started  time.Time
	metrics  *Metrics

	// platformStatus is attached to every snapshot; resolved once at loop
	// start since the host does not change under a running process.
	platformStatus string

	// wakeOutbound pokes the outbound loop when the cloud hints at pending
	// messages.
	wakeOutbound func()
}

func newHeartbeatLoop(client relayapi.Client, plugin channel.Plugin, relayID, version string, interval time.Duration, metrics *Metrics, wakeOutbound func()) *heartbeatLoop {
	return &heartbeatLoop{
		client:         client,
		plugin:         plugin,
		relayID:        relayID,
		version:        version,
		interval:       interval,
		started:        time.Now(),
		metrics:        metrics,
		platformStatus: hostDescription(),
		wakeOutbound:   wakeOutbound,
	}
}

// Beat sends one heartbeat immediately. The supervisor uses it for the first
// beat of a run before the loop takes over.
func (h *heartbeatLoop) Beat(ctx context.Context) error {
	resp, err := h.client.Heartbeat(ctx, h.relayID, h.snapshot())
	if err != nil {
		if relayapi.IsUnauthorized(err) {
			return ErrDeviceRevoked
		}
		return err
	}

	h.metrics.Heartbeats.Add(1)

	if secs := resp.HeartbeatIntervalSeconds; secs > 0 {
		next := time.Duration(secs) * time.Second
		if next != h.interval {
			hblog.WithField("intervalSeconds", secs).Debug("Server retuned the heartbeat interval.")
			h.interval = next
		}
	}

	if resp.HasPendingOutbound && h.wakeOutbound != nil {
		h.wakeOutbound()
	}
	return nil
}

// Run beats until ctx fires or the device is revoked. Transient failures are
// logged and the loop keeps its cadence.
func (h *heartbeatLoop) Run(ctx context.Context) error {
	for {
		if err := backoff.Sleep(ctx, h.interval); err != nil {
			return nil
		}

		if err := h.Beat(ctx); err != nil {
			if err == ErrDeviceRevoked {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			hblog.WithError(err).Warn("Heartbeat failed.")
		}
	}
}

func (h *heartbeatLoop) snapshot() *relayapi.StatusSnapshot {
	s := &relayapi.StatusSnapshot{
		Version:        h.version,
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		PlatformStatus: h.platformStatus,
	}
	if h.plugin != nil {
		s.PlatformStatus = fmt.Sprintf("%s (%s)", h.platformStatus, h.plugin.Status())
	}
	return s
}

func hostDescription() string {
	info, err := host.Info()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
}
