// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package signald implements the Signal adapter. It manages an external
// signal-cli style daemon bound to the loopback interface and talks to it
// over JSON-RPC plus a server-sent event stream; the relay itself never
// speaks the Signal protocol.
package signald

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/pkg/errors"

	"github.com/hyvehq/relay-agent/pkg/backend/backoff"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/log"
)

var slog = log.WithComponent("Signal")

const (
	// Stream-only reconnect policy: the daemon keeps running across stream
	// drops, only the SSE connection is re-established.
	streamBackoffBase = 1 * time.Second
	streamBackoffCap  = 32 * time.Second // 2^5 × base
	streamMaxAttempts = 8

	linkDeviceName = "hyve-relay"
)

// Plugin is the Signal channel adapter.
type Plugin struct {
	dataDir   string
	rpc       *rpcClient
	eventsURL string

	lock   sync.Mutex
	state  channel.ConnState
	daemon *daemon
}

// New builds the Signal adapter over the given credential directory.
func New(dataDir string) *Plugin {
	return &Plugin{
		dataDir:   dataDir,
		rpc:       newRPCClient(rpcEndpoint()),
		eventsURL: eventsEndpoint(),
		state:     channel.StateDisconnected,
	}
}

func (p *Plugin) Tag() string         { return "signal" }
func (p *Plugin) DisplayName() string { return "Signal" }

func (p *Plugin) Supported() (bool, string) {
	return true, ""
}

// IsAuthenticated checks for the account store the daemon writes after a
// completed device link. No network I/O.
func (p *Plugin) IsAuthenticated() bool {
	entries, err := os.ReadDir(filepath.Join(p.dataDir, "data"))
	return err == nil && len(entries) > 0
}

func (p *Plugin) Status() channel.ConnState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

func (p *Plugin) setState(s channel.ConnState) {
	p.lock.Lock()
	p.state = s
	p.lock.Unlock()
}

// Login links this relay as a secondary Signal device: a temporary daemon
// produces a device-link URI which is rendered as a QR code, then finishLink
// blocks until the human scans it from the primary device.
func (p *Plugin) Login(ctx context.Context) error {
	d, err := startDaemon(ctx, p.dataDir)
	if err != nil {
		return err
	}
	defer d.stop()

	var link struct {
		DeviceLinkURI string `json:"deviceLinkUri"`
	}
	if err := p.rpc.Call(ctx, "startLink", nil, &link); err != nil {
		return errors.Wrap(err, "unable to start the device link")
	}

	slog.Info("Scan the QR code from Signal on your phone: Settings > Linked Devices.")
	qrterminal.GenerateHalfBlock(link.DeviceLinkURI, qrterminal.L, os.Stderr)

	// Blocks until the human scans.
	params := map[string]string{
		"deviceLinkUri": link.DeviceLinkURI,
		"deviceName":    linkDeviceName,
	}
	if err := p.rpc.Call(ctx, "finishLink", params, nil); err != nil {
		return errors.Wrap(err, "device link did not complete")
	}

	slog.Info("Signal device linked.")
	return nil
}

// Start spawns the daemon on the persistent data directory and consumes its
// event stream until ctx is cancelled or the stream-only reconnect budget is
// exhausted.
func (p *Plugin) Start(ctx context.Context, onInbound channel.InboundFunc) error {
	p.setState(channel.StateConnecting)
	defer p.setState(channel.StateDisconnected)

	d, err := startDaemon(ctx, p.dataDir)
	if err != nil {
		return &channel.DisconnectError{Reason: channel.DisconnectConnectionLost, Err: err}
	}

	p.lock.Lock()
	p.daemon = d
	p.lock.Unlock()

	defer func() {
		p.lock.Lock()
		p.daemon = nil
		p.lock.Unlock()
		d.stop()
	}()

	p.setState(channel.StateConnected)

	bo := backoff.New(streamBackoffBase, streamBackoffCap)
	for {
		healthy, err := p.consumeStream(ctx, onInbound)
		if ctx.Err() != nil {
			return nil
		}
		if healthy {
			// The stream delivered events before dropping: start the
			// reconnect budget over.
			bo.Reset()
		}

		if bo.Attempt() >= streamMaxAttempts {
			slog.WithError(err).Error("Event stream reconnect budget exhausted, stopping the daemon.")
			return &channel.DisconnectError{Reason: channel.DisconnectConnectionLost, Err: err}
		}

		delay := bo.Duration()
		slog.WithError(err).WithField("retryIn", delay.String()).Warn("Event stream dropped, reconnecting stream only.")
		if err := backoff.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// consumeStream opens the SSE endpoint and forwards receive events until the
// stream ends. healthy reports whether at least one event arrived.
func (p *Plugin) consumeStream(ctx context.Context, onInbound channel.InboundFunc) (healthy bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.eventsURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout: the stream stays open indefinitely; ctx bounds it.
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, errors.Errorf("event stream returned status %d", resp.StatusCode)
	}

	parser := &StreamParser{}
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, evt := range parser.Feed(buf[:n]) {
				if evt.Type != "receive" && evt.Type != "message" {
					continue
				}
				if env, ok := normalizeEvent([]byte(evt.Data)); ok {
					healthy = true
					onInbound(env)
				}
			}
		}
		if readErr != nil {
			return healthy, readErr
		}
	}
}

// Logout tears the daemon down and wipes the local account store.
func (p *Plugin) Logout(ctx context.Context) error {
	p.lock.Lock()
	d := p.daemon
	p.daemon = nil
	p.lock.Unlock()
	if d != nil {
		d.stop()
	}

	if err := os.RemoveAll(p.dataDir); err != nil {
		return errors.Wrap(err, "unable to wipe the signal data directory")
	}
	return nil
}

var _ channel.Plugin = (*Plugin)(nil)
