// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package agent hosts the relay runtime: the supervisor state machine and the
// inbound, outbound and heartbeat loops it coordinates.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/multierr"

	"github.com/hyvehq/relay-agent/pkg/backend/backoff"
	"github.com/hyvehq/relay-agent/pkg/backend/relayapi"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/config"
	"github.com/hyvehq/relay-agent/pkg/helpers/recover"
	"github.com/hyvehq/relay-agent/pkg/log"
)

var slog = log.WithComponent("Supervisor")

// State is the supervisor's lifecycle position. Transitions are one-way within
// a session; reconnects cycle starting → running.
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateActivating   State = "activating"
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateDraining     State = "draining"
	StateStopped      State = "stopped"
	StateRevoked      State = "revoked"
)

const (
	// drainTimeout bounds the graceful teardown of a session. In-flight
	// forwards and deliveries that overrun it are abandoned.
	drainTimeout = 5 * time.Second

	// connectPollInterval paces the wait for the adapter to report connected.
	connectPollInterval = 250 * time.Millisecond

	// stableSessionWindow is how long a session must survive for the
	// reconnect counter to reset.
	stableSessionWindow = 60 * time.Second
)

// ErrNotActivated means Run was called before Setup completed.
var ErrNotActivated = errors.New("this relay is not activated, run setup first")

// Supervisor owns the configured channel's adapter and drives the relay
// lifecycle: activation, the steady-state loops, reconnection and teardown.
type Supervisor struct {
	cfg      *config.Config
	client   relayapi.Client
	registry *channel.Registry
	version  string

	metrics *Metrics
	started time.Time

	stateLock sync.RWMutex
	state     State
	plugin    channel.Plugin
}

// NewSupervisor wires a supervisor over the given configuration and gateway
// client. Adapters are resolved from registry on Run.
func NewSupervisor(cfg *config.Config, client relayapi.Client, registry *channel.Registry, version string) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		client:   client,
		registry: registry,
		version:  version,
		metrics:  &Metrics{},
		started:  time.Now(),
		state:    StateUnconfigured,
	}
	if cfg.Activated() {
		s.state = StateIdle
	}
	return s
}

// Metrics exposes the runtime counters, e.g. to the status API.
func (s *Supervisor) Metrics() *Metrics { return s.metrics }

// State returns the current lifecycle position.
func (s *Supervisor) State() State {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.state
}

func (s *Supervisor) setState(next State) {
	s.stateLock.Lock()
	prev := s.state
	s.state = next
	s.stateLock.Unlock()
	if prev != next {
		slog.WithField("from", string(prev)).WithField("to", string(next)).Debug("State transition.")
	}
}

// Connection returns the adapter's connection state, disconnected when no
// adapter is active.
func (s *Supervisor) Connection() channel.ConnState {
	s.stateLock.RLock()
	p := s.plugin
	s.stateLock.RUnlock()
	if p == nil {
		return channel.StateDisconnected
	}
	return p.Status()
}

// Uptime reports how long this supervisor has existed.
func (s *Supervisor) Uptime() time.Duration {
	return time.Since(s.started)
}

// Setup performs the two-step enrollment: register the relay identity with
// the user bearer, then exchange the activation code for a device token. The
// resulting credentials are persisted together.
func (s *Supervisor) Setup(ctx context.Context, channelTag, label string) error {
	if s.cfg.Activated() {
		return fmt.Errorf("this relay is already activated for channel %s, revoke it first", s.cfg.Channel)
	}
	if !config.ValidChannel(channelTag) {
		return fmt.Errorf("unknown channel %q, valid channels are whatsapp, signal, imessage", channelTag)
	}
	if s.cfg.AuthToken == "" {
		return errors.New("no user auth token, set HYVE_RELAY_AUTH_TOKEN")
	}

	s.setState(StateActivating)

	reg, err := s.client.Register(ctx, s.cfg.AuthToken, channelTag, label)
	if err != nil {
		s.setState(StateUnconfigured)
		return fmt.Errorf("unable to register the relay: %w", err)
	}
	slog.WithField("relayId", reg.RelayID).Info("Relay registered, activating.")

	act, err := s.client.Activate(ctx, reg.RelayID, reg.ActivationCode, s.version, s.deviceMetadata())
	if err != nil {
		s.setState(StateUnconfigured)
		return fmt.Errorf("unable to activate the relay: %w", err)
	}

	s.cfg.Channel = channelTag
	if err := s.cfg.SetCredentials(reg.RelayID, act.DeviceToken); err != nil {
		s.setState(StateUnconfigured)
		return err
	}
	if act.HeartbeatIntervalSeconds > 0 {
		s.cfg.Heartbeat.IntervalSeconds = act.HeartbeatIntervalSeconds
	}
	if act.OutboundPollIntervalSeconds > 0 {
		s.cfg.Outbound.PollIntervalSeconds = act.OutboundPollIntervalSeconds
	}

	if err := config.SaveConfig(s.cfg); err != nil {
		s.setState(StateUnconfigured)
		return fmt.Errorf("activation succeeded but the configuration could not be saved: %w", err)
	}

	s.client.SetDeviceToken(act.DeviceToken)
	s.setState(StateIdle)
	slog.WithField("channel", channelTag).Info("Relay activated.")
	return nil
}

func (s *Supervisor) deviceMetadata() relayapi.DeviceMetadata {
	meta := relayapi.DeviceMetadata{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		InstallID: s.cfg.InstallID,
	}
	if hostname, err := os.Hostname(); err == nil {
		meta.Hostname = hostname
	}
	if info, err := host.Info(); err == nil {
		meta.OS = info.Platform
		meta.OSVersion = info.PlatformVersion
	}
	return meta
}

// Revoke tears the relay down for good: the cloud invalidates the device
// token, the adapter wipes its platform credentials and the local identifiers
// are cleared. Partial failures are aggregated so one broken step does not
// leave the others undone.
func (s *Supervisor) Revoke(ctx context.Context, reason string) error {
	if !s.cfg.Activated() {
		return ErrNotActivated
	}
	if s.cfg.AuthToken == "" {
		return errors.New("no user auth token, set HYVE_RELAY_AUTH_TOKEN")
	}

	var err error
	if revokeErr := s.client.Revoke(ctx, s.cfg.AuthToken, s.cfg.RelayID, reason); revokeErr != nil {
		err = multierr.Append(err, fmt.Errorf("cloud revoke failed: %w", revokeErr))
	}

	if plugin, resolveErr := s.registry.Get(s.cfg.Channel); resolveErr == nil {
		if logoutErr := plugin.Logout(ctx); logoutErr != nil {
			err = multierr.Append(err, fmt.Errorf("channel logout failed: %w", logoutErr))
		}
	}

	s.cfg.ClearCredentials()
	if saveErr := config.SaveConfig(s.cfg); saveErr != nil {
		err = multierr.Append(err, saveErr)
	}

	s.setState(StateRevoked)
	return err
}

// Run drives the steady state: it resolves the adapter, runs sessions and
// reconnects on transient disconnects per the configured policy. It returns
// nil on graceful shutdown, ErrDeviceRevoked when the cloud or the platform
// invalidated this relay, and the last error when reconnection gives up.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.cfg.Activated() {
		return ErrNotActivated
	}

	plugin, err := s.registry.Get(s.cfg.Channel)
	if err != nil {
		return err
	}
	if ok, reason := plugin.Supported(); !ok {
		return &channel.UnsupportedError{Channel: s.cfg.Channel, Reason: reason}
	}
	if !plugin.IsAuthenticated() {
		return &channel.NotAuthenticatedError{Channel: s.cfg.Channel}
	}

	s.stateLock.Lock()
	s.plugin = plugin
	s.stateLock.Unlock()

	s.client.SetDeviceToken(s.cfg.DeviceToken)

	bo := backoff.New(
		time.Duration(s.cfg.Reconnect.InitialDelayMs)*time.Millisecond,
		time.Duration(s.cfg.Reconnect.MaxDelayMs)*time.Millisecond,
	)
	watchdog := time.Duration(s.cfg.Reconnect.WatchdogTimeoutMs) * time.Millisecond
	attempts := 0
	var downSince time.Time

	for {
		s.setState(StateStarting)
		sessionStart := time.Now()
		err := s.runSession(ctx, plugin)

		if ctx.Err() != nil {
			s.setState(StateStopped)
			return nil
		}

		if errors.Is(err, ErrDeviceRevoked) {
			return s.terminate(err)
		}
		var dErr *channel.DisconnectError
		if errors.As(err, &dErr) && dErr.Fatal() {
			slog.WithField("reason", string(dErr.Reason)).Warn("Platform logged this relay out.")
			return s.terminate(ErrDeviceRevoked)
		}

		if time.Since(sessionStart) >= stableSessionWindow {
			bo.Reset()
			attempts = 0
			downSince = time.Time{}
		}
		if downSince.IsZero() {
			downSince = time.Now()
		}

		attempts++
		if max := s.cfg.Reconnect.MaxAttempts; max > 0 && attempts > max {
			s.setState(StateStopped)
			return fmt.Errorf("giving up after %d reconnect attempts: %w", max, err)
		}
		// the watchdog bounds the total time spent out of a stable session
		if watchdog > 0 && time.Since(downSince) > watchdog {
			s.setState(StateStopped)
			return fmt.Errorf("giving up after %s without a stable session: %w", watchdog, err)
		}

		delay := bo.Duration()
		slog.WithError(err).WithField("retryIn", delay.String()).Warn("Session ended, reconnecting.")
		if err := backoff.Sleep(ctx, delay); err != nil {
			s.setState(StateStopped)
			return nil
		}
	}
}

// terminate handles the revoked endgame: credentials are cleared on disk so
// the next start lands in setup instead of a doomed retry loop.
func (s *Supervisor) terminate(cause error) error {
	s.cfg.ClearCredentials()
	if err := config.SaveConfig(s.cfg); err != nil {
		slog.WithError(err).Warn("Unable to clear credentials after revocation.")
	}
	s.setState(StateRevoked)
	return cause
}

// runSession runs one adapter session end to end: connect, first heartbeat,
// steady-state loops, drain. It returns nil only when ctx was cancelled.
func (s *Supervisor) runSession(ctx context.Context, plugin channel.Plugin) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pipeline := newInboundPipeline(sessCtx, s.client, s.cfg.RelayID, s.metrics)
	out := newOutboundLoop(
		s.client, plugin, s.cfg.RelayID,
		time.Duration(s.cfg.Outbound.PollIntervalSeconds)*time.Second,
		s.cfg.Outbound.MaxPerPoll,
		s.metrics,
	)
	hb := newHeartbeatLoop(
		s.client, plugin, s.cfg.RelayID, s.version,
		time.Duration(s.cfg.Heartbeat.IntervalSeconds)*time.Second,
		s.metrics, out.Wake,
	)

	pluginDone := make(chan error, 1)
	go func() {
		defer recover.PanicHandler(recover.LogAndContinue)
		pluginDone <- plugin.Start(sessCtx, pipeline.Callback())
	}()

	if err := s.awaitConnected(sessCtx, plugin, pluginDone); err != nil {
		return err
	}

	if err := hb.Beat(sessCtx); err != nil {
		if errors.Is(err, ErrDeviceRevoked) {
			return err
		}
		// the session is still viable, the loop keeps beating
		slog.WithError(err).Warn("First heartbeat failed.")
	}

	s.setState(StateRunning)
	slog.WithField("channel", s.cfg.Channel).Info("Relay is running.")

	hbDone := make(chan error, 1)
	go func() {
		defer recover.PanicHandler(recover.LogAndContinue)
		hbDone <- hb.Run(sessCtx)
	}()

	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer recover.PanicHandler(recover.LogAndContinue)
		defer loops.Done()
		out.Run(sessCtx)
	}()

	var sessionErr error
	select {
	case <-ctx.Done():
	case sessionErr = <-pluginDone:
		if sessionErr == nil {
			sessionErr = &channel.DisconnectError{Reason: channel.DisconnectUnknown}
		}
	case sessionErr = <-hbDone:
	}

	s.drain(cancel, pipeline, out, &loops)
	return sessionErr
}

// awaitConnected blocks until the adapter reports connected. The watchdog
// bounds the wait so a wedged connect cannot stall the supervisor forever.
func (s *Supervisor) awaitConnected(ctx context.Context, plugin channel.Plugin, pluginDone <-chan error) error {
	watchdog := time.Duration(s.cfg.Reconnect.WatchdogTimeoutMs) * time.Millisecond
	if watchdog <= 0 {
		watchdog = 15 * time.Minute
	}
	deadline := time.NewTimer(watchdog)
	defer deadline.Stop()

	for {
		if plugin.Status() == channel.StateConnected {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-pluginDone:
			if err == nil {
				err = &channel.DisconnectError{Reason: channel.DisconnectUnknown}
			}
			return err
		case <-deadline.C:
			return &channel.DisconnectError{
				Reason: channel.DisconnectConnectionLost,
				Err:    fmt.Errorf("adapter did not connect within %s", watchdog),
			}
		case <-time.After(connectPollInterval):
		}
	}
}

// drain gives in-flight work a bounded window to finish before the session
// goroutines are abandoned.
func (s *Supervisor) drain(cancel context.CancelFunc, pipeline *inboundPipeline, out *outboundLoop, loops *sync.WaitGroup) {
	s.setState(StateDraining)
	cancel()

	done := make(chan struct{})
	go func() {
		pipeline.Drain()
		out.Drain()
		loops.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		slog.Warn("Drain timed out, abandoning in-flight work.")
	}
}
