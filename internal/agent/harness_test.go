// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"sync"
	"time"

	"github.com/hyvehq/relay-agent/pkg/backend/relayapi"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/envelope"
)

// fakeClient is an in-memory gateway double. Unset function fields answer with
// benign defaults; every ack and inbound envelope is recorded.
type fakeClient struct {
	mu    sync.Mutex
	token string

	registerFn  func(channel, label string) (relayapi.RegisterResponse, error)
	activateFn  func(relayID, code string) (relayapi.ActivateResponse, error)
	revokeFn    func(relayID, reason string) error
	heartbeatFn func(relayID string) (relayapi.HeartbeatResponse, error)
	inboundFn   func(env envelope.Ingress) error
	pollFn      func() ([]envelope.Outbound, error)
	ackFn       func(ack envelope.Ack) error

	inbound []envelope.Ingress
	acks    []envelope.Ack
}

func (f *fakeClient) SetDeviceToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeClient) deviceToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeClient) Register(_ context.Context, _, channel, label string) (relayapi.RegisterResponse, error) {
	if f.registerFn != nil {
		return f.registerFn(channel, label)
	}
	return relayapi.RegisterResponse{RelayID: "r-test", ActivationCode: "123456"}, nil
}

func (f *fakeClient) Activate(_ context.Context, relayID, code, _ string, _ relayapi.DeviceMetadata) (relayapi.ActivateResponse, error) {
	if f.activateFn != nil {
		return f.activateFn(relayID, code)
	}
	return relayapi.ActivateResponse{DeviceToken: "tok-test"}, nil
}

func (f *fakeClient) Revoke(_ context.Context, _, relayID, reason string) error {
	if f.revokeFn != nil {
		return f.revokeFn(relayID, reason)
	}
	return nil
}

func (f *fakeClient) Heartbeat(_ context.Context, relayID string, _ *relayapi.StatusSnapshot) (relayapi.HeartbeatResponse, error) {
	if f.heartbeatFn != nil {
		return f.heartbeatFn(relayID)
	}
	return relayapi.HeartbeatResponse{OK: true}, nil
}

func (f *fakeClient) SendInbound(_ context.Context, _ string, env envelope.Ingress, _ ...relayapi.StagedMedia) (relayapi.InboundResponse, error) {
	if f.inboundFn != nil {
		if err := f.inboundFn(env); err != nil {
			return relayapi.InboundResponse{}, err
		}
	}
	f.mu.Lock()
	f.inbound = append(f.inbound, env)
	f.mu.Unlock()
	return relayapi.InboundResponse{OK: true, Dispatched: true}, nil
}

func (f *fakeClient) PollOutbound(_ context.Context, _ string) ([]envelope.Outbound, error) {
	if f.pollFn != nil {
		return f.pollFn()
	}
	return nil, nil
}

func (f *fakeClient) AckOutbound(_ context.Context, ack envelope.Ack) error {
	if f.ackFn != nil {
		if err := f.ackFn(ack); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.acks = append(f.acks, ack)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) recordedAcks() []envelope.Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]envelope.Ack, len(f.acks))
	copy(out, f.acks)
	return out
}

func (f *fakeClient) recordedInbound() []envelope.Ingress {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]envelope.Ingress, len(f.inbound))
	copy(out, f.inbound)
	return out
}

// fakePlugin is an adapter double. The default Start marks itself connected
// and blocks until ctx fires.
type fakePlugin struct {
	tag        string
	supported  bool
	why        string
	authed     bool
	deliverFn  func(ctx context.Context, env envelope.Egress) (channel.DeliveryResult, error)
	startFn    func(ctx context.Context, p *fakePlugin, onInbound channel.InboundFunc) error
	loginErr   error
	logoutErr  error
	loggedOut  bool
	mu         sync.Mutex
	state      channel.ConnState
	deliveries []envelope.Egress
}

func newFakePlugin() *fakePlugin {
	return &fakePlugin{tag: "whatsapp", supported: true, authed: true, state: channel.StateDisconnected}
}

func (p *fakePlugin) Tag() string               { return p.tag }
func (p *fakePlugin) DisplayName() string       { return "Fake" }
func (p *fakePlugin) Supported() (bool, string) { return p.supported, p.why }
func (p *fakePlugin) IsAuthenticated() bool     { return p.authed }

func (p *fakePlugin) Login(context.Context) error { return p.loginErr }

func (p *fakePlugin) Start(ctx context.Context, onInbound channel.InboundFunc) error {
	if p.startFn != nil {
		return p.startFn(ctx, p, onInbound)
	}
	p.setState(channel.StateConnected)
	<-ctx.Done()
	p.setState(channel.StateDisconnected)
	return nil
}

func (p *fakePlugin) Deliver(ctx context.Context, env envelope.Egress) (channel.DeliveryResult, error) {
	p.mu.Lock()
	p.deliveries = append(p.deliveries, env)
	p.mu.Unlock()
	if p.deliverFn != nil {
		return p.deliverFn(ctx, env)
	}
	return channel.DeliveryResult{PlatformMessageID: "pm-1"}, nil
}

func (p *fakePlugin) Status() channel.ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlugin) setState(state channel.ConnState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *fakePlugin) Logout(context.Context) error {
	p.mu.Lock()
	p.loggedOut = true
	p.mu.Unlock()
	return p.logoutErr
}

func (p *fakePlugin) recordedDeliveries() []envelope.Egress {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]envelope.Egress, len(p.deliveries))
	copy(out, p.deliveries)
	return out
}

// eventually polls cond until it holds or the deadline passes.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
