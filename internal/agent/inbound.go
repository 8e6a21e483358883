// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"sync"

	"github.com/hyvehq/relay-agent/pkg/backend/relayapi"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/envelope"
	"github.com/hyvehq/relay-agent/pkg/log"
)

var inlog = log.WithComponent("Inbound")

// inboundPipeline forwards plugin envelopes to the cloud. It is serial by
// construction: the plugin calls the callback in emission order and the
// pipeline never dispatches in parallel, so the cloud sees per-plugin FIFO.
//
// Failed envelopes are dropped after one immediate retry: the cloud is the
// source of truth and no local inbound store exists by design.
type inboundPipeline struct {
	ctx     context.Context
	client  relayapi.Client
	relayID string
	metrics *Metrics

	// inflight lets draining wait for the envelope currently being forwarded.
	inflight sync.WaitGroup
}

func newInboundPipeline(ctx context.Context, client relayapi.Client, relayID string, metrics *Metrics) *inboundPipeline {
	return &inboundPipeline{
		ctx:     ctx,
		client:  client,
		relayID: relayID,
		metrics: metrics,
	}
}

// Callback returns the function handed to plugin.Start. It never lets an
// error escape back into the plugin loop.
func (p *inboundPipeline) Callback() channel.InboundFunc {
	return func(env envelope.Ingress) {
		p.inflight.Add(1)
		defer p.inflight.Done()
		p.forward(env)
	}
}

func (p *inboundPipeline) forward(env envelope.Ingress) {
	_, err := p.client.SendInbound(p.ctx, p.relayID, env)
	if err == nil {
		p.metrics.InboundForwarded.Add(1)
		return
	}

	if relayapi.IsRetryable(err) {
		// one immediate retry, then drop: heartbeat will signal pending
		// work once the cloud is reachable again
		if _, err2 := p.client.SendInbound(p.ctx, p.relayID, env); err2 == nil {
			p.metrics.InboundForwarded.Add(1)
			return
		} else {
			err = err2
		}
	}

	p.metrics.InboundDropped.Add(1)
	inlog.WithError(err).WithField("platformMessageId", env.PlatformMessageID).Warn("Dropping inbound envelope.")
}

// Drain blocks until the in-flight forward (if any) completes.
func (p *inboundPipeline) Drain() {
	p.inflight.Wait()
}
