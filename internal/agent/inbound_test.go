// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyvehq/relay-agent/pkg/backend/relayapi"
	"github.com/hyvehq/relay-agent/pkg/envelope"
)

func ingress(id string) envelope.Ingress {
	return envelope.Ingress{
		Channel:           "whatsapp",
		PlatformMessageID: id,
		ConversationID:    "1555@s.whatsapp.net",
		PeerID:            "1555@s.whatsapp.net",
		Text:              "hi",
	}
}

func TestInboundForwards(t *testing.T) {
	client := &fakeClient{}
	metrics := &Metrics{}
	pipeline := newInboundPipeline(context.Background(), client, "r-1", metrics)

	pipeline.Callback()(ingress("m-1"))

	forwarded := client.recordedInbound()
	require.Len(t, forwarded, 1)
	assert.Equal(t, "m-1", forwarded[0].PlatformMessageID)
	assert.Equal(t, int64(1), metrics.InboundForwarded.Load())
	assert.Zero(t, metrics.InboundDropped.Load())
}

func TestInboundRetriesOnceOnTransientFailure(t *testing.T) {
	calls := 0
	client := &fakeClient{
		inboundFn: func(envelope.Ingress) error {
			calls++
			if calls == 1 {
				return &relayapi.NetworkError{}
			}
			return nil
		},
	}
	metrics := &Metrics{}
	pipeline := newInboundPipeline(context.Background(), client, "r-1", metrics)

	pipeline.Callback()(ingress("m-1"))

	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), metrics.InboundForwarded.Load())
	assert.Zero(t, metrics.InboundDropped.Load())
}

func TestInboundDropsAfterRetryExhaustion(t *testing.T) {
	calls := 0
	client := &fakeClient{
		inboundFn: func(envelope.Ingress) error {
			calls++
			return &relayapi.NetworkError{}
		},
	}
	metrics := &Metrics{}
	pipeline := newInboundPipeline(context.Background(), client, "r-1", metrics)

	pipeline.Callback()(ingress("m-1"))

	assert.Equal(t, 2, calls, "one attempt plus one immediate retry")
	assert.Zero(t, metrics.InboundForwarded.Load())
	assert.Equal(t, int64(1), metrics.InboundDropped.Load())
}

func TestInboundPermanentRejectionIsNotRetried(t *testing.T) {
	calls := 0
	client := &fakeClient{
		inboundFn: func(envelope.Ingress) error {
			calls++
			return &relayapi.APIError{StatusCode: 400, Message: "bad envelope"}
		},
	}
	metrics := &Metrics{}
	pipeline := newInboundPipeline(context.Background(), client, "r-1", metrics)

	pipeline.Callback()(ingress("m-1"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), metrics.InboundDropped.Load())
}
