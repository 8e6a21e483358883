// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package signald

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/envelope"
)

// rpcTestServer answers the daemon's rpc endpoint with the given result or
// error and captures the decoded request.
func rpcTestServer(t *testing.T, result interface{}, rpcErr *RPCError, captured *rpcRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		raw, _ := json.Marshal(result)
		body := struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      int64           `json:"id"`
			Result  json.RawMessage `json:"result,omitempty"`
			Error   *RPCError       `json:"error,omitempty"`
		}{JSONRPC: "2.0", Result: raw, Error: rpcErr}

		var params json.RawMessage
		req.Params = &params
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		body.ID = req.ID
		if captured != nil {
			*captured = req
		}

		_ = json.NewEncoder(w).Encode(body)
	}))
}

func testPlugin(rpcURL string) *Plugin {
	p := New("/tmp/unused")
	p.rpc = newRPCClient(rpcURL)
	return p
}

func TestDeliverDirectSend(t *testing.T) {
	var captured rpcRequest
	ts := rpcTestServer(t, sendResult{
		Timestamp: 1700000001000,
		Results:   []sendRecipientResult{{Type: resultSuccess}},
	}, nil, &captured)
	defer ts.Close()

	p := testPlugin(ts.URL)
	res, err := p.Deliver(context.Background(), envelope.Egress{
		Channel:        "signal",
		ConversationID: "+1555",
		Text:           "reply",
	})
	require.NoError(t, err)
	assert.Equal(t, "sig-1700000001000", res.PlatformMessageID)
	assert.Equal(t, "send", captured.Method)

	raw, _ := json.Marshal(captured.Params)
	assert.JSONEq(t, `{"recipient":["+1555"],"message":"reply"}`, string(raw))
}

func TestDeliverGroupSend(t *testing.T) {
	var captured rpcRequest
	ts := rpcTestServer(t, sendResult{
		Timestamp: 1700000001000,
		Results:   []sendRecipientResult{{Type: resultSuccess}},
	}, nil, &captured)
	defer ts.Close()

	p := testPlugin(ts.URL)
	_, err := p.Deliver(context.Background(), envelope.Egress{
		Channel:        "signal",
		ConversationID: "group.abc123",
		Text:           "hello group",
	})
	require.NoError(t, err)

	raw, _ := json.Marshal(captured.Params)
	assert.JSONEq(t, `{"groupId":"abc123","message":"hello group"}`, string(raw))
}

func TestDeliverResultFailureMapping(t *testing.T) {
	cases := []struct {
		kind      string
		retryable bool
	}{
		{resultNetworkFailure, true},
		{resultUnregistered, false},
		{resultIdentityFailure, false},
		{resultProofRequired, false},
		{"SOMETHING_ELSE", false},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			ts := rpcTestServer(t, sendResult{
				Timestamp: 1,
				Results:   []sendRecipientResult{{Type: tc.kind}},
			}, nil, nil)
			defer ts.Close()

			p := testPlugin(ts.URL)
			_, err := p.Deliver(context.Background(), envelope.Egress{ConversationID: "+1555", Text: "x"})
			require.Error(t, err)

			var dErr *channel.DeliveryError
			require.ErrorAs(t, err, &dErr)
			assert.Equal(t, tc.retryable, dErr.Retryable)
		})
	}
}

func TestDeliverRPCErrorIsPermanent(t *testing.T) {
	ts := rpcTestServer(t, nil, &RPCError{Code: -32602, Message: "invalid params"}, nil)
	defer ts.Close()

	p := testPlugin(ts.URL)
	_, err := p.Deliver(context.Background(), envelope.Egress{ConversationID: "+1555", Text: "x"})
	require.Error(t, err)

	var dErr *channel.DeliveryError
	require.ErrorAs(t, err, &dErr)
	assert.False(t, dErr.Retryable)
}

func TestDeliverTransportErrorIsRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // daemon gone

	p := testPlugin(ts.URL)
	_, err := p.Deliver(context.Background(), envelope.Egress{ConversationID: "+1555", Text: "x"})
	require.Error(t, err)

	var dErr *channel.DeliveryError
	require.ErrorAs(t, err, &dErr)
	assert.True(t, dErr.Retryable)
}
