// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package signald

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	backendhttp "github.com/hyvehq/relay-agent/pkg/backend/http"
)

// RPCError is a protocol-level failure reported by the daemon. Unlike a
// transport failure it is not retryable: the daemon understood the request
// and rejected it.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("daemon rpc error %d: %s", e.Code, e.Message)
}

// rpcClient is a minimal JSON-RPC 2.0 client over HTTP POST against the
// daemon's local endpoint.
type rpcClient struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Int64
}

func newRPCClient(endpoint string) *rpcClient {
	return &rpcClient{
		endpoint:   endpoint,
		httpClient: backendhttp.GetHttpClient(backendhttp.ClientTimeout, http.DefaultTransport),
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Call performs one JSON-RPC method call and decodes its result into out when
// out is non-nil. Transport errors come back as-is; daemon rejections are
// *RPCError.
func (c *rpcClient) Call(ctx context.Context, method string, params, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("unable to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("unable to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("unable to parse %s response: %w", method, err)
	}
	if parsed.Error != nil {
		return parsed.Error
	}

	if out != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("unable to parse %s result: %w", method, err)
		}
	}
	return nil
}
