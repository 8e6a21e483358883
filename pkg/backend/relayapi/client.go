// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package relayapi implements the typed client for the seven cloud gateway
// endpoints the relay speaks: register, activate, revoke, heartbeat, inbound,
// outbound and ack.
package relayapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	backendhttp "github.com/hyvehq/relay-agent/pkg/backend/http"
	"github.com/hyvehq/relay-agent/pkg/envelope"
	"github.com/hyvehq/relay-agent/pkg/log"
)

var rlog = log.WithComponent("RelayAPIClient")

// Client talks to the cloud gateway. Implementations are safe for concurrent
// use by the relay loops: apart from the device token, set once during
// activation, a client is stateless.
type Client interface {
	// SetDeviceToken installs the device bearer. It is called once during
	// activation, before the steady-state loops start.
	SetDeviceToken(token string)

	// Register asks the cloud for a new relay identity. Authenticated with
	// the user-identity bearer.
	Register(ctx context.Context, userToken, channel, label string) (RegisterResponse, error)

	// Activate exchanges a short-lived activation code for a device token.
	// The code itself is the proof: no bearer is sent.
	Activate(ctx context.Context, relayID, activationCode, version string, meta DeviceMetadata) (ActivateResponse, error)

	// Revoke invalidates a relay. Authenticated with the user-identity
	// bearer.
	Revoke(ctx context.Context, userToken, relayID, reason string) error

	// Heartbeat reports liveness. A 401 means the device was revoked.
	Heartbeat(ctx context.Context, relayID string, status *StatusSnapshot) (HeartbeatResponse, error)

	// SendInbound forwards one ingress envelope to the cloud.
	SendInbound(ctx context.Context, relayID string, env envelope.Ingress, staged ...StagedMedia) (InboundResponse, error)

	// PollOutbound fetches the queued cloud-side messages, possibly none.
	PollOutbound(ctx context.Context, relayID string) ([]envelope.Outbound, error)

	// AckOutbound reports the outcome of one delivery. It must not be
	// re-attempted for an id after it has succeeded once.
	AckOutbound(ctx context.Context, ack envelope.Ack) error
}

type relayClient struct {
	svcURL     string
	userAgent  string
	httpClient backendhttp.Client

	tokenLock   sync.RWMutex
	deviceToken string
}

// NewClient builds a gateway client on top of the shared HTTP plumbing.
func NewClient(svcURL, userAgent string, httpClient backendhttp.Client) Client {
	return &relayClient{
		svcURL:     strings.TrimSuffix(svcURL, "/"),
		userAgent:  userAgent,
		httpClient: httpClient,
	}
}

func (c *relayClient) SetDeviceToken(token string) {
	c.tokenLock.Lock()
	defer c.tokenLock.Unlock()
	c.deviceToken = token
}

// deviceBearer fails fast when the token is unset, before any network I/O.
func (c *relayClient) deviceBearer() (string, error) {
	c.tokenLock.RLock()
	defer c.tokenLock.RUnlock()
	if c.deviceToken == "" {
		return "", ErrNoDeviceToken
	}
	return c.deviceToken, nil
}

func (c *relayClient) Register(ctx context.Context, userToken, channel, label string) (resp RegisterResponse, err error) {
	err = c.post(ctx, "/register", userToken, registerBody{Channel: channel, Label: label}, &resp)
	return
}

func (c *relayClient) Activate(ctx context.Context, relayID, activationCode, version string, meta DeviceMetadata) (resp ActivateResponse, err error) {
	body := activateBody{
		RelayID:        relayID,
		ActivationCode: activationCode,
		Version:        version,
		DeviceMetadata: meta,
	}
	err = c.post(ctx, "/activate", "", body, &resp)
	return
}

func (c *relayClient) Revoke(ctx context.Context, userToken, relayID, reason string) error {
	var resp okResponse
	return c.post(ctx, "/revoke", userToken, revokeBody{RelayID: relayID, Reason: reason}, &resp)
}

func (c *relayClient) Heartbeat(ctx context.Context, relayID string, status *StatusSnapshot) (resp HeartbeatResponse, err error) {
	bearer, err := c.deviceBearer()
	if err != nil {
		return
	}
	err = c.post(ctx, "/heartbeat", bearer, heartbeatBody{RelayID: relayID, Status: status}, &resp)
	return
}

func (c *relayClient) SendInbound(ctx context.Context, relayID string, env envelope.Ingress, staged ...StagedMedia) (resp InboundResponse, err error) {
	bearer, err := c.deviceBearer()
	if err != nil {
		return
	}
	err = c.post(ctx, "/inbound", bearer, inboundBody{RelayID: relayID, Envelope: env, StagedMedia: staged}, &resp)
	return
}

func (c *relayClient) PollOutbound(ctx context.Context, relayID string) ([]envelope.Outbound, error) {
	bearer, err := c.deviceBearer()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.makeURL("/outbound")+"?relayId="+url.QueryEscape(relayID), nil)
	if err != nil {
		return nil, fmt.Errorf("unable to build outbound poll request: %w", err)
	}

	var resp outboundResponse
	if err := c.do(req, bearer, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *relayClient) AckOutbound(ctx context.Context, ack envelope.Ack) error {
	bearer, err := c.deviceBearer()
	if err != nil {
		return err
	}
	var resp okResponse
	return c.post(ctx, "/ack", bearer, ack, &resp)
}

func (c *relayClient) post(ctx context.Context, path, bearer string, body, out interface{}) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return fmt.Errorf("unable to encode %s request body: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.makeURL(path), buf)
	if err != nil {
		return fmt.Errorf("unable to build %s request: %w", path, err)
	}
	return c.do(req, bearer, out)
}

// do performs the request, augmenting it with auth and agent headers, and
// decodes the documented 2xx object into out.
func (c *relayClient) do(req *http.Request, bearer string, out interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			rlog.WithError(err).Debug("Error closing gateway response body.")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(err)
	}

	if backendhttp.IsResponseError(resp) {
		return errorFromResponse(resp.StatusCode, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("unable to parse gateway response for %s: %w", req.URL.Path, err)
		}
	}
	return nil
}

func (c *relayClient) makeURL(requestPath string) string {
	requestPath = strings.TrimPrefix(requestPath, "/")
	return fmt.Sprintf("%s/%s", c.svcURL, requestPath)
}
