// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package http holds the HTTP plumbing shared by the cloud-facing clients.
package http

import (
	"net/http"
	"time"
)

// ClientTimeout bounds every request the relay makes against the cloud
// gateway.
const ClientTimeout = 30 * time.Second

// Client sends a request and returns a response or error.
type Client func(req *http.Request) (*http.Response, error)

// NullHttpClient discards all the requests and returns empty objects.
var NullHttpClient = func(req *http.Request) (res *http.Response, err error) {
	return
}

// GetHttpClient builds the http.Client shared by the relay loops.
func GetHttpClient(httpTimeout time.Duration, transport http.RoundTripper) *http.Client {
	return &http.Client{
		Timeout:   httpTimeout,
		Transport: transport,
	}
}

// DefaultTransport returns a transport with proxy support taken from the
// process environment.
func DefaultTransport() http.RoundTripper {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// IsResponseSuccess reports whether the backend accepted the request.
func IsResponseSuccess(resp *http.Response) bool {
	return resp.StatusCode == http.StatusOK ||
		resp.StatusCode == http.StatusCreated ||
		resp.StatusCode == http.StatusAccepted
}

// IsResponseError is a non successful backend response.
func IsResponseError(resp *http.Response) bool {
	return !IsResponseSuccess(resp)
}
