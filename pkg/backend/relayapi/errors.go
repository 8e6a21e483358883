// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package relayapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrNoDeviceToken is returned by device-authenticated operations before any
// network I/O when the token has not been set.
var ErrNoDeviceToken = errors.New("relay device token is not set")

// APIError is a non-2xx answer from the cloud gateway. 4xx are permanent and
// user-facing; 5xx are retryable.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cloud gateway returned %d", e.StatusCode)
	}
	return fmt.Sprintf("cloud gateway returned %d: %s", e.StatusCode, e.Message)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// NetworkError is a transport-level failure (connection refused, reset, DNS).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling cloud gateway: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is a request that did not complete within the client timeout.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout calling cloud gateway: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// classifyTransportError wraps an http.Client error into the timeout or
// network kind.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	return &NetworkError{Err: err}
}

// errorFromResponse builds an APIError from a non-2xx response body, which
// carries either {"error": "..."} or {"message": "..."}.
func errorFromResponse(statusCode int, body []byte) *APIError {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		msg = payload.Error
		if msg == "" {
			msg = payload.Message
		}
	}
	return &APIError{StatusCode: statusCode, Message: msg}
}

// IsRetryable reports whether the operation may succeed on a later attempt:
// timeouts, transport failures and 5xx answers.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Permanent()
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var toErr *TimeoutError
	return errors.As(err, &toErr)
}

// IsUnauthorized reports whether the cloud rejected the device token. This is
// terminal for the steady-state loops.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
