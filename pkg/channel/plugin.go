// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package channel defines the contract every platform adapter implements and
// the registry the relay runtime resolves adapters from.
package channel

import (
	"context"
	"fmt"

	"github.com/hyvehq/relay-agent/pkg/envelope"
)

// ConnState is the connection status an adapter reports.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// InboundFunc receives normalized ingress envelopes from the active adapter.
// The runtime guarantees it never panics back into the adapter; adapters call
// it serially in platform emission order.
type InboundFunc func(env envelope.Ingress)

// DeliveryResult is a successful synchronous send.
type DeliveryResult struct {
	// PlatformMessageID identifies the sent message on the platform, when the
	// platform reports one.
	PlatformMessageID string
}

// Plugin is the capability set every platform adapter exposes. One instance
// per channel; two instances for the same channel must never run
// concurrently.
type Plugin interface {
	// Tag returns the channel tag the adapter registers under.
	Tag() string

	// DisplayName returns the human-readable platform name.
	DisplayName() string

	// Supported reports whether the adapter can run on this host, with a
	// reason when it cannot.
	Supported() (bool, string)

	// IsAuthenticated is a cheap check of local credential presence. It
	// performs no network I/O.
	IsAuthenticated() bool

	// Login runs the interactive pairing flow. It may render a QR code or
	// prompt and blocks until the human completes the action or ctx fires.
	Login(ctx context.Context) error

	// Start opens the live inbound pipeline and runs until ctx is cancelled
	// (returns nil) or a classified disconnect occurs (returns
	// *DisconnectError). It must not return early otherwise.
	Start(ctx context.Context, onInbound InboundFunc) error

	// Deliver synchronously sends one egress envelope. Failures are
	// *DeliveryError so the dispatcher can tell retryable from permanent.
	Deliver(ctx context.Context, env envelope.Egress) (DeliveryResult, error)

	// Status returns the current connection state.
	Status() ConnState

	// Logout wipes local credentials and releases held resources.
	Logout(ctx context.Context) error
}

// DisconnectReason classifies why an adapter's live session ended.
type DisconnectReason string

const (
	// DisconnectLoggedOut means the platform invalidated the credentials.
	// Fatal: the supervisor moves to revoked instead of retrying.
	DisconnectLoggedOut DisconnectReason = "logged-out"
	// DisconnectReplaced means another device took over the session.
	DisconnectReplaced DisconnectReason = "replaced"
	// DisconnectConnectionLost is a transient transport failure.
	DisconnectConnectionLost DisconnectReason = "connection-lost"
	// DisconnectUnknown is any reason the adapter could not classify.
	DisconnectUnknown DisconnectReason = "unknown"
)

// DisconnectError is returned by Start when the session ended for a
// classified reason.
type DisconnectError struct {
	Reason DisconnectReason
	Err    error
}

func (e *DisconnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("channel disconnected: %s", e.Reason)
	}
	return fmt.Sprintf("channel disconnected (%s): %v", e.Reason, e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// Fatal reports whether the supervisor must stop retrying.
func (e *DisconnectError) Fatal() bool {
	return e.Reason == DisconnectLoggedOut
}

// DeliveryError is a failed send. Retryable tells the cloud whether to
// re-queue the message.
type DeliveryError struct {
	Reason    string
	Retryable bool
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("delivery failed: %s", e.Reason)
	}
	return fmt.Sprintf("delivery failed (%s): %v", e.Reason, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NotAuthenticatedError means the adapter holds no usable credentials; the
// user must run the login flow first.
type NotAuthenticatedError struct {
	Channel string
}

func (e *NotAuthenticatedError) Error() string {
	return fmt.Sprintf("channel %s is not authenticated, run login first", e.Channel)
}

// UnsupportedError means the adapter cannot run on this host.
type UnsupportedError struct {
	Channel string
	Reason  string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("channel %s is not supported on this host: %s", e.Channel, e.Reason)
}
