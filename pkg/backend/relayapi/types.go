// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package relayapi

import (
	"github.com/hyvehq/relay-agent/pkg/envelope"
)

// DeviceMetadata describes the host a relay runs on. It is sent once during
// activation.
type DeviceMetadata struct {
	OS        string `json:"os"`
	OSVersion string `json:"osVersion,omitempty"`
	Arch      string `json:"arch,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	InstallID string `json:"installId,omitempty"`
}

// StatusSnapshot is the optional liveness payload attached to heartbeats.
type StatusSnapshot struct {
	Version        string `json:"version"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	PlatformStatus string `json:"platformStatus,omitempty"`
}

// StagedMedia points the cloud at media content that was staged ahead of the
// inbound envelope.
type StagedMedia struct {
	Kind      envelope.MediaKind `json:"kind"`
	Reference string             `json:"reference"`
	URL       string             `json:"url"`
}

type RegisterResponse struct {
	RelayID                 string        `json:"relayId"`
	ActivationCode          string        `json:"activationCode"`
	ActivationCodeExpiresAt envelope.Time `json:"activationCodeExpiresAt"`
}

type ActivateResponse struct {
	DeviceToken                 string        `json:"deviceToken"`
	TokenExpiresAt              envelope.Time `json:"tokenExpiresAt"`
	HeartbeatIntervalSeconds    int           `json:"heartbeatIntervalSeconds"`
	OutboundPollIntervalSeconds int           `json:"outboundPollIntervalSeconds"`
}

type HeartbeatResponse struct {
	OK                       bool `json:"ok"`
	HasPendingOutbound       bool `json:"hasPendingOutbound"`
	HeartbeatIntervalSeconds int  `json:"heartbeatIntervalSeconds"`
}

type InboundResponse struct {
	OK         bool   `json:"ok"`
	Dispatched bool   `json:"dispatched"`
	Denied     string `json:"denied,omitempty"`
}

type registerBody struct {
	Channel string `json:"channel"`
	Label   string `json:"label"`
}

type activateBody struct {
	RelayID        string         `json:"relayId"`
	ActivationCode string         `json:"activationCode"`
	Version        string         `json:"version"`
	DeviceMetadata DeviceMetadata `json:"deviceMetadata"`
}

type revokeBody struct {
	RelayID string `json:"relayId"`
	Reason  string `json:"reason,omitempty"`
}

type heartbeatBody struct {
	RelayID string          `json:"relayId"`
	Status  *StatusSnapshot `json:"status,omitempty"`
}

type inboundBody struct {
	RelayID     string           `json:"relayId"`
	Envelope    envelope.Ingress `json:"envelope"`
	StagedMedia []StagedMedia    `json:"stagedMedia,omitempty"`
}

type outboundResponse struct {
	Messages []envelope.Outbound `json:"messages"`
}

type okResponse struct {
	OK bool `json:"ok"`
}
