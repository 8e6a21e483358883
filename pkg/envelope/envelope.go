// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package envelope defines the neutral message representation exchanged
// between the platform adapters and the cloud gateway. The JSON shapes here
// are wire-format commitments.
package envelope

// MediaKind enumerates the media types an envelope may carry.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

// Media describes one attachment. Reference is an opaque platform identifier
// on ingress and a fetchable absolute URL on egress.
type Media struct {
	Kind      MediaKind `json:"kind"`
	Reference string    `json:"reference"`
	MimeType  string    `json:"mimeType,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
	Size      int64     `json:"size,omitempty"`
}

// Ingress is a platform-originated message on its way to the cloud.
type Ingress struct {
	Channel           string   `json:"channel"`
	PlatformMessageID string   `json:"platformMessageId"`
	ConversationID    string   `json:"conversationId"`
	ThreadID          string   `json:"threadId,omitempty"`
	PeerID            string   `json:"peerId"`
	PeerName          string   `json:"peerName,omitempty"`
	Text              string   `json:"text"`
	Media             []Media  `json:"media,omitempty"`
	IsGroup           bool     `json:"isGroup"`
	GroupName         string   `json:"groupName,omitempty"`
	Timestamp         Time     `json:"timestamp"`
	ReplyToMessageID  string   `json:"replyToMessageId,omitempty"`
	Mentions          []string `json:"mentions,omitempty"`
}

// Egress is a cloud-originated reply on its way back onto a platform.
type Egress struct {
	Channel          string  `json:"channel"`
	ConversationID   string  `json:"conversationId"`
	ThreadID         string  `json:"threadId,omitempty"`
	Text             string  `json:"text"`
	Media            []Media `json:"media,omitempty"`
	ReplyToMessageID string  `json:"replyToMessageId,omitempty"`
}

// Outbound is one queued cloud-side message as seen via poll. The agent acks
// each ID exactly once; duplicate polls return the same ID until acked.
type Outbound struct {
	ID       string `json:"id"`
	Envelope Egress `json:"envelope"`
	QueuedAt Time   `json:"queuedAt"`
	Priority int    `json:"priority"`
	Attempts int    `json:"attempts"`
}

// Ack reports the outcome of one delivery attempt. Retryable differentiates
// transient failures (the cloud re-queues) from permanent ones (the cloud
// marks failed).
type Ack struct {
	OutboundMessageID string `json:"outboundMessageId"`
	Success           bool   `json:"success"`
	PlatformMessageID string `json:"platformMessageId,omitempty"`
	Error             string `json:"error,omitempty"`
	Retryable         *bool  `json:"retryable,omitempty"`
	DurationMs        int64  `json:"durationMs"`
}
