// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package signald

import (
	"encoding/json"
	"fmt"

	"github.com/hyvehq/relay-agent/pkg/envelope"
)

// groupPrefix marks a conversation id as a group chat. Deliver routes on it.
const groupPrefix = "group."

// wireEnvelope is the daemon's receive payload: one Signal protocol envelope
// wrapping an optional data message.
type wireEnvelope struct {
	Envelope struct {
		Source     string `json:"source"`
		SourceName string `json:"sourceName"`
		Timestamp  int64  `json:"timestamp"`

		DataMessage *wireDataMessage `json:"dataMessage"`

		// Receipts, typing indicators and sync messages arrive on the same
		// stream; their presence marks the envelope as not-a-message.
		ReceiptMessage json.RawMessage `json:"receiptMessage"`
		TypingMessage  json.RawMessage `json:"typingMessage"`
	} `json:"envelope"`
}

type wireDataMessage struct {
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
	GroupInfo   *wireGroupInfo `json:"groupInfo"`
	Attachments []wireAttachment `json:"attachments"`
	Quote       *struct {
		ID int64 `json:"id"`
	} `json:"quote"`
	Mentions []struct {
		Number string `json:"number"`
	} `json:"mentions"`
	Reaction json.RawMessage `json:"reaction"`
}

type wireGroupInfo struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
}

type wireAttachment struct {
	ContentType string `json:"contentType"`
	Filename    string `json:"filename"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
}

// normalizeEvent converts one SSE receive payload into an ingress envelope.
// Only data messages carrying text or attachments pass; reactions, receipts
// and typing indicators yield (zero, false).
func normalizeEvent(data []byte) (envelope.Ingress, bool) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return envelope.Ingress{}, false
	}

	dm := wire.Envelope.DataMessage
	if dm == nil || dm.Reaction != nil {
		return envelope.Ingress{}, false
	}
	if dm.Message == "" && len(dm.Attachments) == 0 {
		return envelope.Ingress{}, false
	}

	ts := dm.Timestamp
	if ts == 0 {
		ts = wire.Envelope.Timestamp
	}

	env := envelope.Ingress{
		Channel:           "signal",
		PlatformMessageID: platformMessageID(ts),
		ConversationID:    wire.Envelope.Source,
		PeerID:            wire.Envelope.Source,
		PeerName:          wire.Envelope.SourceName,
		Text:              dm.Message,
		Timestamp:         envelope.FromUnixMilli(ts),
	}

	if gi := dm.GroupInfo; gi != nil {
		env.IsGroup = true
		env.ConversationID = groupPrefix + gi.GroupID
		env.GroupName = gi.GroupName
	}

	for _, att := range dm.Attachments {
		env.Media = append(env.Media, envelope.Media{
			Kind:      kindFromContentType(att.ContentType),
			Reference: att.ID,
			MimeType:  att.ContentType,
			FileName:  att.Filename,
			Size:      att.Size,
		})
	}

	if dm.Quote != nil {
		env.ReplyToMessageID = platformMessageID(dm.Quote.ID)
	}
	for _, m := range dm.Mentions {
		env.Mentions = append(env.Mentions, m.Number)
	}

	return env, true
}

// platformMessageID derives the channel-unique message id from the Signal
// protocol timestamp, which identifies a message on this platform.
func platformMessageID(ts int64) string {
	return fmt.Sprintf("sig-%d", ts)
}

func kindFromContentType(contentType string) envelope.MediaKind {
	switch {
	case len(contentType) >= 6 && contentType[:6] == "image/":
		return envelope.MediaImage
	case len(contentType) >= 6 && contentType[:6] == "video/":
		return envelope.MediaVideo
	case len(contentType) >= 6 && contentType[:6] == "audio/":
		return envelope.MediaAudio
	default:
		return envelope.MediaDocument
	}
}
