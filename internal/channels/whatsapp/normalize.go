// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package whatsapp

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/hyvehq/relay-agent/pkg/envelope"
)

// normalizeMessage converts one incoming platform message into an ingress
// envelope. Own-sent messages, status broadcasts and messages without any
// usable content are dropped (zero, false). Media bytes are never downloaded;
// descriptors carry the platform identifiers only.
func normalizeMessage(evt *events.Message, groupName func(types.JID) string) (envelope.Ingress, bool) {
	if evt.Info.IsFromMe {
		return envelope.Ingress{}, false
	}
	if evt.Info.Chat == types.StatusBroadcastJID {
		return envelope.Ingress{}, false
	}

	msg := evt.Message
	if msg == nil {
		return envelope.Ingress{}, false
	}

	text, ctxInfo := richestText(msg)
	media := mediaDescriptors(msg, evt.Info.ID)
	if text == "" && len(media) == 0 {
		return envelope.Ingress{}, false
	}

	env := envelope.Ingress{
		Channel:           "whatsapp",
		PlatformMessageID: evt.Info.ID,
		ConversationID:    evt.Info.Chat.String(),
		PeerID:            evt.Info.Sender.ToNonAD().String(),
		PeerName:          evt.Info.PushName,
		Text:              ToCanonical(text),
		Media:             media,
		IsGroup:           evt.Info.IsGroup,
		Timestamp:         envelope.Time(evt.Info.Timestamp.UTC()),
	}

	if env.IsGroup && groupName != nil {
		env.GroupName = groupName(evt.Info.Chat)
	}

	if ctxInfo != nil {
		env.ReplyToMessageID = ctxInfo.GetStanzaID()
		env.Mentions = ctxInfo.GetMentionedJID()
	}

	return env, true
}

// richestText extracts the message text from the richest field that carries
// it: plain conversation, extended text, then media captions.
func richestText(msg *waE2E.Message) (string, *waE2E.ContextInfo) {
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText(), ext.GetContextInfo()
	}
	if text := msg.GetConversation(); text != "" {
		return text, nil
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption(), img.GetContextInfo()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption(), vid.GetContextInfo()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption(), doc.GetContextInfo()
	}
	if aud := msg.GetAudioMessage(); aud != nil {
		return "", aud.GetContextInfo()
	}
	if stk := msg.GetStickerMessage(); stk != nil {
		return "", stk.GetContextInfo()
	}
	return "", nil
}

// mediaDescriptors builds the descriptor list for a message. The reference is
// the platform message id: the cloud fetches bytes through its own pipeline.
func mediaDescriptors(msg *waE2E.Message, messageID string) []envelope.Media {
	if img := msg.GetImageMessage(); img != nil {
		return []envelope.Media{{
			Kind:      envelope.MediaImage,
			Reference: messageID,
			MimeType:  img.GetMimetype(),
			Size:      int64(img.GetFileLength()),
		}}
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return []envelope.Media{{
			Kind:      envelope.MediaVideo,
			Reference: messageID,
			MimeType:  vid.GetMimetype(),
			Size:      int64(vid.GetFileLength()),
		}}
	}
	if aud := msg.GetAudioMessage(); aud != nil {
		return []envelope.Media{{
			Kind:      envelope.MediaAudio,
			Reference: messageID,
			MimeType:  aud.GetMimetype(),
			Size:      int64(aud.GetFileLength()),
		}}
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return []envelope.Media{{
			Kind:      envelope.MediaDocument,
			Reference: messageID,
			MimeType:  doc.GetMimetype(),
			FileName:  doc.GetFileName(),
			Size:      int64(doc.GetFileLength()),
		}}
	}
	if stk := msg.GetStickerMessage(); stk != nil {
		return []envelope.Media{{
			Kind:      envelope.MediaSticker,
			Reference: messageID,
			MimeType:  stk.GetMimetype(),
			Size:      int64(stk.GetFileLength()),
		}}
	}
	return nil
}
