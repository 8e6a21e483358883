// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package signald

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyvehq/relay-agent/pkg/envelope"
)

func TestNormalizeDirectMessage(t *testing.T) {
	data := []byte(`{"envelope":{
		"source":"+1555","sourceName":"Alice","timestamp":1700000000000,
		"dataMessage":{"message":"hi","timestamp":1700000000000}
	}}`)

	env, ok := normalizeEvent(data)
	require.True(t, ok)
	assert.Equal(t, "signal", env.Channel)
	assert.Equal(t, "sig-1700000000000", env.PlatformMessageID)
	assert.Equal(t, "+1555", env.ConversationID)
	assert.Equal(t, "+1555", env.PeerID)
	assert.Equal(t, "Alice", env.PeerName)
	assert.Equal(t, "hi", env.Text)
	assert.False(t, env.IsGroup)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", env.Timestamp.String())
}

func TestNormalizeGroupMessage(t *testing.T) {
	data := []byte(`{"envelope":{
		"source":"+1555","timestamp":1700000000000,
		"dataMessage":{"message":"hello group","timestamp":1700000000000,
			"groupInfo":{"groupId":"abc123","groupName":"Friends"}}
	}}`)

	env, ok := normalizeEvent(data)
	require.True(t, ok)
	assert.True(t, env.IsGroup)
	assert.Equal(t, "group.abc123", env.ConversationID)
	assert.Equal(t, "Friends", env.GroupName)
	assert.Equal(t, "+1555", env.PeerID, "peer stays the individual sender")
}

func TestNormalizeAttachments(t *testing.T) {
	data := []byte(`{"envelope":{
		"source":"+1555","timestamp":1700000000000,
		"dataMessage":{"message":"","timestamp":1700000000000,
			"attachments":[
				{"contentType":"image/jpeg","filename":"cat.jpg","id":"att-1","size":1024},
				{"contentType":"application/pdf","filename":"doc.pdf","id":"att-2","size":2048}
			]}
	}}`)

	env, ok := normalizeEvent(data)
	require.True(t, ok)
	require.Len(t, env.Media, 2)
	assert.Equal(t, envelope.MediaImage, env.Media[0].Kind)
	assert.Equal(t, "att-1", env.Media[0].Reference)
	assert.Equal(t, "cat.jpg", env.Media[0].FileName)
	assert.Equal(t, envelope.MediaDocument, env.Media[1].Kind)
}

func TestNormalizeQuoteAndMentions(t *testing.T) {
	data := []byte(`{"envelope":{
		"source":"+1555","timestamp":1700000000000,
		"dataMessage":{"message":"re: that","timestamp":1700000000000,
			"quote":{"id":1699999999000},
			"mentions":[{"number":"+1666"}]}
	}}`)

	env, ok := normalizeEvent(data)
	require.True(t, ok)
	assert.Equal(t, "sig-1699999999000", env.ReplyToMessageID)
	assert.Equal(t, []string{"+1666"}, env.Mentions)
}

func TestNormalizeDropsNonDataMessages(t *testing.T) {
	cases := map[string]string{
		"receipt": `{"envelope":{"source":"+1555","timestamp":1,"receiptMessage":{"when":1}}}`,
		"typing":  `{"envelope":{"source":"+1555","timestamp":1,"typingMessage":{"action":"STARTED"}}}`,
		"reaction": `{"envelope":{"source":"+1555","timestamp":1,
			"dataMessage":{"message":"","timestamp":1,"reaction":{"emoji":"x"}}}}`,
		"empty data message": `{"envelope":{"source":"+1555","timestamp":1,
			"dataMessage":{"message":"","timestamp":1}}}`,
		"garbage": `not json`,
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := normalizeEvent([]byte(data))
			assert.False(t, ok)
		})
	}
}

func TestNormalizeFallsBackToEnvelopeTimestamp(t *testing.T) {
	data := []byte(`{"envelope":{
		"source":"+1555","timestamp":1700000000000,
		"dataMessage":{"message":"hi"}
	}}`)

	env, ok := normalizeEvent(data)
	require.True(t, ok)
	assert.Equal(t, "sig-1700000000000", env.PlatformMessageID)
}
