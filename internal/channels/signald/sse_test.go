// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package signald

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamParserSingleEvent(t *testing.T) {
	p := &StreamParser{}

	events := p.Feed([]byte("event: receive\ndata: {\"a\":1}\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "receive", events[0].Type)
	assert.Equal(t, `{"a":1}`, events[0].Data)
	assert.Empty(t, p.Buffered())
}

func TestStreamParserDefaultsTypeToMessage(t *testing.T) {
	p := &StreamParser{}

	events := p.Feed([]byte("data: hello\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "message", events[0].Type)
	assert.Equal(t, "hello", events[0].Data)
}

func TestStreamParserPartialBlockStaysBuffered(t *testing.T) {
	p := &StreamParser{}

	events := p.Feed([]byte("data: part"))
	assert.Empty(t, events)
	assert.Equal(t, "data: part", string(p.Buffered()))

	events = p.Feed([]byte("ial\n\ndata: next"))
	require.Len(t, events, 1)
	assert.Equal(t, "partial", events[0].Data)
	assert.Equal(t, "data: next", string(p.Buffered()))
}

func TestStreamParserMultiDataJoinedWithNewline(t *testing.T) {
	p := &StreamParser{}

	events := p.Feed([]byte("data: line1\ndata: line2\ndata: line3\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "line1\nline2\nline3", events[0].Data)
}

func TestStreamParserIgnoresComments(t *testing.T) {
	p := &StreamParser{}

	events := p.Feed([]byte(": keepalive\n\n: another\ndata: real\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "real", events[0].Data)
}

func TestStreamParserMultipleEventsInOneChunk(t *testing.T) {
	p := &StreamParser{}

	events := p.Feed([]byte("data: one\n\ndata: two\n\ndata: three\n\n"))
	require.Len(t, events, 3)
	assert.Equal(t, "one", events[0].Data)
	assert.Equal(t, "two", events[1].Data)
	assert.Equal(t, "three", events[2].Data)
}

func TestStreamParserCRLFFraming(t *testing.T) {
	p := &StreamParser{}

	events := p.Feed([]byte("event: receive\r\ndata: x\r\n\r\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "receive", events[0].Type)
	assert.Equal(t, "x", events[0].Data)
}

func TestStreamParserMixedFramingInOneChunk(t *testing.T) {
	p := &StreamParser{}

	// A CRLF-framed event followed by an LF-framed one must stay two events,
	// regardless of which delimiter appears first in the buffer.
	events := p.Feed([]byte("data: crlf\r\n\r\ndata: lf\n\n"))
	require.Len(t, events, 2)
	assert.Equal(t, "crlf", events[0].Data)
	assert.Equal(t, "lf", events[1].Data)

	events = p.Feed([]byte("data: lf\n\ndata: crlf\r\n\r\n"))
	require.Len(t, events, 2)
	assert.Equal(t, "lf", events[0].Data)
	assert.Equal(t, "crlf", events[1].Data)
}

func TestStreamParserByteAtATime(t *testing.T) {
	p := &StreamParser{}

	input := "event: receive\ndata: abc\n\n"
	var events []StreamEvent
	for i := 0; i < len(input); i++ {
		events = append(events, p.Feed([]byte{input[i]})...)
	}
	require.Len(t, events, 1)
	assert.Equal(t, "receive", events[0].Type)
	assert.Equal(t, "abc", events[0].Data)
}
