// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package signald

import (
	"bytes"
	"strings"
)

// StreamEvent is one parsed server-sent event.
type StreamEvent struct {
	Type string
	Data string
}

// StreamParser incrementally extracts server-sent events from a byte stream.
// Bytes are never dropped across reads: a trailing partial block stays in the
// buffer until the next Feed call completes it.
type StreamParser struct {
	buf []byte
}

// Feed appends chunk to the internal buffer and returns every complete event
// it now contains. Events are delimited by blank lines; within an event,
// data: lines are coalesced with a newline separator, lines starting with ':'
// are comments and ignored, and the event type defaults to "message" when no
// event: line is present.
func (p *StreamParser) Feed(chunk []byte) []StreamEvent {
	p.buf = append(p.buf, chunk...)

	var events []StreamEvent
	for {
		block, rest, found := cutBlock(p.buf)
		if !found {
			break
		}
		p.buf = rest

		if evt, ok := parseBlock(block); ok {
			events = append(events, evt)
		}
	}
	return events
}

// Buffered returns the bytes still waiting for a block delimiter.
func (p *StreamParser) Buffered() []byte {
	return p.buf
}

// cutBlock splits off the first blank-line-terminated block. CRLF framing is
// accepted alongside plain LF; whichever delimiter occurs earliest wins, so a
// stream mixing both framings never merges adjacent blocks.
func cutBlock(buf []byte) (block, rest []byte, found bool) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return nil, buf, false
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return buf[:crlf], buf[crlf+4:], true
	default:
		return buf[:lf], buf[lf+2:], true
	}
}

func parseBlock(block []byte) (StreamEvent, bool) {
	evt := StreamEvent{Type: "message"}

	var dataLines []string
	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			evt.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if len(dataLines) == 0 {
		return StreamEvent{}, false
	}
	evt.Data = strings.Join(dataLines, "\n")
	return evt, true
}
