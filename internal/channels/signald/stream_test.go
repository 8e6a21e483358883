// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package signald

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyvehq/relay-agent/pkg/envelope"
)

func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		for _, data := range events {
			fmt.Fprintf(w, "event: receive\ndata: %s\n\n", data)
			flusher.Flush()
		}
		// handler returns: the stream closes, as a dropped connection would.
	}))
}

func TestConsumeStreamForwardsEvents(t *testing.T) {
	receive := `{"envelope":{"source":"+1555","timestamp":1700000000000,"dataMessage":{"message":"hi","timestamp":1700000000000}}}`
	receipt := `{"envelope":{"source":"+1555","timestamp":1,"receiptMessage":{"when":1}}}`

	ts := sseServer(t, []string{receive, receipt, receive})
	defer ts.Close()

	p := New(t.TempDir())
	p.eventsURL = ts.URL

	var got []envelope.Ingress
	healthy, err := p.consumeStream(context.Background(), func(env envelope.Ingress) {
		got = append(got, env)
	})

	require.Error(t, err, "a finished stream surfaces its read error")
	assert.True(t, healthy)
	require.Len(t, got, 2, "receipts are dropped")
	assert.Equal(t, "hi", got[0].Text)
	assert.Equal(t, "sig-1700000000000", got[0].PlatformMessageID)
}

func TestConsumeStreamCoalescesSplitDataLines(t *testing.T) {
	// A payload spread over several data: lines arrives joined with newlines,
	// which is still valid JSON whitespace.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: receive\n")
		fmt.Fprint(w, `data: {"envelope":{"source":"+1555","timestamp":42,`+"\n")
		fmt.Fprint(w, `data: "dataMessage":{"message":"hi","timestamp":42}}}`+"\n\n")
	}))
	defer ts.Close()

	p := New(t.TempDir())
	p.eventsURL = ts.URL

	var got []envelope.Ingress
	healthy, err := p.consumeStream(context.Background(), func(env envelope.Ingress) {
		got = append(got, env)
	})

	require.Error(t, err)
	assert.True(t, healthy)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Text)
	assert.Equal(t, "sig-42", got[0].PlatformMessageID)
}

func TestConsumeStreamUnhealthyWhenNoEvents(t *testing.T) {
	ts := sseServer(t, nil)
	defer ts.Close()

	p := New(t.TempDir())
	p.eventsURL = ts.URL

	healthy, err := p.consumeStream(context.Background(), func(envelope.Ingress) {
		t.Fatal("no envelope expected")
	})
	require.Error(t, err)
	assert.False(t, healthy)
}

func TestConsumeStreamNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	p := New(t.TempDir())
	p.eventsURL = ts.URL

	healthy, err := p.consumeStream(context.Background(), func(envelope.Ingress) {})
	require.Error(t, err)
	assert.False(t, healthy)
}
