// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyvehq/relay-agent/internal/agent"
	"github.com/hyvehq/relay-agent/pkg/backend/relayapi"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/config"
)

func testServer(t *testing.T) (*Server, func()) {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Channel = "whatsapp"
	cfg.RelayID = "r-1"
	cfg.DeviceToken = "tok-1"
	cfg.Status.Port = 0 // ephemeral

	client := relayapi.NewClient("http://localhost", "test", func(*http.Request) (*http.Response, error) {
		return nil, errors.New("no network in tests")
	})
	supervisor := agent.NewSupervisor(cfg, client, channel.NewRegistry(), "1.2.3")
	server := NewServer(cfg, supervisor, "1.2.3")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !server.Ready() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, server.Ready(), "status API did not come up")

	return server, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("status API did not shut down")
		}
	}
}

func TestStatusReport(t *testing.T) {
	server, stop := testServer(t)
	defer stop()

	resp, err := http.Get(fmt.Sprintf("http://%s/v1/status", server.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "idle", report.State)
	assert.Equal(t, "whatsapp", report.Channel)
	assert.Equal(t, "r-1", report.RelayID)
	assert.Equal(t, channel.StateDisconnected, report.Connection)
	assert.Equal(t, "1.2.3", report.Version)
}

func TestHealthReportsUnavailableWhenNotRunning(t *testing.T) {
	server, stop := testServer(t)
	defer stop()

	resp, err := http.Get(fmt.Sprintf("http://%s/v1/status/health", server.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Healthy bool   `json:"healthy"`
		State   string `json:"state"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Healthy)
	assert.Equal(t, "idle", body.State)
}

func TestUnknownPathIs404(t *testing.T) {
	server, stop := testServer(t)
	defer stop()

	resp, err := http.Get(fmt.Sprintf("http://%s/v1/metrics", server.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
