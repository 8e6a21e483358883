// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempAgentDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "agent")
	t.Setenv("HYVE_RELAY_DIR", dir)
	return dir
}

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	tempAgentDir(t)

	cfg := LoadConfig()
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, "https://gateway.hyve.dev", cfg.Server.BaseURL)
	assert.Equal(t, 30, cfg.Heartbeat.IntervalSeconds)
	assert.Equal(t, 5, cfg.Outbound.PollIntervalSeconds)
	assert.Equal(t, 3, cfg.Outbound.MaxPerPoll)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Activated())
}

func TestLoadConfigMergesPartialDocument(t *testing.T) {
	dir := tempAgentDir(t)
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName),
		[]byte(`{"channel":"signal","outbound":{"pollIntervalSeconds":10}}`), 0600))

	cfg := LoadConfig()
	assert.Equal(t, "signal", cfg.Channel)
	assert.Equal(t, 10, cfg.Outbound.PollIntervalSeconds)
	// absent fields keep defaults
	assert.Equal(t, 3, cfg.Outbound.MaxPerPoll)
	assert.Equal(t, 30, cfg.Heartbeat.IntervalSeconds)
}

func TestLoadConfigCorruptFallsBackToDefaults(t *testing.T) {
	dir := tempAgentDir(t)
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{not json`), 0600))

	cfg := LoadConfig()
	assert.Equal(t, "https://gateway.hyve.dev", cfg.Server.BaseURL)
	assert.Empty(t, cfg.Channel)
}

func TestSaveConfigPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX file modes")
	}
	dir := tempAgentDir(t)

	cfg := NewConfig()
	cfg.Channel = "signal"
	require.NoError(t, cfg.SetCredentials("r1", "dt1"))
	require.NoError(t, SaveConfig(cfg))

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fileInfo.Mode().Perm())
}

func TestSaveConfigTightensPreexistingDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX file modes")
	}
	dir := tempAgentDir(t)
	require.NoError(t, os.MkdirAll(dir, 0755))

	require.NoError(t, SaveConfig(NewConfig()))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestChannelDirTightensPreexistingDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX file modes")
	}
	dir := tempAgentDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "signal"), 0755))

	channelDir, err := ChannelDir("signal")
	require.NoError(t, err)

	info, err := os.Stat(channelDir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := tempAgentDir(t)

	cfg := NewConfig()
	cfg.Channel = "signal"
	require.NoError(t, cfg.SetCredentials("r1", "dt1"))
	require.NoError(t, SaveConfig(cfg))

	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)

	var onDisk map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, "signal", onDisk["channel"])
	assert.Equal(t, "r1", onDisk["relayId"])
	assert.Equal(t, "dt1", onDisk["deviceToken"])
	assert.NotEmpty(t, onDisk["installId"], "installId is generated on first save")

	loaded := LoadConfig()
	assert.True(t, loaded.Activated())
	assert.Equal(t, cfg.InstallID, loaded.InstallID)
}

func TestInstallIDIsStable(t *testing.T) {
	tempAgentDir(t)

	cfg := NewConfig()
	require.NoError(t, SaveConfig(cfg))
	first := cfg.InstallID
	require.NotEmpty(t, first)

	require.NoError(t, SaveConfig(cfg))
	assert.Equal(t, first, cfg.InstallID)
}

func TestSetCredentialsBothOrNeither(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.SetCredentials("r1", ""))
	assert.Error(t, cfg.SetCredentials("", "dt1"))
	assert.NoError(t, cfg.SetCredentials("r1", "dt1"))
	assert.NoError(t, cfg.SetCredentials("", ""))
	assert.False(t, cfg.Activated())
}

func TestValidate(t *testing.T) {
	cfg := NewConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Server.BaseURL = "gateway.hyve.dev"
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Channel = "telegram"
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Reconnect.InitialDelayMs = 5000
	cfg.Reconnect.MaxDelayMs = 1000
	assert.Error(t, cfg.Validate())
}

func TestNormalizeClampsValues(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "TRACE"
	cfg.Reconnect.InitialDelayMs = 2000
	cfg.Reconnect.MaxDelayMs = 500
	cfg.normalize()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30, cfg.Heartbeat.IntervalSeconds)
	assert.Equal(t, 2000, cfg.Reconnect.MaxDelayMs, "max clamps up to initial")
}

func TestEnvOverrides(t *testing.T) {
	tempAgentDir(t)
	t.Setenv("HYVE_RELAY_AUTH_TOKEN", "user-tok-A")
	t.Setenv("HYVE_RELAY_LOG_LEVEL", "debug")

	cfg := LoadConfig()
	assert.Equal(t, "user-tok-A", cfg.AuthToken)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestChannelDirCreatedOnDemand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX file modes")
	}
	dir := tempAgentDir(t)

	channelDir, err := ChannelDir("signal")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "signal"), channelDir)

	info, err := os.Stat(channelDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}
