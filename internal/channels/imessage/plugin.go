// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package imessage implements the iMessage adapter: inbound messages are
// polled from the local Messages database with a monotonic watermark, and
// outbound messages go through the host scripting bridge. The host OS holds
// the credentials; the adapter stores none of its own.
package imessage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hyvehq/relay-agent/pkg/backend/backoff"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/envelope"
	"github.com/hyvehq/relay-agent/pkg/log"
)

var ilog = log.WithComponent("iMessage")

const (
	pollInterval    = 2 * time.Second
	pollBackoffBase = 2 * time.Second
	pollBackoffCap  = 60 * time.Second
)

// Plugin is the iMessage channel adapter.
type Plugin struct {
	dbPath string

	lock  sync.Mutex
	state channel.ConnState
}

// New builds the adapter over the default Messages database location.
func New() (*Plugin, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve the user home directory")
	}
	return NewWithPath(filepath.Join(home, "Library", "Messages", "chat.db")), nil
}

// NewWithPath builds the adapter over an explicit database path.
func NewWithPath(dbPath string) *Plugin {
	return &Plugin{dbPath: dbPath, state: channel.StateDisconnected}
}

func (p *Plugin) Tag() string         { return "imessage" }
func (p *Plugin) DisplayName() string { return "iMessage" }

func (p *Plugin) Supported() (bool, string) {
	if runtime.GOOS != "darwin" {
		return false, "iMessage relies on the Messages database and scripting bridge, which exist only on macOS"
	}
	return true, ""
}

// IsAuthenticated reports whether the local store is readable. The host OS
// owns the account; no credential material of our own exists.
func (p *Plugin) IsAuthenticated() bool {
	f, err := os.Open(p.dbPath)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// Login is informational: it verifies store presence and read permission and
// tells the user how to grant access when it is missing.
func (p *Plugin) Login(ctx context.Context) error {
	f, err := os.Open(p.dbPath)
	if err == nil {
		_ = f.Close()
		ilog.Info("Messages database is readable, nothing else to set up.")
		return nil
	}

	if os.IsNotExist(err) {
		return errors.Errorf("Messages database not found at %s: sign into Messages on this Mac first", p.dbPath)
	}
	if os.IsPermission(err) {
		return errors.New("no permission to read the Messages database: grant Full Disk Access to this terminal under System Settings > Privacy & Security, then retry")
	}
	return errors.Wrap(err, "unable to open the Messages database")
}

func (p *Plugin) Status() channel.ConnState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

func (p *Plugin) setState(s channel.ConnState) {
	p.lock.Lock()
	p.state = s
	p.lock.Unlock()
}

// Start polls the store every 2 s and emits an envelope per new inbound row.
// Consecutive poll failures back off exponentially and reset on success.
func (p *Plugin) Start(ctx context.Context, onInbound channel.InboundFunc) error {
	p.setState(channel.StateConnecting)
	defer p.setState(channel.StateDisconnected)

	st, err := openStore(p.dbPath)
	if err != nil {
		return &channel.DisconnectError{Reason: channel.DisconnectConnectionLost, Err: err}
	}
	defer func() {
		if err := st.close(); err != nil {
			ilog.WithError(err).Debug("Error closing the message store.")
		}
	}()

	p.setState(channel.StateConnected)
	ilog.WithField("watermark", st.watermark).Debug("Watching the Messages database.")

	bo := backoff.New(pollBackoffBase, pollBackoffCap)
	for {
		envs, err := st.poll()
		if err != nil {
			delay := bo.Duration()
			ilog.WithError(err).WithField("retryIn", delay.String()).Warn("Message store poll failed.")
			if err := backoff.Sleep(ctx, delay); err != nil {
				return nil
			}
			continue
		}
		bo.Reset()

		for _, env := range envs {
			onInbound(env)
		}

		if err := backoff.Sleep(ctx, pollInterval); err != nil {
			return nil
		}
	}
}

// Deliver sends one egress envelope through the scripting bridge. Media is
// downgraded to its URL appended to the text: the bridge cannot attach
// remote files directly.
func (p *Plugin) Deliver(ctx context.Context, env envelope.Egress) (channel.DeliveryResult, error) {
	text := env.Text
	for _, m := range env.Media {
		if text != "" {
			text += "\n"
		}
		text += m.Reference
	}

	if err := runScript(ctx, buildSendScript(env.ConversationID, text)); err != nil {
		return channel.DeliveryResult{}, err
	}

	// The scripting bridge reports no message identifier.
	return channel.DeliveryResult{}, nil
}

// Logout releases nothing: the host OS owns the credentials.
func (p *Plugin) Logout(ctx context.Context) error {
	return nil
}

var _ channel.Plugin = (*Plugin)(nil)
