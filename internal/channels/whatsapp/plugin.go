// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package whatsapp implements the WhatsApp adapter on top of the whatsmeow
// library: QR pairing, a persistent socket session, inbound normalization and
// typed outbound sends. Session credentials live in a sqlite store inside the
// channel credential directory.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	backendhttp "github.com/hyvehq/relay-agent/pkg/backend/http"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/envelope"
	"github.com/hyvehq/relay-agent/pkg/log"
)

var wlog = log.WithComponent("WhatsApp")

const (
	sessionDBName = "session.db"

	// pairingDeadline bounds the whole QR pairing flow.
	pairingDeadline = 3 * time.Minute

	// connectTimeout bounds the wait for the connected event after dialing.
	connectTimeout = 30 * time.Second
)

// Plugin is the WhatsApp channel adapter.
type Plugin struct {
	dataDir string

	lock      sync.Mutex
	state     channel.ConnState
	container *sqlstore.Container
	client    *whatsmeow.Client

	groupLock  sync.Mutex
	groupNames map[types.JID]string
}

// New builds the WhatsApp adapter over the given credential directory.
func New(dataDir string) *Plugin {
	return &Plugin{
		dataDir:    dataDir,
		state:      channel.StateDisconnected,
		groupNames: map[types.JID]string{},
	}
}

func (p *Plugin) Tag() string         { return "whatsapp" }
func (p *Plugin) DisplayName() string { return "WhatsApp" }

func (p *Plugin) Supported() (bool, string) {
	return true, ""
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

// store opens (once) the sqlite session store in the credential directory.
func (p *Plugin) store(ctx context.Context) (*sqlstore.Container, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.container != nil {
		return p.container, nil
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(p.dataDir, sessionDBName))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Noop)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open the whatsapp session store")
	}
	p.container = container
	return container, nil
}

// IsAuthenticated reports whether the session store holds a paired device.
func (p *Plugin) IsAuthenticated() bool {
	container, err := p.store(context.Background())
	if err != nil {
		return false
	}
	device, err := container.GetFirstDevice(context.Background())
	return err == nil && device != nil && device.ID != nil
}

// Login runs the QR pairing flow: print the code, wait for the phone to scan
// within the pairing deadline, then close the session. Auth state persists in
// the session store.
func (p *Plugin) Login(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pairingDeadline)
	defer cancel()

	container, err := p.store(ctx)
	if err != nil {
		return err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to load the whatsapp device")
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	if client.Store.ID != nil {
		wlog.Info("WhatsApp is already paired.")
		return nil
	}

	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to open the pairing channel")
	}
	if err := client.Connect(); err != nil {
		return errors.Wrap(err, "unable to connect for pairing")
	}
	defer client.Disconnect()

	wlog.Info("Scan the QR code from WhatsApp on your phone: Settings > Linked Devices.")
	for {
		select {
		case <-ctx.Done():
			return errors.New("pairing timed out before the code was scanned")
		case item, ok := <-qrChan:
			if !ok {
				return errors.New("pairing channel closed before success")
			}
			switch item.Event {
			case "code":
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stderr)
			case whatsmeow.QRChannelSuccess.Event:
				wlog.Info("WhatsApp paired.")
				return nil
			case whatsmeow.QRChannelTimeout.Event:
				return errors.New("pairing code expired before it was scanned")
			default:
				return errors.Errorf("pairing failed: %s", item.Event)
			}
		}
	}
}

// Start opens a session and blocks until ctx fires (clean return) or a
// classified disconnect occurs. Reconnection policy belongs to the
// supervisor, so the library's automatic reconnect is disabled.
func (p *Plugin) Start(ctx context.Context, onInbound channel.InboundFunc) error {
	p.setState(channel.StateConnecting)
	defer p.setState(channel.StateDisconnected)

	container, err := p.store(ctx)
	if err != nil {
		return &channel.DisconnectError{Reason: channel.DisconnectConnectionLost, Err: err}
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return &channel.DisconnectError{Reason: channel.DisconnectConnectionLost, Err: err}
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.EnableAutoReconnect = false

	connected := make(chan struct{}, 1)
	disconnects := make(chan interface{}, 8)

	handlerID := client.AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Connected:
			select {
			case connected <- struct{}{}:
			default:
			}
		case *events.Message:
			if env, ok := normalizeMessage(v, p.lookupGroupName(client)); ok {
				onInbound(env)
			}
		case *events.LoggedOut, *events.StreamReplaced, *events.Disconnected,
			*events.StreamError, *events.ConnectFailure, *events.TemporaryBan,
			*events.ClientOutdated, *events.CATRefreshError:
			select {
			case disconnects <- evt:
			default:
			}
		}
	})
	defer client.RemoveEventHandler(handlerID)

	if err := client.Connect(); err != nil {
		return &channel.DisconnectError{Reason: channel.DisconnectConnectionLost, Err: err}
	}
	defer client.Disconnect()

	select {
	case <-connected:
	case evt := <-disconnects:
		return &channel.DisconnectError{Reason: classifyDisconnect(evt)}
	case <-time.After(connectTimeout):
		return &channel.DisconnectError{
			Reason: channel.DisconnectConnectionLost,
			Err:    errors.New("no connected event within the dial timeout"),
		}
	case <-ctx.Done():
		return nil
	}

	p.lock.Lock()
	p.client = client
	p.lock.Unlock()
	defer func() {
		p.lock.Lock()
		p.client = nil
		p.lock.Unlock()
	}()

	p.setState(channel.StateConnected)
	wlog.Info("WhatsApp session is live.")

	select {
	case <-ctx.Done():
		return nil
	case evt := <-disconnects:
		reason := classifyDisconnect(evt)
		wlog.WithField("reason", string(reason)).Warn("WhatsApp session ended.")
		return &channel.DisconnectError{Reason: reason}
	}
}

// lookupGroupName resolves group subjects best-effort through a small cache.
func (p *Plugin) lookupGroupName(client *whatsmeow.Client) func(types.JID) string {
	return func(jid types.JID) string {
		p.groupLock.Lock()
		name, ok := p.groupNames[jid]
		p.groupLock.Unlock()
		if ok {
			return name
		}

		info, err := client.GetGroupInfo(context.Background(), jid)
		if err != nil {
			return ""
		}

		p.groupLock.Lock()
		p.groupNames[jid] = info.Name
		p.groupLock.Unlock()
		return info.Name
	}
}

// Deliver sends one egress envelope on the live session.
func (p *Plugin) Deliver(ctx context.Context, env envelope.Egress) (channel.DeliveryResult, error) {
	p.lock.Lock()
	client := p.client
	p.lock.Unlock()
	if client == nil {
		return channel.DeliveryResult{}, &channel.DeliveryError{
			Reason:    "whatsapp session is not connected",
			Retryable: true,
		}
	}

	jid, err := types.ParseJID(env.ConversationID)
	if err != nil {
		return channel.DeliveryResult{}, &channel.DeliveryError{
			Reason:    "invalid conversation id",
			Retryable: false,
			Err:       err,
		}
	}

	msg, err := p.buildMessage(ctx, client, env)
	if err != nil {
		return channel.DeliveryResult{}, err
	}

	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		return channel.DeliveryResult{}, classifySendError(err)
	}
	return channel.DeliveryResult{PlatformMessageID: resp.ID}, nil
}

// buildMessage maps the envelope onto the library's typed message forms.
// Unsupported media kinds fall back to a text send carrying the media URL.
func (p *Plugin) buildMessage(ctx context.Context, client *whatsmeow.Client, env envelope.Egress) (*waE2E.Message, error) {
	text := ToPlatform(env.Text)

	if len(env.Media) == 0 {
		return textMessage(text, env.ReplyToMessageID), nil
	}

	m := env.Media[0]
	switch m.Kind {
	case envelope.MediaImage, envelope.MediaVideo, envelope.MediaAudio, envelope.MediaDocument:
	default:
		// sticker and future kinds downgrade to text
		if text != "" {
			text += "\n"
		}
		return textMessage(text+m.Reference, env.ReplyToMessageID), nil
	}

	data, err := fetchMedia(ctx, m.Reference)
	if err != nil {
		return nil, &channel.DeliveryError{Reason: "unable to fetch egress media", Retryable: true, Err: err}
	}

	uploaded, err := client.Upload(ctx, data, uploadType(m.Kind))
	if err != nil {
		return nil, &channel.DeliveryError{Reason: "media upload failed", Retryable: true, Err: err}
	}

	msg := &waE2E.Message{}
	switch m.Kind {
	case envelope.MediaImage:
		msg.ImageMessage = &waE2E.ImageMessage{
			Caption:       proto.String(text),
			Mimetype:      proto.String(m.MimeType),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}
	case envelope.MediaVideo:
		msg.VideoMessage = &waE2E.VideoMessage{
			Caption:       proto.String(text),
			Mimetype:      proto.String(m.MimeType),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}
	case envelope.MediaAudio:
		msg.AudioMessage = &waE2E.AudioMessage{
			Mimetype:      proto.String(m.MimeType),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}
	case envelope.MediaDocument:
		msg.DocumentMessage = &waE2E.DocumentMessage{
			Caption:       proto.String(text),
			FileName:      proto.String(m.FileName),
			Mimetype:      proto.String(m.MimeType),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}
	}
	return msg, nil
}

func textMessage(text, replyTo string) *waE2E.Message {
	if replyTo == "" {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID: proto.String(replyTo),
			},
		},
	}
}

func uploadType(kind envelope.MediaKind) whatsmeow.MediaType {
	switch kind {
	case envelope.MediaVideo:
		return whatsmeow.MediaVideo
	case envelope.MediaAudio:
		return whatsmeow.MediaAudio
	case envelope.MediaDocument:
		return whatsmeow.MediaDocument
	default:
		return whatsmeow.MediaImage
	}
}

// classifySendError keeps in-flight failures retryable unless the library
// reports a terminal outcome for the recipient or the session.
func classifySendError(err error) *channel.DeliveryError {
	if errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return &channel.DeliveryError{Reason: "session is logged out", Retryable: false, Err: err}
	}
	if errors.Is(err, whatsmeow.ErrBroadcastListUnsupported) {
		return &channel.DeliveryError{Reason: "recipient is not reachable", Retryable: false, Err: err}
	}
	return &channel.DeliveryError{Reason: "send failed", Retryable: true, Err: err}
}

func fetchMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := backendhttp.GetHttpClient(backendhttp.ClientTimeout, http.DefaultTransport)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("media fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Logout invalidates the pairing best-effort and wipes the credential
// directory.
func (p *Plugin) Logout(ctx context.Context) error {
	p.lock.Lock()
	client := p.client
	container := p.container
	p.container = nil
	p.lock.Unlock()

	if client != nil {
		if err := client.Logout(ctx); err != nil {
			wlog.WithError(err).Debug("Error logging the whatsapp session out.")
		}
	}
	if container != nil {
		if err := container.Close(); err != nil {
			wlog.WithError(err).Debug("Error closing the whatsapp session store.")
		}
	}

	if err := os.RemoveAll(p.dataDir); err != nil {
		return errors.Wrap(err, "unable to wipe the whatsapp credential directory")
	}
	return nil
}

var _ channel.Plugin = (*Plugin)(nil)
