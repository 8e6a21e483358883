// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package signald

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	backendhttp "github.com/hyvehq/relay-agent/pkg/backend/http"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/envelope"
)

// Send result kinds reported per recipient by the daemon.
const (
	resultSuccess           = "SUCCESS"
	resultNetworkFailure    = "NETWORK_FAILURE"
	resultUnregistered      = "UNREGISTERED_FAILURE"
	resultIdentityFailure   = "IDENTITY_FAILURE"
	resultProofRequired     = "PROOF_REQUIRED_FAILURE"
)

type sendParams struct {
	Recipient   []string `json:"recipient,omitempty"`
	GroupID     string   `json:"groupId,omitempty"`
	Message     string   `json:"message"`
	Attachments []string `json:"attachments,omitempty"`
}

type sendRecipientResult struct {
	Type string `json:"type"`
}

type sendResult struct {
	Timestamp int64                 `json:"timestamp"`
	Results   []sendRecipientResult `json:"results"`
}

// Deliver routes one egress envelope through the daemon's send method. A
// conversation id with the group prefix becomes a group send, anything else a
// direct send.
func (p *Plugin) Deliver(ctx context.Context, env envelope.Egress) (channel.DeliveryResult, error) {
	params := sendParams{Message: env.Text}
	if gid, ok := strings.CutPrefix(env.ConversationID, groupPrefix); ok {
		params.GroupID = gid
	} else {
		params.Recipient = []string{env.ConversationID}
	}

	attachments, cleanup, err := stageAttachments(ctx, env.Media)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return channel.DeliveryResult{}, &channel.DeliveryError{
			Reason:    "unable to stage attachments",
			Retryable: true,
			Err:       err,
		}
	}
	params.Attachments = attachments

	var result sendResult
	if err := p.rpc.Call(ctx, "send", params, &result); err != nil {
		return channel.DeliveryResult{}, classifySendError(err)
	}

	for _, r := range result.Results {
		if r.Type != resultSuccess {
			return channel.DeliveryResult{}, mapResultFailure(r.Type)
		}
	}

	return channel.DeliveryResult{PlatformMessageID: platformMessageID(result.Timestamp)}, nil
}

// classifySendError separates daemon rejections (permanent) from transport
// failures (retryable).
func classifySendError(err error) *channel.DeliveryError {
	if rpcErr, ok := err.(*RPCError); ok {
		return &channel.DeliveryError{
			Reason:    rpcErr.Message,
			Retryable: false,
			Err:       rpcErr,
		}
	}
	return &channel.DeliveryError{
		Reason:    "daemon unreachable",
		Retryable: true,
		Err:       err,
	}
}

// mapResultFailure maps per-recipient failure kinds onto the retryability
// contract: only network failures may be retried.
func mapResultFailure(kind string) *channel.DeliveryError {
	switch kind {
	case resultNetworkFailure:
		return &channel.DeliveryError{Reason: "signal network failure", Retryable: true}
	case resultUnregistered:
		return &channel.DeliveryError{Reason: "recipient is not on signal", Retryable: false}
	case resultIdentityFailure:
		return &channel.DeliveryError{Reason: "recipient identity changed", Retryable: false}
	case resultProofRequired:
		return &channel.DeliveryError{Reason: "rate-limit proof required", Retryable: false}
	default:
		return &channel.DeliveryError{Reason: fmt.Sprintf("send failed: %s", kind), Retryable: false}
	}
}

// stageAttachments downloads egress media to temporary files the daemon can
// read. The cleanup func removes them after the send.
func stageAttachments(ctx context.Context, media []envelope.Media) (paths []string, cleanup func(), err error) {
	if len(media) == 0 {
		return nil, nil, nil
	}

	dir, err := os.MkdirTemp("", "hyve-relay-signal-")
	if err != nil {
		return nil, nil, err
	}
	cleanup = func() { _ = os.RemoveAll(dir) }

	client := backendhttp.GetHttpClient(backendhttp.ClientTimeout, http.DefaultTransport)
	for i, m := range media {
		name := m.FileName
		if name == "" {
			name = fmt.Sprintf("attachment-%d", i)
		}
		path := filepath.Join(dir, name)

		if err := fetchTo(ctx, client, m.Reference, path); err != nil {
			return nil, cleanup, err
		}
		paths = append(paths, path)
	}
	return paths, cleanup, nil
}

func fetchTo(ctx context.Context, client *http.Client, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
