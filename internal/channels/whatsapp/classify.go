// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package whatsapp

import (
	"go.mau.fi/whatsmeow/types/events"

	"github.com/hyvehq/relay-agent/pkg/channel"
)

// classifyDisconnect maps every connection-state event the library can emit
// onto exactly one disconnect reason. Anything unrecognized is unknown, so
// the mapping is total.
func classifyDisconnect(evt interface{}) channel.DisconnectReason {
	switch evt.(type) {
	case *events.LoggedOut:
		return channel.DisconnectLoggedOut
	case *events.StreamReplaced:
		return channel.DisconnectReplaced
	case *events.Disconnected,
		*events.StreamError,
		*events.ConnectFailure,
		*events.TemporaryBan,
		*events.ClientOutdated,
		*events.CATRefreshError:
		return channel.DisconnectConnectionLost
	default:
		return channel.DisconnectUnknown
	}
}
