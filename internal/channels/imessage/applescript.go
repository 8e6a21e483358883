// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package imessage

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/channel/binpath"
)

const osascriptBinary = "osascript"

// escapeAppleScript quotes a string for an AppleScript literal. Exactly two
// characters need escaping in the dialect: backslash and double quote.
// Multi-line text is stitched with the AppleScript linefeed constant, since a
// raw newline would end the literal.
func escapeAppleScript(text string) string {
	lines := strings.Split(text, "\n")
	quoted := make([]string, len(lines))
	for i, line := range lines {
		line = strings.ReplaceAll(line, `\`, `\\`)
		line = strings.ReplaceAll(line, `"`, `\"`)
		quoted[i] = `"` + line + `"`
	}
	return strings.Join(quoted, " & linefeed & ")
}

// buildSendScript renders the typed send script. A conversation id with the
// chat guid prefix targets the group chat; anything else targets the buddy
// directly.
func buildSendScript(conversationID, text string) string {
	literal := escapeAppleScript(text)

	if strings.HasPrefix(conversationID, groupChatPrefix) {
		return fmt.Sprintf(`tell application "Messages"
	set targetChat to a reference to text chat id %s
	send %s to targetChat
end tell`, escapeAppleScript(conversationID), literal)
	}

	return fmt.Sprintf(`tell application "Messages"
	set targetService to 1st account whose service type = iMessage
	set targetBuddy to participant %s of targetService
	send %s to targetBuddy
end tell`, escapeAppleScript(conversationID), literal)
}

// runScript executes the script through the host scripting bridge. Script
// errors are permanent (the dialect rejected the send); spawn failures are
// retryable.
func runScript(ctx context.Context, script string) error {
	argv, err := binpath.Find(osascriptBinary, "only available on macOS")
	if err != nil {
		return &channel.DeliveryError{Reason: "scripting bridge unavailable", Retryable: false, Err: err}
	}

	args := append(argv[1:], "-e", script)
	cmd := exec.CommandContext(ctx, argv[0], args...)

	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if _, ok := err.(*exec.ExitError); ok {
		return &channel.DeliveryError{
			Reason:    strings.TrimSpace(string(out)),
			Retryable: false,
			Err:       err,
		}
	}
	return &channel.DeliveryError{Reason: "unable to run osascript", Retryable: true, Err: err}
}
