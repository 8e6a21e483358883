// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package binpath

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindMissingBinary(t *testing.T) {
	_, err := Find("definitely-not-a-binary-xyz", "install it from example.com")
	require.Error(t, err)

	var notInstalled *NotInstalledError
	require.True(t, errors.As(err, &notInstalled))
	assert.Equal(t, "definitely-not-a-binary-xyz", notInstalled.Binary)
	assert.Contains(t, notInstalled.Error(), "example.com")
}

func TestFindEnvOverride(t *testing.T) {
	t.Setenv("HYVE_RELAY_SIGNAL_CLI", `java -jar "/opt/signal cli/signal-cli.jar"`)

	argv, err := Find("signal-cli", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"java", "-jar", "/opt/signal cli/signal-cli.jar"}, argv)
}

func TestFindEnvOverrideMalformed(t *testing.T) {
	t.Setenv("HYVE_RELAY_SIGNAL_CLI", `unterminated "quote`)

	_, err := Find("signal-cli", "")
	require.Error(t, err)

	var notInstalled *NotInstalledError
	assert.False(t, errors.As(err, &notInstalled), "a bad override is not a missing binary")
}

func TestFindOnPath(t *testing.T) {
	// sh is present on every POSIX host the tests run on.
	argv, err := Find("sh", "")
	require.NoError(t, err)
	require.Len(t, argv, 1)
	assert.Contains(t, argv[0], "sh")
}
