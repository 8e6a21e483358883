// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToCanonical(t *testing.T) {
	cases := map[string]string{
		"*bold*":               "**bold**",
		"_italic_":             "*italic*",
		"~strike~":             "~~strike~~",
		"*b* and _i_ and ~s~":  "**b** and *i* and ~~s~~",
		"no markers":           "no markers",
		"2 * 3 * 4":            "2 ** 3 ** 4", // lone stars are markers too; inherent dialect ambiguity
		"`*code*` stays":       "`*code*` stays",
	}
	for in, want := range cases {
		assert.Equal(t, want, ToCanonical(in), "input %q", in)
	}
}

func TestToCanonicalIdempotentOnCoercedBoldAndStrike(t *testing.T) {
	coerced := ToCanonical("*bold* and ~strike~")
	assert.Equal(t, coerced, ToCanonical(coerced))
}

func TestToPlatform(t *testing.T) {
	cases := map[string]string{
		"**bold**":              "*bold*",
		"*italic*":              "_italic_",
		"~~strike~~":            "~strike~",
		"**b** and *i*":         "*b* and _i_",
		"plain":                 "plain",
	}
	for in, want := range cases {
		assert.Equal(t, want, ToPlatform(in), "input %q", in)
	}
}

func TestRoundTripOnPlatformInput(t *testing.T) {
	inputs := []string{
		"*bold*",
		"_italic_",
		"~strike~",
		"mix of *b*, _i_ and ~s~ in one line",
		"plain text",
	}
	for _, in := range inputs {
		assert.Equal(t, in, ToPlatform(ToCanonical(in)), "input %q", in)
	}
}
