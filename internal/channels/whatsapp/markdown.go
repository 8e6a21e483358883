// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package whatsapp

import "strings"

// The platform writes inline styles as *bold*, _italic_ and ~strike~; the
// canonical form the cloud expects is **bold**, *italic* and ~~strike~~.
//
// The two functions below are pure and deterministic, and ToCanonical leaves
// double-marker (already canonical) runs untouched, so re-coercing canonical
// bold or strike text is a no-op. A lone asterisk pair is ambiguous: it is
// platform bold and canonical italic at the same time. ToCanonical resolves
// it as platform bold; that ambiguity is inherent to the two dialects and is
// not resolved further, nested markers included.

// ToCanonical rewrites platform inline markers into canonical markdown.
func ToCanonical(text string) string {
	return coerceMarkers(text, func(run string) string {
		switch run {
		case "*":
			return "**"
		case "_":
			return "*"
		case "~":
			return "~~"
		default:
			// already canonical (** or ~~), or a longer decorative run
			return run
		}
	})
}

// ToPlatform rewrites canonical markdown into the platform's inline markers.
// It is the inverse of ToCanonical on platform-shaped input.
func ToPlatform(text string) string {
	return coerceMarkers(text, func(run string) string {
		switch run {
		case "**":
			return "*"
		case "*":
			return "_"
		case "~~":
			return "~"
		default:
			return run
		}
	})
}

// coerceMarkers rewrites every run of marker characters through mapRun,
// leaving all other text untouched. Backtick-fenced spans pass through
// verbatim so code stays code.
func coerceMarkers(text string, mapRun func(string) string) string {
	var b strings.Builder
	b.Grow(len(text) + 8)

	inCode := false
	for i := 0; i < len(text); {
		c := text[i]

		if c == '`' {
			inCode = !inCode
			b.WriteByte(c)
			i++
			continue
		}
		if inCode || (c != '*' && c != '_' && c != '~') {
			b.WriteByte(c)
			i++
			continue
		}

		j := i
		for j < len(text) && text[j] == c {
			j++
		}
		b.WriteString(mapRun(text[i:j]))
		i = j
	}
	return b.String()
}
