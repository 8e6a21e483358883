// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"fmt"
	"time"
)

// wireLayout is the ISO-8601 rendering every envelope timestamp uses on the
// wire: UTC with millisecond precision.
const wireLayout = "2006-01-02T15:04:05.000Z"

// Time is a time.Time that marshals to the envelope wire format.
type Time time.Time

// Now returns the current instant as an envelope timestamp.
func Now() Time {
	return Time(time.Now())
}

// FromUnixMilli converts a platform millisecond epoch into an envelope
// timestamp.
func FromUnixMilli(ms int64) Time {
	return Time(time.UnixMilli(ms).UTC())
}

// Std returns the underlying time.Time.
func (t Time) Std() time.Time {
	return time.Time(t)
}

func (t Time) IsZero() bool {
	return time.Time(t).IsZero()
}

func (t Time) String() string {
	return time.Time(t).UTC().Format(wireLayout)
}

// MarshalJSON renders the timestamp in the wire layout.
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON accepts the wire layout plus the common RFC 3339 variants the
// cloud may produce.
func (t *Time) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*t = Time(time.Time{})
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	s = s[1 : len(s)-1]

	for _, layout := range []string{wireLayout, time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Time(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}
