// Package appletime converts between the Messages database's Apple-epoch
// nanosecond timestamps and wall-clock time, and recovers plain text from
// the attributedBody archive blob when the message's text column is empty.
package appletime

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"
)

// appleEpochOffset is the number of seconds between the Unix epoch
// (1970-01-01) and the Apple/CoreData epoch (2001-01-01), both UTC.
const appleEpochOffset = 978_307_200

// sentinelStart and sentinelEnd bracket the plain-text span inside a
// serialized NSAttributedString archive ("streamtyped" format). The text
// runs from just after sentinelStart to just before the next sentinelEnd.
var (
	sentinelStart = []byte{0x01, 0x2B}
	sentinelEnd   = []byte{0x86, 0x84}
)

// FromNanos converts a ns-since-2001-01-01-UTC timestamp, as stored in the
// message.date column, to a wall-clock time.Time in UTC.
func FromNanos(ns int64) time.Time {
	return time.Unix(appleEpochOffset, 0).UTC().Add(time.Duration(ns))
}

// ToNanos is the inverse of FromNanos, used by tests to write timestamps in
// database units.
func ToNanos(t time.Time) int64 {
	return t.UTC().Sub(time.Unix(appleEpochOffset, 0).UTC()).Nanoseconds()
}

// RecoverText extracts the plain-text span from an attributedBody blob.
// It locates the first 0x01 0x2B sentinel, then the first 0x86 0x84
// sentinel after it, and returns the UTF-8 decoding of the bytes between
// them with invalid sequences replaced and leading control bytes (code
// point < 32) trimmed. Returns "" if no payload can be recovered.
func RecoverText(blob []byte) string {
	if len(blob) == 0 {
		return ""
	}

	startAt := indexOf(blob, sentinelStart, 0)
	if startAt < 0 {
		return ""
	}
	startAt += len(sentinelStart)

	endAt := indexOf(blob, sentinelEnd, startAt)
	if endAt < 0 || endAt < startAt {
		return ""
	}

	payload := blob[startAt:endAt]
	text := strings.ToValidUTF8(string(payload), string(utf8.RuneError))

	return strings.TrimLeftFunc(text, func(r rune) bool {
		return r < 32
	})
}

// indexOf finds the first occurrence of sub in data at or after from.
func indexOf(data, sub []byte, from int) int {
	if from >= len(data) {
		return -1
	}
	idx := bytes.Index(data[from:], sub)
	if idx < 0 {
		return -1
	}
	return from + idx
}
