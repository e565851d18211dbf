// Package store holds the native store boundary implementations driven by
// the bridge: Apple (receipt verification API), Google (Play Developer API),
// a platform-routing composite, and a deterministic in-memory store for
// tests and local development.
package store

import (
	"strconv"
	"time"
)

// timeFromMillisString parses a milliseconds-since-epoch string, as returned
// by the Apple verification endpoint. Returns the zero time on empty or
// malformed input.
func timeFromMillisString(ms string) time.Time {
	if ms == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
