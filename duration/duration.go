// Package duration parses the short duration strings used throughout the
// catalog (keep_alive) and environment configuration ("35m", "2h", "30s").
package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse parses strings of the form "<int><unit>" where unit is one of
// "s", "m", "h". It is intentionally stricter than time.ParseDuration:
// the catalog and env vars only ever use these three units, and a parser
// that also silently accepted "ms" or "ns" would make keep_alive typos
// (e.g. "30ms" instead of "30s") fail open rather than fail fast.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	unit := s[len(s)-1]
	var mul time.Duration
	switch unit {
	case 's':
		mul = time.Second
	case 'm':
		mul = time.Minute
	case 'h':
		mul = time.Hour
	default:
		return 0, fmt.Errorf("duration: unrecognized unit in %q (want s, m, or h)", s)
	}

	numPart := s[:len(s)-1]
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("duration: invalid numeric part in %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("duration: negative duration %q", s)
	}

	return time.Duration(n) * mul, nil
}

// ParseDefault parses s, falling back to def on error or an empty string.
func ParseDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := Parse(s)
	if err != nil {
		return def
	}
	return d
}
