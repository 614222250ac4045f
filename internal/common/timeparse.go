// Centralized parsing for schedule inputs. Admin surfaces accept a 14-digit
// local timestamp (YYYYMMDDhhmmss) and flexible durations ("30s", "5m", "2h",
// or a bare integer meaning seconds). All call sites go through here.

package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const timestampLayout = "20060102150405"

// ParseTimestamp parses a 14-digit local-time stamp (YYYYMMDDhhmmss).
// Anything else is rejected.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) != 14 {
		return time.Time{}, fmt.Errorf("timestamp must be 14 digits (YYYYMMDDhhmmss), got %q", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("timestamp must be 14 digits (YYYYMMDDhhmmss), got %q", s)
		}
	}
	t, err := time.ParseInLocation(timestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatTimestamp renders a time in the 14-digit local format.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(timestampLayout)
}

// ParseFlexibleDuration parses a human-readable duration. A bare integer is
// interpreted as seconds; otherwise Go duration syntax applies ("30s", "5m",
// "2h"). Negative durations are rejected.
func ParseFlexibleDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("duration cannot be negative: %q", s)
		}
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration cannot be negative: %q", s)
	}
	return d, nil
}

// IsTruthy reports whether a free-form parameter value enables a boolean
// option. The historical source accepted "one" in some checks; that spelling
// is only honored when treatOneAsOn is set.
func IsTruthy(value string, treatOneAsOn bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "on", "yes", "1":
		return true
	case "one":
		return treatOneAsOn
	default:
		return false
	}
}
