package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("20260824153045")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())
	assert.Equal(t, time.August, ts.Month())
	assert.Equal(t, 24, ts.Day())
	assert.Equal(t, 15, ts.Hour())
	assert.Equal(t, 30, ts.Minute())
	assert.Equal(t, 45, ts.Second())
}

func TestParseTimestampRejectsNonCanonicalInput(t *testing.T) {
	cases := []string{
		"",
		"2026-08-24 15:30:45",
		"20260824",
		"20260824153045999",
		"2026082415304x",
	}
	for _, c := range cases {
		_, err := ParseTimestamp(c)
		assert.Error(t, err, "expected rejection for %q", c)
	}
}

func TestParseTimestampRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 24, 9, 5, 1, 0, time.Local)
	parsed, err := ParseTimestamp(FormatTimestamp(now))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(now))
}

func TestParseFlexibleDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"45":  45 * time.Second,
		"0":   0,
	}
	for in, want := range cases {
		got, err := ParseFlexibleDuration(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestParseFlexibleDurationRejectsInvalid(t *testing.T) {
	for _, c := range []string{"", "-5", "-30s", "five"} {
		_, err := ParseFlexibleDuration(c)
		assert.Error(t, err, "expected rejection for %q", c)
	}
}

func TestIsTruthy(t *testing.T) {
	assert.True(t, IsTruthy("true", false))
	assert.True(t, IsTruthy("ON", false))
	assert.True(t, IsTruthy("yes", false))
	assert.True(t, IsTruthy("1", false))
	assert.False(t, IsTruthy("off", false))
	assert.False(t, IsTruthy("", false))

	// "one" is only honored when source parity is explicitly enabled
	assert.False(t, IsTruthy("one", false))
	assert.True(t, IsTruthy("one", true))
}
