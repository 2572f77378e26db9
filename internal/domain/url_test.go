package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "http://example.com/", "http://example.com/"},
		{"adds root path", "http://example.com", "http://example.com/"},
		{"lowercases scheme and host", "HTTP://Example.COM/Path", "http://example.com/Path"},
		{"keeps query", "https://example.com/a?b=1", "https://example.com/a?b=1"},
		{"trims whitespace", "  https://example.com  ", "https://example.com/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"example.com",
		"ftp://example.com/file",
		"http://",
		"://nope",
		"not a url",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := NormalizeURL(in)
			require.ErrorIs(t, err, ErrInvalidURL)
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailedPermanent.Terminal())
	require.False(t, StatusFailedRetryable.Terminal())

	require.True(t, StatusQueued.InFlight())
	require.True(t, StatusInProgress.InFlight())
	require.True(t, StatusFailedRetryable.InFlight())
	require.False(t, StatusCompleted.InFlight())
}
