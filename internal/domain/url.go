package domain

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned for URLs the pipeline refuses to ingest.
var ErrInvalidURL = errors.New("invalid url")

// NormalizeURL validates raw and returns the canonical form the pipeline keys
// records by: scheme must be http or https, host must be present, scheme and
// host are lowercased, an empty path becomes "/". Query and fragment are kept
// as given.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrInvalidURL
	}
	if u.Host == "" {
		return "", ErrInvalidURL
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
