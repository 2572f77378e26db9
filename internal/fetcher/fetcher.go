// Package fetcher performs the metadata HTTP GET and classifies failures as
// retryable (timeouts, network errors, 5xx) or permanent (4xx, body read
// failures, anything else).
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/Pragya1904/HTTP-Inventory/internal/domain"
	"github.com/Pragya1904/HTTP-Inventory/internal/metrics"
)

// Error is a classified fetch failure.
type Error struct {
	msg       string
	retryable bool
}

func (e *Error) Error() string { return e.msg }

// Retryable builds a transient failure.
func Retryable(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...), retryable: true}
}

// Permanent builds a failure that must not be retried.
func Permanent(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...), retryable: false}
}

// IsRetryable reports whether err permits another fetch attempt. Unclassified
// errors are treated as permanent.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.retryable
	}
	return false
}

// Fetcher performs metadata GETs with bounded connect and read timeouts,
// following redirects.
type Fetcher struct {
	client    *http.Client
	userAgent string
	log       zerolog.Logger
}

func New(connectTimeout, readTimeout time.Duration, userAgent string, log zerolog.Logger) *Fetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
	}
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   connectTimeout + readTimeout,
		},
		userAgent: userAgent,
		log:       log.With().Str("component", "metadata_fetcher").Logger(),
	}
}

// Fetch GETs the URL and captures the final response. Only a final 2xx
// succeeds; 5xx is retryable, every other status permanent.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*domain.FetchResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveFetch(time.Since(start)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, Permanent("build request for %s: %v", rawURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(rawURL, err)
	}
	defer resp.Body.Close()

	// Only a final 2xx counts as success. Redirects are followed by the
	// client, so a 3xx here is a terminal answer (300, 304, redirect loop
	// cut off) and is persisted as a failure, not as metadata.
	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, Retryable("http status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, Permanent("http status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, Retryable("read body for %s: %v", rawURL, err)
		}
		return nil, Permanent("read body for %s: %v", rawURL, err)
	}

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	cookies := make(map[string]string)
	for _, c := range resp.Cookies() {
		cookies[c.Name] = c.Value
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	f.log.Debug().
		Str("url", rawURL).
		Str("final_url", finalURL).
		Int("status_code", resp.StatusCode).
		Int("body_bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Msg("fetched")

	return &domain.FetchResult{
		Headers:    headers,
		Cookies:    cookies,
		PageSource: string(body),
		StatusCode: resp.StatusCode,
		FinalURL:   finalURL,
	}, nil
}

// classifyTransportError maps client.Do failures: timeouts, DNS and other
// network errors are retryable; everything else is permanent.
func classifyTransportError(rawURL string, err error) *Error {
	if isTimeout(err) {
		return Retryable("timeout while fetching %s: %v", rawURL, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Retryable("dns failure for %s: %v", rawURL, dnsErr)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Retryable("network error for %s: %v", rawURL, opErr)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Temporary() {
		return Retryable("transient error for %s: %v", rawURL, urlErr)
	}

	return Permanent("fetch failed for %s: %v", rawURL, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
