package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestFetcher() *Fetcher {
	return New(2*time.Second, 2*time.Second, "inventory-test/1.0", zerolog.Nop())
}

func TestFetchCapturesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		w.Header().Set("X-Custom", "v1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	res, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "<html>hello</html>", res.PageSource)
	require.Equal(t, "v1", res.Headers["X-Custom"])
	require.Equal(t, "abc", res.Cookies["session"])
	require.Equal(t, srv.URL, res.FinalURL)
}

func TestFetchSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "inventory-test/1.0", gotUA)
}

func TestFetchFollowsRedirects(t *testing.T) {
	var final *httptest.Server
	final = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("landed"))
	}))
	defer final.Close()
	start := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/target", http.StatusFound)
	}))
	defer start.Close()

	res, err := newTestFetcher().Fetch(context.Background(), start.URL)
	require.NoError(t, err)
	require.Equal(t, "landed", res.PageSource)
	require.Equal(t, final.URL+"/target", res.FinalURL)
}

func TestFetch4xxIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.False(t, IsRetryable(err))
	require.Equal(t, "http status 404", err.Error())
}

func TestFetchNon2xxFinalStatusIsError(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusMultipleChoices, false}, // 300 is terminal, not followed
		{http.StatusNotModified, false},
		{http.StatusNotFound, false},
		{http.StatusBadGateway, true},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		res, err := newTestFetcher().Fetch(context.Background(), srv.URL)
		srv.Close()
		require.Error(t, err, "status %d must not persist metadata", tc.status)
		require.Nil(t, res)
		require.Equal(t, tc.retryable, IsRetryable(err))
		require.Equal(t, fmt.Sprintf("http status %d", tc.status), err.Error())
	}
}

func TestFetch5xxIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.True(t, IsRetryable(err))
	require.Equal(t, "http status 500", err.Error())
}

func TestFetchConnectionRefusedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), url)
	require.Error(t, err)
	require.True(t, IsRetryable(err))
}

func TestIsRetryableUnclassified(t *testing.T) {
	require.False(t, IsRetryable(context.Canceled))
	require.True(t, IsRetryable(Retryable("boom")))
	require.False(t, IsRetryable(Permanent("boom")))
}
