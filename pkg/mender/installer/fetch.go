package installer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jamesainslie/mender/pkg/mender/types"
)

// Fetcher opens a package for reading. size is -1 when unknown.
type Fetcher interface {
	Open(ctx context.Context, rawURL string) (body io.ReadCloser, size int64, err error)
}

// HTTPFetcher downloads packages over http and https.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// Open implements Fetcher.
func (f *HTTPFetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", types.ErrDownloadFailed, err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: %w", types.ErrDownloadFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: %s: %s", types.ErrDownloadFailed, rawURL, resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}

// Fetchers selects a Fetcher by URL scheme.
type Fetchers map[string]Fetcher

// DefaultFetchers returns http(s) and S3 fetchers.
func DefaultFetchers(client *http.Client, userAgent string) Fetchers {
	h := &HTTPFetcher{Client: client, UserAgent: userAgent}
	s := NewS3Fetcher()
	return Fetchers{
		"http":     h,
		"https":    h,
		"s3+http":  s,
		"s3+https": s,
	}
}

// For returns the fetcher registered for rawURL's scheme.
func (f Fetchers) For(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrDownloadFailed, err)
	}
	fetcher, ok := f[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported scheme %q", types.ErrDownloadFailed, u.Scheme)
	}
	return fetcher, nil
}
