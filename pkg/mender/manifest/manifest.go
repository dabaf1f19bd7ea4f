// Package manifest fetches and parses the published digest manifest of a
// game installation.
//
// The document is a JSON object; one of its keys (by default "files") maps
// relative paths to lowercase SHA-256 hex digests. Other keys are ignored.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jamesainslie/mender/pkg/mender/digest"
	"github.com/jamesainslie/mender/pkg/mender/logging"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

var logger = logging.Get("manifest")

// DefaultKey is the top-level key holding the path to digest mapping.
const DefaultKey = "files"

// Options configures a Client.
type Options struct {
	// Source is an http(s) URL, a file:// URL, or a local path.
	Source string

	// Key is the top-level key holding the entries. Empty means DefaultKey.
	Key string

	// HTTPClient is used for http(s) sources. Nil means a client with Timeout.
	HTTPClient *http.Client

	// Timeout bounds the whole fetch when HTTPClient is nil. Zero means 2 minutes.
	Timeout time.Duration

	// UserAgent is sent with http(s) requests.
	UserAgent string
}

// Client fetches one manifest document.
type Client struct {
	opts Options
}

// New returns a Client for opts.
func New(opts Options) *Client {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &Client{opts: opts}
}

// Fetch retrieves and parses the manifest. Entries come back in document
// order; duplicate paths are kept for the scanner to resolve.
func (c *Client) Fetch(ctx context.Context) ([]types.ManifestEntry, error) {
	if c.opts.Source == "" {
		return nil, fmt.Errorf("%w: no manifest source configured", types.ErrManifestUnavailable)
	}

	start := time.Now()
	body, err := c.open(ctx)
	if err != nil {
		logger.Error("manifest fetch failed", "source", c.opts.Source, "error", err)
		return nil, err
	}
	defer body.Close()

	entries, err := Parse(body, c.opts.Key)
	if err != nil {
		logger.Error("manifest parse failed", "source", c.opts.Source, "error", err)
		return nil, err
	}

	if bad := Invalid(entries); len(bad) > 0 {
		logger.Warn("manifest has digests that are not SHA-256; those files will report corrupt",
			"count", len(bad), "first", bad[0])
	}
	logger.Info("manifest loaded", "source", c.opts.Source, "entries", len(entries), "elapsed", time.Since(start))
	return entries, nil
}

func (c *Client) open(ctx context.Context) (io.ReadCloser, error) {
	u, err := url.Parse(c.opts.Source)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return c.get(ctx, u.String())
	}

	p := c.opts.Source
	if err == nil && u.Scheme == "file" {
		p = u.Path
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrManifestUnavailable, err)
	}
	return f, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrManifestUnavailable, err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrManifestUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s: %s", types.ErrManifestUnavailable, rawURL, resp.Status)
	}
	return resp.Body, nil
}

// Parse decodes a manifest document from r. It streams tokens so document
// order and duplicate keys survive.
func Parse(r io.Reader, key string) ([]types.ManifestEntry, error) {
	if key == "" {
		key = DefaultKey
	}
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var (
		entries []types.ManifestEntry
		found   bool
	)
	for dec.More() {
		name, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		if name != key {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, malformed("skipping %q: %v", name, err)
			}
			continue
		}
		found = true
		parsed, err := parseEntries(dec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, parsed...)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if !found {
		return nil, malformed("missing key %q", key)
	}
	return entries, nil
}

func parseEntries(dec *json.Decoder) ([]types.ManifestEntry, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var entries []types.ManifestEntry
	for dec.More() {
		raw, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if err != nil {
			return nil, malformed("reading digest for %q: %v", raw, err)
		}
		value, ok := tok.(string)
		if !ok {
			return nil, malformed("digest for %q is not a string", raw)
		}
		p := NormalizePath(raw)
		if p == "" {
			return nil, malformed("empty path")
		}
		d := digest.Normalize(value)
		if d == "" {
			return nil, malformed("empty digest for %q", raw)
		}
		entries = append(entries, types.ManifestEntry{Path: p, Digest: d})
	}
	return entries, expectDelim(dec, '}')
}

// Invalid returns the paths whose digest is not a SHA-256 hex string.
func Invalid(entries []types.ManifestEntry) []string {
	var bad []string
	for _, e := range entries {
		if !digest.Valid(e.Digest) {
			bad = append(bad, e.Path)
		}
	}
	return bad
}

// NormalizePath converts a manifest path to the canonical '/' form with no
// leading separator or "./".
func NormalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// Index maps each path to its digest. A later duplicate wins.
func Index(entries []types.ManifestEntry) map[string]string {
	idx := make(map[string]string, len(entries))
	for _, e := range entries {
		idx[e.Path] = e.Digest
	}
	return idx
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return malformed("unexpected end of document")
		}
		return malformed("%v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return malformed("expected %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", malformed("%v", err)
	}
	s, ok := tok.(string)
	if !ok {
		return "", malformed("expected object key, got %v", tok)
	}
	return s, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", types.ErrManifestMalformed, fmt.Sprintf(format, args...))
}
