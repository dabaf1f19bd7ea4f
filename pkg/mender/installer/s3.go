package installer

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jamesainslie/mender/pkg/mender/types"
)

// S3Fetcher reads packages from S3-compatible mirrors addressed as
// s3+http://host/bucket/key or s3+https://host/bucket/key.
//
// Credentials come from AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY. When
// both are unset requests are anonymous.
type S3Fetcher struct {
	mu      sync.Mutex
	clients map[string]*minio.Client
}

// NewS3Fetcher returns an S3Fetcher with an empty client cache.
func NewS3Fetcher() *S3Fetcher {
	return &S3Fetcher{clients: make(map[string]*minio.Client)}
}

// Open implements Fetcher.
func (f *S3Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	u, bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", types.ErrDownloadFailed, err)
	}
	mc, err := f.client(u)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", types.ErrDownloadFailed, err)
	}

	obj, err := mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", types.ErrDownloadFailed, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, 0, fmt.Errorf("%w: %s: no such key", types.ErrDownloadFailed, rawURL)
		}
		return nil, 0, fmt.Errorf("%w: %w", types.ErrDownloadFailed, err)
	}
	return obj, info.Size, nil
}

func (f *S3Fetcher) client(u *url.URL) (*minio.Client, error) {
	secure := u.Scheme == "s3+https"
	id := u.Scheme + "://" + u.Host

	f.mu.Lock()
	defer f.mu.Unlock()
	if mc, ok := f.clients[id]; ok {
		return mc, nil
	}

	mc, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"), ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}
	f.clients[id] = mc
	return mc, nil
}

// parseS3URL splits s3+http(s)://host/bucket/key.
func parseS3URL(rawURL string) (u *url.URL, bucket, key string, err error) {
	u, err = url.Parse(rawURL)
	if err != nil {
		return nil, "", "", err
	}
	if u.Scheme != "s3+http" && u.Scheme != "s3+https" {
		return nil, "", "", fmt.Errorf("not an s3 url: %s", rawURL)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !ok || bucket == "" || key == "" {
		return nil, "", "", fmt.Errorf("s3 url needs bucket and key: %s", rawURL)
	}
	return u, bucket, key, nil
}
