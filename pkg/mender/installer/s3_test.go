package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jamesainslie/mender/pkg/mender/types"
)

// serveBucket answers path-style S3 requests for a single bucket.
func serveBucket(t *testing.T, bucket string, objects map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.URL.Query()["location"]; ok {
			w.Header().Set("Content-Type", "application/xml")
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></LocationConstraint>`)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/"+bucket+"/")
		data, ok := objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message>`+
				`<Key>%s</Key><BucketName>%s</BucketName><RequestId>1</RequestId></Error>`, key, bucket)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("ETag", `"0123456789abcdef"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestS3FetcherOpen(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	data := makeZip(t, file{name: "EP05/a.package", content: "good"})
	srv := serveBucket(t, "packages", map[string][]byte{"Delta/EP05.zip": data})
	base := "s3+http://" + strings.TrimPrefix(srv.URL, "http://") + "/packages/"

	f := NewS3Fetcher()
	rc, size, err := f.Open(context.Background(), base+"Delta/EP05.zip")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if size != int64(len(data)) || string(got) != string(data) {
		t.Errorf("Open() size = %d, body %d bytes, want %d", size, len(got), len(data))
	}

	_, _, err = f.Open(context.Background(), base+"Delta/EP99.zip")
	if !errors.Is(err, types.ErrDownloadFailed) {
		t.Fatalf("Open() missing key error = %v, want ErrDownloadFailed", err)
	}
	if !strings.Contains(err.Error(), "no such key") {
		t.Errorf("Open() missing key error = %v, want no such key", err)
	}
}

func TestInstallFromS3(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	root := t.TempDir()
	writeFile(t, root, "EP05/a.package", "corrupt")
	data := makeZip(t,
		file{name: "EP05/"},
		file{name: "EP05/a.package", content: "good"},
	)
	srv := serveBucket(t, "packages", map[string][]byte{"Delta/EP05.zip": data})
	host := strings.TrimPrefix(srv.URL, "http://")

	in := New(Options{Root: root, ScratchDir: t.TempDir()})
	ref := types.PackageRef{URL: "s3+http://" + host + "/packages/Delta/EP05.zip", ExtractRoot: "EP05", Key: "EP05"}
	res, err := in.Install(context.Background(), ref, 1, 1)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if res.Extracted != 1 || res.Bytes != int64(len(data)) {
		t.Errorf("Install() = %+v", res)
	}
	if got := readFile(t, root, "EP05/a.package"); got != "good" {
		t.Errorf("a.package = %q, want overwritten", got)
	}
}
