// Package digest computes streaming SHA-256 content digests of local files.
package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jamesainslie/mender/pkg/mender/types"
)

// chunkSize is the read size between cancellation checks.
const chunkSize = 1 << 20

// File returns the lowercase hex SHA-256 of the file at path.
// The file is streamed; it is never loaded whole.
func File(path string) (string, error) {
	return FileContext(context.Background(), path)
}

// FileContext is like File but stops between chunks once ctx is done.
// A cancelled hash returns ctx.Err(), never a partial digest.
func FileContext(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrIO, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: reading %s: %w", types.ErrIO, path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Normalize lowercases and trims a hex digest.
func Normalize(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}

// Valid reports whether d looks like a SHA-256 hex digest.
func Valid(d string) bool {
	if len(d) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(d)
	return err == nil
}
