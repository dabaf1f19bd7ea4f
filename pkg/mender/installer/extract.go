package installer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/jamesainslie/mender/pkg/mender/types"
)

// Extract writes every entry of the zip archive at src under root,
// creating directories and replacing existing files. It returns the
// slash-separated relative paths of the files written.
//
// ctx is checked before each entry; an entry being written always
// completes. Each file is written to a temporary sibling and renamed into
// place.
func Extract(ctx context.Context, src, root string) ([]string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrExtractionFailed, err)
	}
	defer r.Close()

	var written []string
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		rel, err := entryPath(f.Name)
		if err != nil {
			return written, fmt.Errorf("%w: %w", types.ErrExtractionFailed, err)
		}
		if rel == "" {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(rel))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return written, fmt.Errorf("%w: %w", types.ErrExtractionFailed, err)
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return written, fmt.Errorf("%w: %s: %w", types.ErrExtractionFailed, rel, err)
		}
		written = append(written, rel)
	}
	return written, nil
}

// entryPath normalizes an archive entry name and rejects names that would
// land outside the extraction root. Directory entries keep no trailing
// slash; "" means the entry is the root itself.
func entryPath(name string) (string, error) {
	clean := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(clean, "/") || filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("absolute archive path: %s", name)
	}
	clean = path.Clean(clean)
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive path escapes root: %s", name)
	}
	return clean, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	in, err := f.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if mode := f.Mode().Perm(); mode != 0 {
		_ = os.Chmod(target, mode|0o200)
	}
	return nil
}
