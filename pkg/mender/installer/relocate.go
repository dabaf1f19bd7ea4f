package installer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jamesainslie/mender/pkg/mender/types"
)

// Misplaced returns the extracted files that sit directly under the tree
// root although the package belongs under extractRoot. Nothing is
// misplaced when extractRoot is the tree root.
func Misplaced(extracted []string, extractRoot string) []string {
	if strings.Trim(extractRoot, "/") == "" {
		return nil
	}
	var out []string
	for _, rel := range extracted {
		if !strings.Contains(rel, "/") {
			out = append(out, rel)
		}
	}
	return out
}

// Relocate moves each misplaced file into root/extractRoot, replacing any
// file already there. Failures are returned per file; the file stays where
// it was extracted.
func Relocate(root, extractRoot string, misplaced []string) (moved int, failures []types.ItemError) {
	if len(misplaced) == 0 {
		return 0, nil
	}
	dest := filepath.Join(root, filepath.FromSlash(strings.Trim(extractRoot, "/")))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		for _, rel := range misplaced {
			failures = append(failures, relocationFailure(rel, err))
		}
		return 0, failures
	}

	for _, rel := range misplaced {
		from := filepath.Join(root, filepath.FromSlash(rel))
		to := filepath.Join(dest, filepath.Base(from))
		if err := move(from, to); err != nil {
			logger.Warn("relocation failed", "file", rel, "to", extractRoot, "error", err)
			failures = append(failures, relocationFailure(rel, err))
			continue
		}
		logger.Debug("relocated", "file", rel, "to", extractRoot)
		moved++
	}
	return moved, failures
}

func move(from, to string) error {
	if err := os.Remove(to); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(from, to)
}

func relocationFailure(rel string, err error) types.ItemError {
	return types.ItemError{Path: rel, Error: fmt.Errorf("%w: %w", types.ErrRelocationFailed, err).Error()}
}
