// Package cache persists file digests between runs so unchanged files need
// not be re-hashed. Entries are keyed by installation root and relative
// path, and are trusted only while the file's size and mtime are unchanged.
package cache

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Version is bumped whenever Entry changes shape.
const Version = 1

// keySeparator separates the root from the relative path in keys.
const keySeparator = '\x00'

// Entry is the cached digest of one file.
type Entry struct {
	Version int
	Size    int64
	Mtime   int64 // UnixNano
	Digest  string
}

// NewEntry builds an entry for a freshly hashed file.
func NewEntry(info os.FileInfo, digest string) *Entry {
	return &Entry{
		Version: Version,
		Size:    info.Size(),
		Mtime:   info.ModTime().UnixNano(),
		Digest:  digest,
	}
}

// Fresh reports whether the entry still describes info.
func (e *Entry) Fresh(info os.FileInfo) bool {
	return e != nil &&
		e.Version == Version &&
		e.Digest != "" &&
		e.Size == info.Size() &&
		e.Mtime == info.ModTime().UnixNano()
}

// Encode serializes the entry with gob.
func (e *Entry) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes gob data into the entry.
func (e *Entry) Decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(e)
}

// MakeKey returns the key for rel under root: "<root>\x00<rel>".
func MakeKey(root, rel string) []byte {
	return append(MakeKeyPrefix(root), rel...)
}

// MakeKeyPrefix returns the prefix shared by every key under root.
func MakeKeyPrefix(root string) []byte {
	return append([]byte(filepath.Clean(root)), keySeparator)
}

// ParseKey splits a key into root and relative path.
func ParseKey(key []byte) (root, rel string) {
	if i := bytes.IndexByte(key, keySeparator); i >= 0 {
		return string(key[:i]), string(key[i+1:])
	}
	return string(key), ""
}

// DefaultPath returns $XDG_CACHE_HOME/mender/digests.
func DefaultPath() string {
	return filepath.Join(xdg.CacheHome, "mender", "digests")
}
