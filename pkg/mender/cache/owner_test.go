package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestOpenRecordsOwner(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	pid, ok := readOwner(dir)
	if !ok || pid != os.Getpid() {
		t.Errorf("readOwner() = %d, %v, want %d", pid, ok, os.Getpid())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ownerFile)); !os.IsNotExist(err) {
		t.Errorf("owner file left after Close: %v", err)
	}
}

func TestReadOwnerInvalid(t *testing.T) {
	dir := t.TempDir()
	if _, ok := readOwner(dir); ok {
		t.Error("readOwner() found an owner in an empty dir")
	}
	for _, content := range []string{"", "abc", "-4", "0"} {
		if err := os.WriteFile(filepath.Join(dir, ownerFile), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if pid, ok := readOwner(dir); ok {
			t.Errorf("readOwner(%q) = %d, want no owner", content, pid)
		}
	}
}

func TestBusy(t *testing.T) {
	lockErr := errors.New("Cannot acquire directory lock on x.  Another process is using this Badger database.")
	if !lockHeld(lockErr) {
		t.Fatal("lockHeld() does not recognize the badger lock error")
	}
	if lockHeld(errors.New("disk full")) || lockHeld(nil) {
		t.Error("lockHeld() matched an unrelated error")
	}

	dir := t.TempDir()
	if err := busy(dir, lockErr); !errors.Is(err, ErrBusy) {
		t.Errorf("busy() without owner = %v, want ErrBusy", err)
	}

	writeOwner(dir)
	err := busy(dir, lockErr)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("busy() = %v, want ErrBusy", err)
	}
	if !strings.Contains(err.Error(), "pid "+strconv.Itoa(os.Getpid())) {
		t.Errorf("busy() = %q, want the owner pid", err)
	}
}
