package cache

import (
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/mender/pkg/mender/logging"
)

var logger = logging.Get("cache")

// ErrNotFound is returned when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// Store is a badger-backed digest cache.
type Store struct {
	db  *badger.DB
	dir string
}

// Open opens or creates a store in dir. Only one process may hold a store;
// a second Open fails with ErrBusy.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	s, err := open(opts)
	if lockHeld(err) {
		return nil, busy(dir, err)
	}
	if err != nil {
		return nil, err
	}
	s.dir = dir
	writeOwner(dir)
	logger.Debug("opened digest cache", "path", dir)
	return s, nil
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	if s.dir != "" {
		removeOwner(s.dir)
	}
	return s.db.Close()
}

// Get returns the entry for rel under root, or ErrNotFound.
func (s *Store) Get(root, rel string) (*Entry, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(MakeKey(root, rel))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(entry.Decode)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// PutBatch writes entries keyed by relative path in one batch.
func (s *Store) PutBatch(root string, entries map[string]*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for rel, entry := range entries {
		value, err := entry.Encode()
		if err != nil {
			return err
		}
		if err := wb.Set(MakeKey(root, rel), value); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Delete removes the entry for rel under root. Missing entries are ignored.
func (s *Store) Delete(root, rel string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(MakeKey(root, rel))
	})
}

// DeletePrefix removes every entry under root.
func (s *Store) DeletePrefix(root string) error {
	return s.db.DropPrefix(MakeKeyPrefix(root))
}

// Count returns the number of entries under root.
func (s *Store) Count(root string) (int, error) {
	prefix := MakeKeyPrefix(root)
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
