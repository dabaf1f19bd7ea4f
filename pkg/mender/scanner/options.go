// Package scanner checks installation files against their manifest digests
// on a bounded pool of hashing workers.
package scanner

import (
	"errors"

	"github.com/jamesainslie/mender/pkg/mender/cache"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

// DefaultWorkers is used when Options.Workers is not positive.
const DefaultWorkers = 4

// ErrNoRoot is returned when Options.Root is empty.
var ErrNoRoot = errors.New("scanner: root is required")

// Options configures a Scanner.
type Options struct {
	// Root is the installation directory manifest paths are relative to.
	Root string

	// Workers bounds concurrent hashing. One worker processes entries
	// strictly in manifest order.
	Workers int

	// Observer receives progress after every entry. Nil discards progress.
	Observer types.Observer

	// Stats receives the run counters. Nil allocates private counters.
	Stats *types.Stats

	// Cache reuses digests of files whose size and mtime are unchanged.
	// Nil hashes every file.
	Cache *cache.Store
}

// Validate fills defaults and rejects unusable options.
func (o *Options) Validate() error {
	if o.Root == "" {
		return ErrNoRoot
	}
	if o.Workers < 1 {
		o.Workers = DefaultWorkers
	}
	if o.Observer == nil {
		o.Observer = types.NopObserver{}
	}
	if o.Stats == nil {
		o.Stats = &types.Stats{}
	}
	return nil
}
