package logging

import "sync"

// Buffer keeps the most recent records in a fixed-size ring.
type Buffer struct {
	mu   sync.Mutex
	ring []Entry
	next int
	full bool
}

// NewBuffer returns a ring holding up to size records.
func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{ring: make([]Entry, size)}
}

// Add stores e, evicting the oldest record when full.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring[b.next] = e
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}
}

// Entries returns a copy of the stored records, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]Entry(nil), b.ring[:b.next]...)
	}
	out := make([]Entry, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	return append(out, b.ring[:b.next]...)
}

// Last returns up to n of the newest records, oldest first.
func (b *Buffer) Last(n int) []Entry {
	all := b.Entries()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of stored records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.ring)
	}
	return b.next
}
