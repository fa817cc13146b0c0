// Package seenindex is a process-wide map from file size to a per-size
// bucket of discovered FileEntry values, with all decision-making on a
// bucket's contents serialized under that bucket's own mutex. Two files
// are ever compared only if they reside in the same bucket, i.e. share a
// size.
package seenindex

import (
	"sync"

	"github.com/duplink/duplink/internal/fileentry"
)

// Bucket holds every FileEntry discovered so far for one distinct file
// size. Callers must hold the bucket's lock for the whole decision they are
// making about its contents: two workers concurrently deciding "the other
// one is the duplicate" could otherwise both discard the only surviving
// copy.
type Bucket struct {
	mu      sync.Mutex
	entries map[string]*fileentry.Entry
}

func newBucket() *Bucket {
	return &Bucket{entries: make(map[string]*fileentry.Entry)}
}

// Lock acquires the bucket's mutex. Every other method on Bucket assumes
// the caller already holds it.
func (b *Bucket) Lock() { b.mu.Lock() }

// Unlock releases the bucket's mutex.
func (b *Bucket) Unlock() { b.mu.Unlock() }

// PutIfAbsent inserts e under path if path is not already present,
// otherwise it is a no-op. Returns the entry now stored under path (either
// e, or whatever was already there).
func (b *Bucket) PutIfAbsent(path string, e *fileentry.Entry) *fileentry.Entry {
	if existing, ok := b.entries[path]; ok {
		return existing
	}

	b.entries[path] = e

	return e
}

// Get returns the entry stored under path, if any.
func (b *Bucket) Get(path string) (*fileentry.Entry, bool) {
	e, ok := b.entries[path]

	return e, ok
}

// Delete removes path from the bucket.
func (b *Bucket) Delete(path string) {
	delete(b.entries, path)
}

// Others returns every entry in the bucket whose path is not path, in
// unspecified order.
func (b *Bucket) Others(path string) []*fileentry.Entry {
	out := make([]*fileentry.Entry, 0, len(b.entries))

	for p, e := range b.entries {
		if p != path {
			out = append(out, e)
		}
	}

	return out
}

// Len reports the number of entries currently in the bucket (for tests and
// diagnostics).
func (b *Bucket) Len() int {
	return len(b.entries)
}

// Index is the process-wide size -> Bucket map. Bucket creation races
// benignly: at most one winner is installed, because the brief map-insert
// is serialized under Index's own mutex, which is simpler than a
// lock-free compare-and-swap scheme while upholding the same guarantee.
// The mutex is held only for the map lookup/insert, never while a
// bucket's own lock is held, so it does not become a second point of
// serialization across differently-sized files.
type Index struct {
	mu      sync.Mutex
	buckets map[int64]*Bucket
}

// New returns an empty Index.
func New() *Index {
	return &Index{buckets: make(map[int64]*Bucket)}
}

// BucketFor returns the bucket for size, creating it if this is the first
// file of that size seen this run.
func (idx *Index) BucketFor(size int64) *Bucket {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	b, ok := idx.buckets[size]
	if !ok {
		b = newBucket()
		idx.buckets[size] = b
	}

	return b
}

// Sizes returns every distinct size currently indexed (for tests and
// diagnostics).
func (idx *Index) Sizes() []int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	out := make([]int64, 0, len(idx.buckets))
	for size := range idx.buckets {
		out = append(out, size)
	}

	return out
}
