// Package stats provides lock-free runtime counters for a deduplication
// run: files and bytes walked, and per-link-kind seen/created/deleted/
// removed totals. All mutation is atomic fetch-add; there is no
// cross-counter consistency guarantee beyond "eventually visible," which is
// sufficient for end-of-run reporting.
package stats

import "sync/atomic"

// LinkStats tracks one category of link (hard or symbolic).
type LinkStats struct {
	seen    atomic.Int64
	created atomic.Int64
	deleted atomic.Int64
	removed atomic.Int64
}

// Seen records that a file was found to already be a link of this kind.
func (l *LinkStats) Seen() { l.seen.Add(1) }

// Created records that a file was replaced by a new link of this kind.
func (l *LinkStats) Created() { l.created.Add(1) }

// Deleted records that a link of this kind was deleted (delete_hardlinks /
// delete_symlinks policy).
func (l *LinkStats) Deleted() { l.deleted.Add(1) }

// Removed records that a link of this kind was materialized back into
// independent content (remove_hardlinks / remove_symlinks policy).
func (l *LinkStats) Removed() { l.removed.Add(1) }

// LinkSnapshot is a point-in-time, non-atomic copy of LinkStats for
// reporting.
type LinkSnapshot struct {
	Seen    int64
	Created int64
	Deleted int64
	Removed int64
}

// Snapshot returns the current counter values.
func (l *LinkStats) Snapshot() LinkSnapshot {
	return LinkSnapshot{
		Seen:    l.seen.Load(),
		Created: l.created.Load(),
		Deleted: l.deleted.Load(),
		Removed: l.removed.Load(),
	}
}

// Runtime holds every counter for a single run. The zero value is ready to
// use and safe for concurrent use by any number of goroutines.
type Runtime struct {
	Files   atomic.Int64
	Folders atomic.Int64
	Bytes   atomic.Int64
	Hard    LinkStats
	Symlink LinkStats
}

// New returns a ready-to-use Runtime.
func New() *Runtime {
	return &Runtime{}
}

// AddFile records one visited file of the given size.
func (r *Runtime) AddFile(size int64) {
	r.Files.Add(1)
	r.Bytes.Add(size)
}

// AddFolder records one visited directory.
func (r *Runtime) AddFolder() {
	r.Folders.Add(1)
}

// Snapshot is a point-in-time, non-atomic copy of Runtime for reporting.
type Snapshot struct {
	Files   int64
	Folders int64
	Bytes   int64
	Hard    LinkSnapshot
	Symlink LinkSnapshot
}

// Snapshot returns the current counter values.
func (r *Runtime) Snapshot() Snapshot {
	return Snapshot{
		Files:   r.Files.Load(),
		Folders: r.Folders.Load(),
		Bytes:   r.Bytes.Load(),
		Hard:    r.Hard.Snapshot(),
		Symlink: r.Symlink.Snapshot(),
	}
}
