// Package fileentry provides an immutable descriptor of a discovered file
// (path, size, lazily computed short digest) and the three-stage equality
// oracle (size -> short digest -> shuffled, double-buffered bytewise
// compare) used to decide whether two same-size files are byte-identical.
package fileentry

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/duplink/duplink/internal/blockcmp"
	"github.com/duplink/duplink/internal/bufpool"
	"github.com/duplink/duplink/internal/linkfs"
	"github.com/duplink/duplink/internal/shuffle"
)

// smallFileThreshold is the size below which the "digest" degenerates to
// the file's raw content.
const smallFileThreshold = 64

// Opener is the minimal filesystem capability an Entry needs: opening a
// path for reading. Satisfied by linkfs.FS.
type Opener interface {
	Open(path string) (linkfs.File, error)
}

// Entry is an immutable descriptor of one discovered file. The short
// digest is computed at most once, the first caller to ask for it
// publishes the result for every subsequent caller.
type Entry struct {
	path string
	size int64
	fs   Opener
	pool *bufpool.Pool

	digestOnce sync.Once
	digest     []byte
	digestErr  error
}

// New creates an Entry for path with the given size, using fs to open the
// file when a digest or bytewise comparison is needed, and pool for the
// block buffers the bytewise compare stage uses.
func New(path string, size int64, fs Opener, pool *bufpool.Pool) *Entry {
	return &Entry{path: path, size: size, fs: fs, pool: pool}
}

// Path returns the file's absolute path.
func (e *Entry) Path() string { return e.path }

// Size returns the file's size as captured at discovery.
func (e *Entry) Size() int64 { return e.size }

// ShortDigest returns the cached short digest, computing it on first call.
// Concurrent callers observe the same computed value (or the same error);
// computation never runs twice for the same Entry.
func (e *Entry) ShortDigest() ([]byte, error) {
	e.digestOnce.Do(func() {
		e.digest, e.digestErr = e.computeDigest()
	})

	return e.digest, e.digestErr
}

func (e *Entry) computeDigest() ([]byte, error) {
	if e.size < smallFileThreshold {
		f, err := e.fs.Open(e.path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", e.path, err)
		}
		defer f.Close()

		buf := make([]byte, e.size)
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, fmt.Errorf("read %s: %w", e.path, err)
		}

		return buf, nil
	}

	f, err := e.fs.Open(e.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.path, err)
	}
	defer f.Close()

	bufSize := int64(e.pool.BlockSize())
	h := sha512.New()

	head := make([]byte, minInt64(bufSize, e.size))
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, fmt.Errorf("read head of %s: %w", e.path, err)
	}

	h.Write(head)

	if e.size > bufSize {
		tailOffset := maxInt64(bufSize, e.size-bufSize)
		tailLen := e.size - tailOffset

		tail := make([]byte, tailLen)
		if _, err := f.ReadAt(tail, tailOffset); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read tail of %s: %w", e.path, err)
		}

		h.Write(tail)
	}

	return h.Sum(nil), nil
}

// ContentEquals runs the equality oracle: size check, zero-size shortcut,
// short-digest comparison, then a full shuffled double-buffered bytewise
// compare. Any I/O error during the bytewise stage is treated as "not
// equal" and returned as a non-nil error so the caller can log it; the
// Entry itself is never mutated by a failed comparison.
func (e *Entry) ContentEquals(other *Entry) (bool, error) {
	if e.size != other.size {
		return false, nil
	}

	if e.size == 0 {
		return true, nil
	}

	d1, err := e.ShortDigest()
	if err != nil {
		return false, fmt.Errorf("short digest of %s: %w", e.path, err)
	}

	d2, err := other.ShortDigest()
	if err != nil {
		return false, fmt.Errorf("short digest of %s: %w", other.path, err)
	}

	if !blockcmp.Equal(d1, len(d1), d2, len(d2)) {
		return false, nil
	}

	return e.bytewiseEqual(other)
}

// blockResult carries both rented leases of one compared block pair so the
// caller can return them to the pool once it is done comparing them.
type blockResult struct {
	leaseA, leaseB *bufpool.Lease
	na, nb         int
	err            error
}

func (e *Entry) bytewiseEqual(other *Entry) (bool, error) {
	fa, err := e.fs.Open(e.path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", e.path, err)
	}
	defer fa.Close()

	fb, err := other.fs.Open(other.path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", other.path, err)
	}
	defer fb.Close()

	bufSize := int64(e.pool.BlockSize())
	blockCount := int((e.size + bufSize - 1) / bufSize)
	order := shuffle.Indices(blockCount)

	if len(order) == 0 {
		return true, nil
	}

	read := func(idx int) blockResult {
		leaseA := e.pool.Rent()
		leaseB := e.pool.Rent()

		off := int64(idx) * bufSize
		n := bufSize
		if off+n > e.size {
			n = e.size - off
		}

		na, errA := readAt(fa, leaseA.Buf, off, n)
		if errA != nil {
			leaseA.Return()
			leaseB.Return()

			return blockResult{err: errA}
		}

		nb, errB := readAt(fb, leaseB.Buf, off, n)
		if errB != nil {
			leaseA.Return()
			leaseB.Return()

			return blockResult{err: errB}
		}

		return blockResult{leaseA: leaseA, leaseB: leaseB, na: na, nb: nb}
	}

	// Double-buffered overlapped I/O: the read for block order[i+1] runs
	// concurrently with the comparison of block order[i].
	next := make(chan blockResult, 1)
	go func() { next <- read(order[0]) }()

	for i := 0; i < len(order); i++ {
		cur := <-next

		hasNext := i+1 < len(order)
		if hasNext {
			idx := order[i+1]
			go func() { next <- read(idx) }()
		}

		if cur.err != nil {
			if hasNext {
				drainPending(next)
			}

			return false, fmt.Errorf("compare block %d of %s/%s: %w", order[i], e.path, other.path, cur.err)
		}

		equal := blockcmp.Equal(cur.leaseA.Buf, cur.na, cur.leaseB.Buf, cur.nb)
		cur.leaseA.Return()
		cur.leaseB.Return()

		if !equal {
			if hasNext {
				drainPending(next)
			}

			return false, nil
		}
	}

	return true, nil
}

func readAt(r io.ReaderAt, buf []byte, off, n int64) (int, error) {
	read, err := r.ReadAt(buf[:n], off)
	if err != nil && !errors.Is(err, io.EOF) {
		return read, err
	}

	return read, nil
}

// drainPending consumes and releases the single read-ahead left in flight
// after an early return. The loop above keeps at most one outstanding
// read at a time (one spawned per iteration, one consumed per iteration,
// next has capacity 1), so an early return always leaves exactly zero or
// one result still pending on next, never more.
func drainPending(next chan blockResult) {
	r := <-next
	if r.leaseA != nil {
		r.leaseA.Return()
	}

	if r.leaseB != nil {
		r.leaseB.Return()
	}
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}
