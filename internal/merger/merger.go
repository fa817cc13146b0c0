// Package merger implements the duplicate merger, the orchestration core
// that decides, for every discovered file, whether it already is a link,
// and if not, whether some other file seen so far is byte-identical to it
// and can be linked against instead.
package merger

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/duplink/duplink/internal/bufpool"
	"github.com/duplink/duplink/internal/config"
	"github.com/duplink/duplink/internal/dlog"
	"github.com/duplink/duplink/internal/fileentry"
	"github.com/duplink/duplink/internal/linkfs"
	"github.com/duplink/duplink/internal/seenindex"
	"github.com/duplink/duplink/internal/stats"
)

// maxTempAttempts bounds the temp-file reservation retry loop: on a
// name collision the reservation retries under a new candidate name; a
// real collision chain this long would indicate a filesystem problem, not
// a transient race.
const maxTempAttempts = 1000

// Merger drives the per-file duplicate-resolution algorithm over every
// file a walker hands it. One Merger is shared by every worker goroutine;
// all of its mutable state lives inside the size-keyed seenindex.Index,
// which itself enforces the per-bucket serialization the algorithm
// requires.
type Merger struct {
	fs   linkfs.LinkFS
	idx  *seenindex.Index
	cfg  config.Configuration
	rt   *stats.Runtime
	log  *dlog.Logger
	pool *bufpool.Pool
}

// New returns a ready-to-use Merger.
func New(fs linkfs.LinkFS, cfg config.Configuration, rt *stats.Runtime, log *dlog.Logger, pool *bufpool.Pool) *Merger {
	return &Merger{fs: fs, idx: seenindex.New(), cfg: cfg, rt: rt, log: log, pool: pool}
}

// Handle implements walker.FileHandler: for each discovered file it checks
// size bounds, looks for existing hard-link siblings or a symlink target,
// and otherwise compares against every other file seen so far at the same
// size, linking against the first byte-identical match it finds.
func (m *Merger) Handle(path string, size int64) {
	m.rt.AddFile(size)

	if size < m.cfg.MinSizeBytes || size > m.cfg.MaxSizeBytes {
		return
	}

	bucket := m.idx.BucketFor(size)
	bucket.Lock()
	defer bucket.Unlock()

	entry := bucket.PutIfAbsent(path, fileentry.New(path, size, m.fs, m.pool))

	siblings, err := m.fs.HardLinkSiblings(path)
	if err != nil {
		bucket.Delete(path)
		m.log.Warnf("hard link lookup failed for %s: %v", path, err)

		return
	}

	for _, sibling := range siblings {
		bucket.PutIfAbsent(sibling, fileentry.New(sibling, size, m.fs, m.pool))
	}

	if len(siblings) > 0 {
		m.rt.Hard.Seen()

		if m.cfg.ShowInfoOnly {
			return
		}

		m.handleExistingHardLink(path, bucket)

		return
	}

	target, isSymlink, err := m.fs.ReadSymlinkTarget(path)
	if err != nil {
		bucket.Delete(path)
		m.log.Warnf("symlink lookup failed for %s: %v", path, err)

		return
	}

	if isSymlink {
		// Registered in f's own bucket, not the target's: the target's
		// true content size may differ from the symlink's own lstat size,
		// but resolving that would mean a second size lookup the moment a
		// path is discovered, before its file type is even known.
		bucket.PutIfAbsent(target, fileentry.New(target, size, m.fs, m.pool))

		m.rt.Symlink.Seen()

		if m.cfg.ShowInfoOnly {
			return
		}

		m.handleExistingSymlink(path, bucket)

		return
	}

	if m.cfg.ShowInfoOnly {
		return
	}

	for _, twin := range bucket.Others(path) {
		equal, err := entry.ContentEquals(twin)
		if err != nil {
			m.log.Warnf("compare %s against %s: %v", path, twin.Path(), err)

			continue
		}

		if !equal {
			continue
		}

		if m.replaceWithLink(path, twin.Path()) {
			return
		}
	}
}

// handleExistingHardLink applies the configured policy to a file that is
// already a hard link.
func (m *Merger) handleExistingHardLink(path string, bucket *seenindex.Bucket) {
	switch {
	case m.cfg.DeleteHardlinks:
		bucket.Delete(path)
		m.clearProtectiveAttrs(path)

		if err := m.fs.Remove(path); err != nil {
			m.log.Warnf("delete hard link %s: %v", path, err)

			return
		}

		m.rt.Hard.Deleted()
		m.log.Infof("deleted hard link %s", path)

	case m.cfg.RemoveHardlinks:
		bucket.Delete(path)

		if err := m.materializeBack(path); err != nil {
			m.log.Warnf("materialize-back of hard link %s: %v", path, err)

			return
		}

		m.rt.Hard.Removed()
		m.log.Infof("materialized hard link %s back to independent content", path)

	case m.cfg.SetReadonlyOnExistingHard:
		m.setReadonlyIfNeeded(path)

	default:
		m.log.Infof("%s is already a hard link", path)
	}
}

// handleExistingSymlink applies the configured policy to a file that is
// already a symlink, symmetric with handleExistingHardLink.
func (m *Merger) handleExistingSymlink(path string, bucket *seenindex.Bucket) {
	switch {
	case m.cfg.DeleteSymlinks:
		bucket.Delete(path)
		m.clearProtectiveAttrs(path)

		if err := m.fs.Remove(path); err != nil {
			m.log.Warnf("delete symlink %s: %v", path, err)

			return
		}

		m.rt.Symlink.Deleted()
		m.log.Infof("deleted symlink %s", path)

	case m.cfg.RemoveSymlinks:
		bucket.Delete(path)

		if err := m.materializeBack(path); err != nil {
			m.log.Warnf("materialize-back of symlink %s: %v", path, err)

			return
		}

		m.rt.Symlink.Removed()
		m.log.Infof("materialized symlink %s back to independent content", path)

	case m.cfg.SetReadonlyOnExistingSym:
		m.setReadonlyIfNeeded(path)

	default:
		m.log.Infof("%s is already a symlink", path)
	}
}

func (m *Merger) setReadonlyIfNeeded(path string) {
	attrs, err := m.fs.GetAttrs(path)
	if err != nil {
		m.log.Warnf("read attrs of %s: %v", path, err)

		return
	}

	if attrs.Readonly {
		return
	}

	attrs.Readonly = true
	if err := m.fs.SetAttrs(path, attrs); err != nil {
		m.log.Warnf("set readonly on %s: %v", path, err)
	}
}

func (m *Merger) clearProtectiveAttrs(path string) {
	attrs, err := m.fs.GetAttrs(path)
	if err != nil {
		return
	}

	attrs.Readonly = false
	attrs.System = false
	attrs.Hidden = false
	_ = m.fs.SetAttrs(path, attrs)
}

// replaceWithLink runs the Replace-with-Link transaction: it reserves a
// temp name, links it against t's content, and swaps it into place at f.
// Returns true iff f now points at t's content via a new hard or symbolic
// link.
func (m *Merger) replaceWithLink(f, t string) bool {
	tempPath, err := m.reserveTemp(f)
	if err != nil {
		m.log.Warnf("reserve temp name for %s: %v", f, err)

		return false
	}

	hard := true

	if err := m.fs.CreateHardLink(t, tempPath); err != nil {
		if !m.cfg.AlsoTrySymlink {
			m.log.Warnf("create hard link %s -> %s: %v", f, t, err)

			return false
		}

		hard = false

		if err := m.fs.CreateSymlink(t, tempPath); err != nil {
			m.log.Warnf("create symlink %s -> %s: %v", f, t, err)

			return false
		}
	}

	if !m.swapIn(f, tempPath) {
		return false
	}

	if hard {
		if m.cfg.SetReadonlyOnNewHard {
			m.setReadonlyIfNeeded(f)
		}

		m.rt.Hard.Created()
		m.log.Infof("linked %s -> %s (hard link)", f, t)
	} else {
		if m.cfg.SetReadonlyOnNewSym {
			m.setReadonlyIfNeeded(f)
		}

		m.rt.Symlink.Created()
		m.log.Infof("linked %s -> %s (symlink)", f, t)
	}

	return true
}

// swapIn clears f's protective attributes, deletes f, then renames
// tempPath into place, with a compensating recovery for each failure
// point.
func (m *Merger) swapIn(f, tempPath string) bool {
	m.clearProtectiveAttrs(f)

	if err := m.fs.Remove(f); err != nil {
		// f was not deleted: the attempted link never took effect, discard
		// the reservation and leave f untouched.
		if rmErr := m.fs.Remove(tempPath); rmErr != nil {
			m.log.Warnf("cleanup temp %s after failed delete of %s: %v", tempPath, f, rmErr)
		}

		m.log.Warnf("delete %s before swap: %v", f, err)

		return false
	}

	if err := m.fs.Rename(tempPath, f); err != nil {
		// f is already gone: recover by copying the reserved link's
		// content back into place rather than leaving f missing.
		if copyErr := m.copyFile(tempPath, f); copyErr != nil {
			m.log.Warnf("rename %s into place failed (%v) and recovery copy also failed: %v", f, err, copyErr)
		} else {
			m.log.Warnf("rename %s into place failed, recovered original content via copy: %v", f, err)
		}

		if rmErr := m.fs.Remove(tempPath); rmErr != nil {
			m.log.Warnf("cleanup temp %s after failed rename: %v", tempPath, rmErr)
		}

		return false
	}

	return true
}

// materializeBackState tracks materializeBack's compensation state machine.
type materializeBackState int

const (
	mbNotStarted materializeBackState = iota
	mbCopying
	mbDeleting
	mbRenaming
	mbAttributing
	mbDone
)

// materializeBack replaces a link at f with an independent copy of the
// content it resolves to.
func (m *Merger) materializeBack(f string) (err error) {
	state := mbNotStarted

	var tempPath string

	var original linkfs.Attrs

	defer func() {
		switch state {
		case mbNotStarted, mbDone:
			// nothing to compensate
		case mbCopying, mbDeleting:
			m.clearProtectiveAttrs(tempPath)

			if rmErr := m.fs.Remove(tempPath); rmErr != nil {
				m.log.Warnf("cleanup temp %s during materialize-back of %s: %v", tempPath, f, rmErr)
			}
		case mbRenaming:
			if renErr := m.fs.Rename(tempPath, f); renErr != nil {
				m.log.Warnf("failed to restore %s after materialize-back rename failure: %v", f, renErr)
			}
		case mbAttributing:
			// Content is already safely in place at f; a partially
			// applied attribute set is non-fatal here, so log and
			// continue rather than unwind.
			m.log.Warnf("materialize-back of %s: attribute restoration incomplete: %v", f, err)
		}
	}()

	original, err = m.fs.GetAttrs(f)
	if err != nil {
		return fmt.Errorf("read attrs of %s: %w", f, err)
	}

	tempPath, err = m.reserveTemp(f)
	if err != nil {
		return fmt.Errorf("reserve temp for %s: %w", f, err)
	}

	state = mbCopying

	// Best-effort: errors tolerated for every attribute except Encrypt,
	// which this host never reports as having been requested (linkfs has
	// no "is path encrypted" query), so it is never called here.
	_ = m.fs.EnableSparse(tempPath)
	_ = m.fs.EnableCompression(tempPath)

	if err = m.copyFile(f, tempPath); err != nil {
		return fmt.Errorf("copy %s to temp: %w", f, err)
	}

	state = mbDeleting

	if err = m.fs.Remove(f); err != nil {
		return fmt.Errorf("remove %s: %w", f, err)
	}

	state = mbRenaming

	if err = m.fs.Rename(tempPath, f); err != nil {
		return fmt.Errorf("rename temp into %s: %w", f, err)
	}

	state = mbAttributing

	if err = m.fs.SetAttrs(f, original); err != nil {
		// state stays mbAttributing; deferred compensation logs and
		// swallows rather than unwinding content already in place.
		return nil //nolint:nilerr // intentional: attribute failure here is non-fatal
	}

	state = mbDone

	return nil
}

// reserveTemp reserves a uniquely-named temporary file next to f, then
// immediately frees the name again so only the reservation (not the file)
// survives.
func (m *Merger) reserveTemp(f string) (string, error) {
	base := f + ".$$$"

	for i := 0; i < maxTempAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s.%d", base, i)
		}

		if _, err := m.fs.Lstat(candidate); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}

		file, err := m.fs.Create(candidate)
		if err != nil {
			return "", err
		}

		if err := file.Close(); err != nil {
			return "", err
		}

		if err := m.fs.Remove(candidate); err != nil {
			return "", err
		}

		return candidate, nil
	}

	return "", fmt.Errorf("could not reserve a temp name for %s after %d attempts", f, maxTempAttempts)
}

func (m *Merger) copyFile(src, dst string) error {
	in, err := m.fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := m.fs.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}

	return nil
}
