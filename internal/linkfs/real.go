package linkfs

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrUnsupported is returned by operations this platform cannot perform at
// all (see Encrypt).
var ErrUnsupported = errors.New("linkfs: unsupported on this platform")

// dosAttrXattr stores the hidden/system/archive/not-content-indexed bits
// that ext4/xfs/btrfs have no native equivalent for. Samba's vfs_acl_xattr
// module persists the same four Windows DOS attributes this way (under the
// name "user.DOSATTRIB") when serving POSIX filesystems over SMB; linkfs
// reuses that convention under its own namespace rather than inventing a
// new on-disk format.
const dosAttrXattr = "user.linkfs.dosattrib"

const (
	attrHidden = 1 << iota
	attrSystem
	attrArchive
	attrNotContentIndexed
)

type inodeKey struct {
	dev uint64
	ino uint64
}

// Real implements LinkFS against the real operating system.
//
// All FS methods are pure passthroughs to the os package. HardLinkSiblings
// is the one method with no direct passthrough: Linux has no syscall that
// maps an inode back to every path referencing it, so Real keeps an in-process
// (dev, ino) -> []path reverse index, populated as each path is queried.
// A sibling created inside the walked tree but not yet visited will not
// appear until it, too, is visited — an inherent limitation of answering
// this query from userspace rather than a false economy.
type Real struct {
	mu     sync.Mutex
	inodes map[inodeKey][]string
}

// NewReal returns a ready-to-use Real.
func NewReal() *Real {
	return &Real{inodes: make(map[inodeKey][]string)}
}

func (r *Real) Open(path string) (File, error)   { return os.Open(path) }
func (r *Real) Create(path string) (File, error) { return os.Create(path) }

func (r *Real) Stat(path string) (os.FileInfo, error)  { return os.Stat(path) }
func (r *Real) Lstat(path string) (os.FileInfo, error) { return os.Lstat(path) }

func (r *Real) Remove(path string) error { return os.Remove(path) }

func (r *Real) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (r *Real) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }

func (r *Real) CreateHardLink(from, at string) error {
	return os.Link(from, at)
}

func (r *Real) CreateSymlink(from, at string) error {
	return os.Symlink(from, at)
}

func (r *Real) ReadSymlinkTarget(path string) (string, bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", false, err
	}

	if info.Mode()&os.ModeSymlink == 0 {
		return "", false, nil
	}

	target, err := os.Readlink(path)
	if err != nil {
		return "", false, err
	}

	return target, true, nil
}

func (r *Real) HardLinkSiblings(path string) ([]string, error) {
	// Lstat, not Stat: path itself may be a symlink, which has its own
	// inode distinct from whatever it points to. Following the link here
	// would report siblings of the target, not of path.
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return nil, fmt.Errorf("lstat %s: %w", path, err)
	}

	key := inodeKey{dev: uint64(st.Dev), ino: st.Ino}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.inodes[key]

	siblings := make([]string, 0, len(existing))

	found := false

	for _, p := range existing {
		if p == path {
			found = true

			continue
		}

		siblings = append(siblings, p)
	}

	if !found {
		r.inodes[key] = append(existing, path)
	}

	return siblings, nil
}

func (r *Real) ClusterSize(path string) (int, bool) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, false
	}

	if st.Bsize <= 0 {
		return 0, false
	}

	return int(st.Bsize), true
}

func (r *Real) GetAttrs(path string) (Attrs, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Attrs{}, err
	}

	attrs := Attrs{Readonly: info.Mode()&0o222 == 0}

	buf := make([]byte, 1)

	n, err := unix.Getxattr(path, dosAttrXattr, buf)
	if err != nil || n != 1 {
		return attrs, nil // no xattr recorded: DOS bits default to unset
	}

	bits := buf[0]
	attrs.Hidden = bits&attrHidden != 0
	attrs.System = bits&attrSystem != 0
	attrs.Archive = bits&attrArchive != 0
	attrs.NotContentIndexed = bits&attrNotContentIndexed != 0

	return attrs, nil
}

func (r *Real) SetAttrs(path string, attrs Attrs) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if attrs.Readonly {
		mode &^= 0o222
	} else {
		mode |= 0o200
	}

	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	var bits byte

	if attrs.Hidden {
		bits |= attrHidden
	}

	if attrs.System {
		bits |= attrSystem
	}

	if attrs.Archive {
		bits |= attrArchive
	}

	if attrs.NotContentIndexed {
		bits |= attrNotContentIndexed
	}

	// Best effort: not every filesystem (or mount option) supports user
	// extended attributes, and hidden/system/archive/not-content-indexed
	// have no correctness impact on deduplication itself.
	_ = unix.Setxattr(path, dosAttrXattr, []byte{bits}, 0)

	return nil
}

func (r *Real) EnableSparse(string) error {
	// No portable Linux syscall marks an existing file sparse after the
	// fact (ext4/xfs/btrfs all allocate sparse regions implicitly via
	// seek-and-write past EOF); treated as a tolerated no-op.
	return nil
}

func (r *Real) EnableCompression(string) error {
	// Transparent compression is a mount- or filesystem-level property
	// (e.g. Btrfs "compress" mount option) that cannot be toggled per file
	// through a stable syscall; treated as a tolerated no-op.
	return nil
}

func (r *Real) Encrypt(string) error {
	// Linux has no built-in per-file encryption attribute equivalent to
	// NTFS EFS reachable without pulling in fscrypt's key-management
	// ioctls, which need key setup this package has no business doing
	// implicitly. Unlike Sparse/Compression this attribute must fail
	// loudly rather than be tolerated when explicitly requested, so
	// returning an error here is correct behavior, not a missing feature.
	return ErrUnsupported
}

var _ LinkFS = (*Real)(nil)
