package linkfs

import (
	"errors"
	"math/rand"
	"os"
	"sync"
)

// ChaosConfig controls fault-injection rates for Chaos, one float64 from
// 0.0 (never) to 1.0 (always) per operation: hard/symbolic link creation,
// rename, remove, and create, the four touch points of the
// Replace-with-Link and Materialize-Back transactions.
type ChaosConfig struct {
	CreateHardLinkFailRate float64
	CreateSymlinkFailRate  float64
	RenameFailRate         float64
	RemoveFailRate         float64
	CreateFailRate         float64
}

// ErrInjected marks an error manufactured by Chaos rather than surfaced
// from the underlying filesystem.
var ErrInjected = errors.New("linkfs: injected fault")

// Chaos wraps a LinkFS and injects configurable failures, letting tests
// drive every compensating-undo branch of the link-replacement and
// materialize-back transactions without needing real disk failures.
type Chaos struct {
	delegate LinkFS
	cfg      ChaosConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewChaos wraps delegate, using seed to make fault injection
// deterministic and reproducible across test runs.
func NewChaos(delegate LinkFS, seed int64, cfg ChaosConfig) *Chaos {
	return &Chaos{delegate: delegate, cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (c *Chaos) should(rate float64) bool {
	if rate <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64() < rate
}

func (c *Chaos) Open(path string) (File, error)   { return c.delegate.Open(path) }
func (c *Chaos) Stat(path string) (os.FileInfo, error)  { return c.delegate.Stat(path) }
func (c *Chaos) Lstat(path string) (os.FileInfo, error) { return c.delegate.Lstat(path) }
func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) { return c.delegate.ReadDir(path) }
func (c *Chaos) ClusterSize(path string) (int, bool)        { return c.delegate.ClusterSize(path) }
func (c *Chaos) GetAttrs(path string) (Attrs, error)        { return c.delegate.GetAttrs(path) }
func (c *Chaos) SetAttrs(path string, a Attrs) error        { return c.delegate.SetAttrs(path, a) }
func (c *Chaos) EnableSparse(path string) error             { return c.delegate.EnableSparse(path) }
func (c *Chaos) EnableCompression(path string) error        { return c.delegate.EnableCompression(path) }
func (c *Chaos) Encrypt(path string) error                  { return c.delegate.Encrypt(path) }

func (c *Chaos) ReadSymlinkTarget(path string) (string, bool, error) {
	return c.delegate.ReadSymlinkTarget(path)
}

func (c *Chaos) HardLinkSiblings(path string) ([]string, error) {
	return c.delegate.HardLinkSiblings(path)
}

func (c *Chaos) Create(path string) (File, error) {
	if c.should(c.cfg.CreateFailRate) {
		return nil, &os.PathError{Op: "create", Path: path, Err: ErrInjected}
	}

	return c.delegate.Create(path)
}

func (c *Chaos) Remove(path string) error {
	if c.should(c.cfg.RemoveFailRate) {
		return &os.PathError{Op: "remove", Path: path, Err: ErrInjected}
	}

	return c.delegate.Remove(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.should(c.cfg.RenameFailRate) {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: ErrInjected}
	}

	return c.delegate.Rename(oldpath, newpath)
}

func (c *Chaos) CreateHardLink(from, at string) error {
	if c.should(c.cfg.CreateHardLinkFailRate) {
		return &os.LinkError{Op: "link", Old: from, New: at, Err: ErrInjected}
	}

	return c.delegate.CreateHardLink(from, at)
}

func (c *Chaos) CreateSymlink(from, at string) error {
	if c.should(c.cfg.CreateSymlinkFailRate) {
		return &os.LinkError{Op: "symlink", Old: from, New: at, Err: ErrInjected}
	}

	return c.delegate.CreateSymlink(from, at)
}

var _ LinkFS = (*Chaos)(nil)
