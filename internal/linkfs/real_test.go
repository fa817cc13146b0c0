package linkfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/duplink/duplink/internal/linkfs"
)

func TestReal_CreateHardLink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")

	if err := os.WriteFile(a, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := linkfs.NewReal()

	if err := r.CreateHardLink(a, b); err != nil {
		t.Fatalf("CreateHardLink: %v", err)
	}

	data, err := os.ReadFile(b)
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "hello" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestReal_HardLinkSiblings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	c := filepath.Join(dir, "c.txt")

	if err := os.WriteFile(a, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := os.Link(a, b); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(c, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := linkfs.NewReal()

	// a has not been visited yet: siblings unknown until b is queried too.
	siblingsOfA, err := r.HardLinkSiblings(a)
	if err != nil {
		t.Fatal(err)
	}

	if len(siblingsOfA) != 0 {
		t.Fatalf("expected no known siblings of a yet, got %v", siblingsOfA)
	}

	siblingsOfB, err := r.HardLinkSiblings(b)
	if err != nil {
		t.Fatal(err)
	}

	if len(siblingsOfB) != 1 || siblingsOfB[0] != a {
		t.Fatalf("expected b's sibling to be a, got %v", siblingsOfB)
	}

	// c shares no inode with a/b, so it has no siblings even though a is
	// already indexed.
	siblingsOfC, err := r.HardLinkSiblings(c)
	if err != nil {
		t.Fatal(err)
	}

	if len(siblingsOfC) != 0 {
		t.Fatalf("expected no siblings for c, got %v", siblingsOfC)
	}
}

func TestReal_ReadSymlinkTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	link := filepath.Join(dir, "link.txt")

	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	r := linkfs.NewReal()

	got, isSymlink, err := r.ReadSymlinkTarget(link)
	if err != nil {
		t.Fatal(err)
	}

	if !isSymlink || got != target {
		t.Fatalf("got (%q, %v), want (%q, true)", got, isSymlink, target)
	}

	_, isSymlink, err = r.ReadSymlinkTarget(target)
	if err != nil {
		t.Fatal(err)
	}

	if isSymlink {
		t.Fatal("expected regular file to not be reported as a symlink")
	}
}

func TestReal_ReadonlyAttr(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "f.txt")

	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := linkfs.NewReal()

	if err := r.SetAttrs(p, linkfs.Attrs{Readonly: true}); err != nil {
		t.Fatal(err)
	}

	attrs, err := r.GetAttrs(p)
	if err != nil {
		t.Fatal(err)
	}

	if !attrs.Readonly {
		t.Fatal("expected file to be readonly")
	}

	if err := r.SetAttrs(p, linkfs.Attrs{Readonly: false}); err != nil {
		t.Fatal(err)
	}

	attrs, err = r.GetAttrs(p)
	if err != nil {
		t.Fatal(err)
	}

	if attrs.Readonly {
		t.Fatal("expected file to no longer be readonly")
	}
}

func TestReal_EncryptUnsupported(t *testing.T) {
	t.Parallel()

	r := linkfs.NewReal()
	if err := r.Encrypt(filepath.Join(t.TempDir(), "f.txt")); err == nil {
		t.Fatal("expected Encrypt to fail on this platform")
	}
}

func TestReal_ClusterSize(t *testing.T) {
	t.Parallel()

	r := linkfs.NewReal()

	size, ok := r.ClusterSize(t.TempDir())
	if !ok {
		t.Fatal("expected cluster size to be determinable on a local filesystem")
	}

	if size <= 0 {
		t.Fatalf("expected positive cluster size, got %d", size)
	}
}
