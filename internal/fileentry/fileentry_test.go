package fileentry_test

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/duplink/duplink/internal/bufpool"
	"github.com/duplink/duplink/internal/fileentry"
	"github.com/duplink/duplink/internal/linkfs"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatal(err)
	}

	return p
}

func TestContentEquals_SmallIdenticalFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := linkfs.NewReal()
	pool := bufpool.New(4096, 4)

	pa := writeFile(t, dir, "a.txt", []byte("abc"))
	pb := writeFile(t, dir, "b.txt", []byte("abc"))

	a := fileentry.New(pa, 3, fs, pool)
	b := fileentry.New(pb, 3, fs, pool)

	equal, err := a.ContentEquals(b)
	if err != nil {
		t.Fatal(err)
	}

	if !equal {
		t.Fatal("expected small identical files to compare equal")
	}
}

func TestContentEquals_ZeroSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := linkfs.NewReal()
	pool := bufpool.New(4096, 4)

	pa := writeFile(t, dir, "a.txt", nil)
	pb := writeFile(t, dir, "b.txt", nil)

	a := fileentry.New(pa, 0, fs, pool)
	b := fileentry.New(pb, 0, fs, pool)

	equal, err := a.ContentEquals(b)
	if err != nil {
		t.Fatal(err)
	}

	if !equal {
		t.Fatal("expected two empty files to compare equal")
	}
}

func TestContentEquals_DifferentSizesAreNotEqual(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := linkfs.NewReal()
	pool := bufpool.New(4096, 4)

	pa := writeFile(t, dir, "a.txt", []byte("abc"))
	pb := writeFile(t, dir, "b.txt", []byte("abcd"))

	a := fileentry.New(pa, 3, fs, pool)
	b := fileentry.New(pb, 4, fs, pool)

	equal, err := a.ContentEquals(b)
	if err != nil {
		t.Fatal(err)
	}

	if equal {
		t.Fatal("expected different-size files to never compare equal")
	}
}

func TestContentEquals_LargeIdenticalFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := linkfs.NewReal()
	pool := bufpool.New(4096, 4)

	rng := rand.New(rand.NewSource(7))
	content := make([]byte, 20000)
	rng.Read(content)

	pa := writeFile(t, dir, "a.bin", content)
	pb := writeFile(t, dir, "b.bin", content)

	a := fileentry.New(pa, int64(len(content)), fs, pool)
	b := fileentry.New(pb, int64(len(content)), fs, pool)

	equal, err := a.ContentEquals(b)
	if err != nil {
		t.Fatal(err)
	}

	if !equal {
		t.Fatal("expected large identical files to compare equal")
	}
}

func TestContentEquals_LargeFilesDifferInTail(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := linkfs.NewReal()
	pool := bufpool.New(4096, 4)

	rng := rand.New(rand.NewSource(7))
	content := make([]byte, 20000)
	rng.Read(content)

	other := bytes.Clone(content)
	other[len(other)-1] ^= 0xFF

	pa := writeFile(t, dir, "a.bin", content)
	pb := writeFile(t, dir, "b.bin", other)

	a := fileentry.New(pa, int64(len(content)), fs, pool)
	b := fileentry.New(pb, int64(len(other)), fs, pool)

	equal, err := a.ContentEquals(b)
	if err != nil {
		t.Fatal(err)
	}

	if equal {
		t.Fatal("expected files differing in last byte to not compare equal")
	}
}

func TestShortDigest_Deterministic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := linkfs.NewReal()
	pool := bufpool.New(4096, 4)

	content := bytes.Repeat([]byte{0x5A}, 9000)
	p := writeFile(t, dir, "a.bin", content)

	e1 := fileentry.New(p, int64(len(content)), fs, pool)
	e2 := fileentry.New(p, int64(len(content)), fs, pool)

	d1, err := e1.ShortDigest()
	if err != nil {
		t.Fatal(err)
	}

	d2, err := e2.ShortDigest()
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(d1, d2) {
		t.Fatal("expected identical content to yield identical digests across independent entries")
	}
}

func TestShortDigest_ComputedOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	counting := &countingOpener{real: linkfs.NewReal()}
	pool := bufpool.New(4096, 4)

	content := bytes.Repeat([]byte{0x11}, 9000)
	p := writeFile(t, dir, "a.bin", content)

	e := fileentry.New(p, int64(len(content)), counting, pool)

	if _, err := e.ShortDigest(); err != nil {
		t.Fatal(err)
	}

	if _, err := e.ShortDigest(); err != nil {
		t.Fatal(err)
	}

	if counting.opens != 1 {
		t.Fatalf("expected digest to open the file exactly once, got %d", counting.opens)
	}
}

func TestContentEquals_MissingFileIsTreatedAsNotEqualWithError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := linkfs.NewReal()
	pool := bufpool.New(4096, 4)

	pa := writeFile(t, dir, "a.bin", bytes.Repeat([]byte{1}, 9000))
	missing := filepath.Join(dir, "missing.bin")

	a := fileentry.New(pa, 9000, fs, pool)
	b := fileentry.New(missing, 9000, fs, pool)

	equal, err := a.ContentEquals(b)
	if equal {
		t.Fatal("expected missing file to never compare equal")
	}

	if err == nil {
		t.Fatal("expected an I/O error to be surfaced")
	}
}

type countingOpener struct {
	real  *linkfs.Real
	opens int
}

func (c *countingOpener) Open(path string) (linkfs.File, error) {
	c.opens++

	return c.real.Open(path)
}
