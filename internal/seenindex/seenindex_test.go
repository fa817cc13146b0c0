package seenindex_test

import (
	"sync"
	"testing"

	"github.com/duplink/duplink/internal/fileentry"
	"github.com/duplink/duplink/internal/seenindex"
)

func TestIndex_BucketForSameSizeReturnsSameBucket(t *testing.T) {
	t.Parallel()

	idx := seenindex.New()

	b1 := idx.BucketFor(1024)
	b2 := idx.BucketFor(1024)

	if b1 != b2 {
		t.Fatal("expected the same bucket for the same size")
	}
}

func TestIndex_BucketForDifferentSizesReturnsDifferentBuckets(t *testing.T) {
	t.Parallel()

	idx := seenindex.New()

	b1 := idx.BucketFor(1024)
	b2 := idx.BucketFor(2048)

	if b1 == b2 {
		t.Fatal("expected distinct buckets for distinct sizes")
	}
}

func TestIndex_ConcurrentBucketForSameSizeConverges(t *testing.T) {
	t.Parallel()

	idx := seenindex.New()

	const workers = 64

	results := make([]*seenindex.Bucket, workers)

	var wg sync.WaitGroup

	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()

			results[i] = idx.BucketFor(42)
		}(i)
	}

	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatal("expected every concurrent caller to converge on one bucket")
		}
	}
}

func TestBucket_PutIfAbsentIsNoOpWhenPresent(t *testing.T) {
	t.Parallel()

	idx := seenindex.New()
	b := idx.BucketFor(100)

	b.Lock()
	first := b.PutIfAbsent("/a", fileentry.New("/a", 100, nil, nil))
	second := b.PutIfAbsent("/a", fileentry.New("/a", 100, nil, nil))
	b.Unlock()

	if first != second {
		t.Fatal("expected PutIfAbsent to keep the first entry inserted under a path")
	}
}

func TestBucket_OthersExcludesSelf(t *testing.T) {
	t.Parallel()

	idx := seenindex.New()
	b := idx.BucketFor(100)

	ea := fileentry.New("/a", 100, nil, nil)
	eb := fileentry.New("/b", 100, nil, nil)
	ec := fileentry.New("/c", 100, nil, nil)

	b.Lock()
	b.PutIfAbsent(ea.Path(), ea)
	b.PutIfAbsent(eb.Path(), eb)
	b.PutIfAbsent(ec.Path(), ec)

	others := b.Others("/b")
	b.Unlock()

	if len(others) != 2 {
		t.Fatalf("expected 2 others, got %d", len(others))
	}

	for _, o := range others {
		if o.Path() == "/b" {
			t.Fatal("Others must not include the queried path")
		}
	}
}

func TestBucket_DeleteRemovesEntry(t *testing.T) {
	t.Parallel()

	idx := seenindex.New()
	b := idx.BucketFor(100)

	e := fileentry.New("/a", 100, nil, nil)

	b.Lock()
	b.PutIfAbsent(e.Path(), e)

	if b.Len() != 1 {
		b.Unlock()
		t.Fatalf("expected 1 entry, got %d", b.Len())
	}

	b.Delete(e.Path())

	if _, ok := b.Get(e.Path()); ok {
		b.Unlock()
		t.Fatal("expected entry to be gone after Delete")
	}

	b.Unlock()
}

func TestIndex_SizesReflectsAllBuckets(t *testing.T) {
	t.Parallel()

	idx := seenindex.New()
	idx.BucketFor(1)
	idx.BucketFor(2)
	idx.BucketFor(3)

	sizes := idx.Sizes()
	if len(sizes) != 3 {
		t.Fatalf("expected 3 distinct sizes, got %d", len(sizes))
	}
}
