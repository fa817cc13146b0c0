// Package walker implements the parallel directory walker. It drives a
// workstack.Stack over a real directory tree, pushing subdirectories for
// other workers to steal and dispatching every regular file it encounters
// to a caller-supplied handler.
package walker

import (
	"io/fs"
	"path/filepath"

	"github.com/duplink/duplink/internal/dlog"
	"github.com/duplink/duplink/internal/linkfs"
	"github.com/duplink/duplink/internal/stats"
	"github.com/duplink/duplink/internal/workstack"
)

// FileHandler is invoked once per regular file discovered during the walk.
// It is called concurrently from every worker goroutine and must be safe
// for concurrent use.
type FileHandler func(path string, size int64)

// Run walks roots with workers concurrent goroutines, calling handle for
// every regular file found. It returns once every directory reachable from
// roots has been visited exactly once.
//
// A directory that cannot be read is logged at warning and skipped; an
// entry whose info cannot be read is logged and only that entry is
// skipped. Neither aborts the run.
func Run(fsys linkfs.FS, roots []string, workers int, rt *stats.Runtime, log *dlog.Logger, handle FileHandler) {
	stack := workstack.New(roots, workers)

	done := make(chan struct{})

	for i := 0; i < workers; i++ {
		go func() {
			worker(fsys, stack, rt, log, handle)
			done <- struct{}{}
		}()
	}

	for i := 0; i < workers; i++ {
		<-done
	}
}

func worker(fsys linkfs.FS, stack *workstack.Stack, rt *stats.Runtime, log *dlog.Logger, handle FileHandler) {
	for {
		dir, ok := stack.Pop()
		if !ok {
			return
		}

		visit(fsys, dir, stack, rt, log, handle)
	}
}

func visit(fsys linkfs.FS, dir string, stack *workstack.Stack, rt *stats.Runtime, log *dlog.Logger, handle FileHandler) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		log.Warnf("skipping directory %s: %v", dir, err)

		return
	}

	rt.AddFolder()

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			stack.Push(full)

			continue
		}

		// Symlinks are handled by the merger once it queries their target;
		// the walker only filters out other non-regular entries (devices,
		// sockets, pipes, ...).
		mode := entry.Type()
		if !mode.IsRegular() && mode&fs.ModeSymlink == 0 {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warnf("skipping %s: %v", full, err)

			continue
		}

		handle(full, info.Size())
	}
}
