// Package cli implements the duplink command surface: flag parsing,
// config-file loading, wiring the walker and merger together, and
// human-readable output. duplink exposes a single command, so Run below
// parses flags directly rather than routing through a command dispatch
// map.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/duplink/duplink/internal/bufpool"
	"github.com/duplink/duplink/internal/config"
	"github.com/duplink/duplink/internal/dlog"
	"github.com/duplink/duplink/internal/linkfs"
	"github.com/duplink/duplink/internal/merger"
	"github.com/duplink/duplink/internal/stats"
	"github.com/duplink/duplink/internal/walker"
)

// Exit codes: success regardless of in-run errors, a usage code for bad
// flags or an unreadable config, and a dedicated code for a missing
// directory.
const (
	ExitSuccess          = 0
	ExitUsageError       = 1
	ExitDirectoryNotFound = 255 // a POSIX-byte-safe stand-in for exit status -1
)

// Run parses args, wires the engine, executes the deduplication pass, and
// returns a process exit code. env is the process environment in
// "KEY=VALUE" form, used for config-file resolution.
func Run(out, errOut io.Writer, args []string, env []string) int {
	fs := flag.NewFlagSet("duplink", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	help := fs.BoolP("help", "H", false, "show usage and exit")
	info := fs.BoolP("info", "v", false, "show what would happen without changing anything")
	threads := fs.IntP("threads", "t", 0, "number of crawler threads (0 = default)")
	minSize := fs.Int64P("minimum", "m", 0, "minimum file size in bytes to consider")
	maxSize := fs.Int64P("maximum", "M", 0, "maximum file size in bytes to consider (0 = unlimited)")
	allowSymlink := fs.BoolP("allow-symlink", "s", false, "fall back to a symbolic link if a hard link cannot be created")

	deleteHard := fs.Bool("Dhl", false, "delete files that are already hard links")
	deleteSym := fs.Bool("Dsl", false, "delete files that are already symbolic links")
	deleteBoth := fs.Bool("D", false, "shorthand for -Dhl -Dsl")

	removeHard := fs.Bool("Rhl", false, "materialize hard links back into independent files")
	removeSym := fs.Bool("Rsl", false, "materialize symbolic links back into independent files")
	removeBoth := fs.Bool("R", false, "shorthand for -Rhl -Rsl")

	readonlyNew := fs.Bool("sro", false, "set readonly on newly created links")
	readonlyExisting := fs.Bool("uro", false, "set readonly on already-existing links")
	readonlyBoth := fs.Bool("ro", false, "shorthand for -sro -uro")

	usage := func() {
		fmt.Fprintln(out, "Usage: duplink [flags] [directories...]")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Flags:")
		fs.SetOutput(out)
		fs.PrintDefaults()
		fs.SetOutput(io.Discard)
	}

	// pflag reads "-Dhl" as a run of one-letter shorthands, so the
	// multi-letter link-policy flags are rewritten to their "--" form.
	args = append([]string(nil), args...)

	for i, arg := range args {
		if arg == "--" {
			break
		}

		switch arg {
		case "-Dhl", "-Dsl", "-D", "-Rhl", "-Rsl", "-R", "-sro", "-uro", "-ro":
			args[i] = "-" + arg
		}
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage()

			return ExitSuccess
		}

		fmt.Fprintln(errOut, "error:", err)

		return ExitUsageError
	}

	if *help {
		usage()

		return ExitSuccess
	}

	dirs := fs.Args()

	if len(dirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)

			return ExitUsageError
		}

		dirs = []string{cwd}
	}

	fsys := linkfs.NewReal()

	for _, dir := range dirs {
		if _, err := fsys.Stat(dir); err != nil {
			fmt.Fprintln(errOut, "error: directory not found:", dir)

			return ExitDirectoryNotFound
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return ExitUsageError
	}

	cfg, err := config.Load(cwd, env)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return ExitUsageError
	}

	applyFlags(&cfg, fs, flagValues{
		info:             *info,
		threads:          *threads,
		minSize:          *minSize,
		maxSize:          *maxSize,
		allowSymlink:     *allowSymlink,
		deleteHard:       *deleteHard,
		deleteSym:        *deleteSym,
		deleteBoth:       *deleteBoth,
		removeHard:       *removeHard,
		removeSym:        *removeSym,
		removeBoth:       *removeBoth,
		readonlyNew:      *readonlyNew,
		readonlyExisting: *readonlyExisting,
		readonlyBoth:     *readonlyBoth,
	})

	log := dlog.New(out, errOut)

	blockSize := bufpool.DefaultBlockSize
	if clusterSize, ok := fsys.ClusterSize(dirs[0]); ok {
		blockSize = bufpool.ClampBlockSize(clusterSize)
	}

	pool := bufpool.New(blockSize, 2*cfg.MaxCrawlerThreads)

	rt := stats.New()
	m := merger.New(fsys, cfg, rt, log, pool)

	walker.Run(fsys, dirs, cfg.MaxCrawlerThreads, rt, log, m.Handle)

	printSummary(out, rt)

	// In-run errors never change the exit code; only the pre-flight
	// checks above (flags, directories, config) can produce anything but
	// success.
	return ExitSuccess
}

// printSummary writes the run's final totals to out. Per-file warnings are
// reported as they happen via dlog.Logger rather than buffered here: the
// engine runs many worker goroutines for an unbounded amount of time, and
// the totals are the only thing that has to wait until the walk is done.
func printSummary(out io.Writer, rt *stats.Runtime) {
	snap := rt.Snapshot()

	fmt.Fprintf(out, "files scanned: %d (%d bytes) across %d folders\n", snap.Files, snap.Bytes, snap.Folders)
	fmt.Fprintf(out, "hard links:    seen %d, created %d, deleted %d, removed %d\n",
		snap.Hard.Seen, snap.Hard.Created, snap.Hard.Deleted, snap.Hard.Removed)
	fmt.Fprintf(out, "symlinks:      seen %d, created %d, deleted %d, removed %d\n",
		snap.Symlink.Seen, snap.Symlink.Created, snap.Symlink.Deleted, snap.Symlink.Removed)
}

type flagValues struct {
	info             bool
	threads          int
	minSize          int64
	maxSize          int64
	allowSymlink     bool
	deleteHard       bool
	deleteSym        bool
	deleteBoth       bool
	removeHard       bool
	removeSym        bool
	removeBoth       bool
	readonlyNew      bool
	readonlyExisting bool
	readonlyBoth     bool
}

func applyFlags(cfg *config.Configuration, fs *flag.FlagSet, v flagValues) {
	if v.info {
		cfg.ShowInfoOnly = true
	}

	if fs.Changed("threads") && v.threads > 0 {
		cfg.MaxCrawlerThreads = v.threads
	}

	if fs.Changed("minimum") {
		cfg.MinSizeBytes = v.minSize
	}

	if fs.Changed("maximum") && v.maxSize > 0 {
		cfg.MaxSizeBytes = v.maxSize
	}

	if v.allowSymlink {
		cfg.AlsoTrySymlink = true
	}

	if v.deleteHard || v.deleteBoth {
		cfg.DeleteHardlinks = true
	}

	if v.deleteSym || v.deleteBoth {
		cfg.DeleteSymlinks = true
	}

	if v.removeHard || v.removeBoth {
		cfg.RemoveHardlinks = true
	}

	if v.removeSym || v.removeBoth {
		cfg.RemoveSymlinks = true
	}

	// -sro sets readonly on newly created links, -uro on links that
	// already existed before this run, -ro is shorthand for both.
	if v.readonlyNew || v.readonlyBoth {
		cfg.SetReadonlyOnNewHard = true
		cfg.SetReadonlyOnNewSym = true
	}

	if v.readonlyExisting || v.readonlyBoth {
		cfg.SetReadonlyOnExistingHard = true
		cfg.SetReadonlyOnExistingSym = true
	}
}
