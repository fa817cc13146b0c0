// Package config holds the run-wide tunables (size bounds, link-handling
// flags, crawler thread count) and an optional on-disk JSONC overlay that
// merges on top of the defaults, using github.com/tailscale/hujson to
// tolerate comments and trailing commas.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tailscale/hujson"
)

// Configuration holds the size bounds, the boolean behavior flags, and the
// crawler thread count for one run. It is constructed once before the walk
// and shared read-only by every worker.
type Configuration struct {
	MinSizeBytes int64
	MaxSizeBytes int64

	AlsoTrySymlink bool

	DeleteHardlinks bool
	DeleteSymlinks  bool

	RemoveHardlinks bool
	RemoveSymlinks  bool

	SetReadonlyOnNewHard      bool
	SetReadonlyOnNewSym       bool
	SetReadonlyOnExistingHard bool
	SetReadonlyOnExistingSym  bool

	ShowInfoOnly bool

	MaxCrawlerThreads int
}

// Default returns the baseline Configuration: min size 1 byte, no max, and
// min(logical CPUs, 8) crawler threads.
func Default() Configuration {
	return Configuration{
		MinSizeBytes:      1,
		MaxSizeBytes:      math.MaxInt64,
		MaxCrawlerThreads: defaultThreads(),
	}
}

func defaultThreads() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}

	if n < 1 {
		n = 1
	}

	return n
}

// FileName is the default project-local config file name, checked in the
// working directory.
const FileName = "duplink.json"

// overlay is the on-disk shape: every field optional, so a config file only
// needs to mention the settings it wants to pin. Pointers distinguish
// "absent" from "explicitly false/zero".
type overlay struct {
	MinSizeBytes *int64 `json:"min_size_bytes,omitempty"`
	MaxSizeBytes *int64 `json:"max_size_bytes,omitempty"`

	AlsoTrySymlink *bool `json:"also_try_symlink,omitempty"`

	DeleteHardlinks *bool `json:"delete_hardlinks,omitempty"`
	DeleteSymlinks  *bool `json:"delete_symlinks,omitempty"`

	RemoveHardlinks *bool `json:"remove_hardlinks,omitempty"`
	RemoveSymlinks  *bool `json:"remove_symlinks,omitempty"`

	SetReadonlyOnNewHard      *bool `json:"set_readonly_on_new_hard,omitempty"`
	SetReadonlyOnNewSym       *bool `json:"set_readonly_on_new_sym,omitempty"`
	SetReadonlyOnExistingHard *bool `json:"set_readonly_on_existing_hard,omitempty"`
	SetReadonlyOnExistingSym  *bool `json:"set_readonly_on_existing_sym,omitempty"`

	MaxCrawlerThreads *int `json:"max_crawler_threads,omitempty"`
}

// Load applies, in increasing precedence: the hard-coded defaults, the
// global config file ($XDG_CONFIG_HOME/duplink/config.json, falling back to
// ~/.config/duplink/config.json), and a project-local duplink.json in
// workDir. Missing files at any tier are not an error. CLI flags are
// applied on top of the result by internal/cli, not here.
func Load(workDir string, env []string) (Configuration, error) {
	cfg := Default()

	globalPath := globalConfigPath(env)
	if globalPath != "" {
		ov, found, err := readOverlay(globalPath)
		if err != nil {
			return Configuration{}, err
		}

		if found {
			cfg = merge(cfg, ov)
		}
	}

	projectPath := filepath.Join(workDir, FileName)

	ov, found, err := readOverlay(projectPath)
	if err != nil {
		return Configuration{}, err
	}

	if found {
		cfg = merge(cfg, ov)
	}

	return cfg, nil
}

func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok && after != "" {
			return filepath.Join(after, "duplink", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "duplink", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "duplink", "config.json")
}

func readOverlay(path string) (overlay, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is a well-known config location
	if err != nil {
		if os.IsNotExist(err) {
			return overlay{}, false, nil
		}

		return overlay{}, false, fmt.Errorf("read config %s: %w", path, err)
	}

	ov, err := parseOverlay(data)
	if err != nil {
		return overlay{}, false, fmt.Errorf("parse config %s: %w", path, err)
	}

	return ov, true, nil
}

func parseOverlay(data []byte) (overlay, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return overlay{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var ov overlay
	if err := json.Unmarshal(standardized, &ov); err != nil {
		return overlay{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return ov, nil
}

func merge(base Configuration, ov overlay) Configuration {
	if ov.MinSizeBytes != nil {
		base.MinSizeBytes = *ov.MinSizeBytes
	}

	if ov.MaxSizeBytes != nil {
		base.MaxSizeBytes = *ov.MaxSizeBytes
	}

	if ov.AlsoTrySymlink != nil {
		base.AlsoTrySymlink = *ov.AlsoTrySymlink
	}

	if ov.DeleteHardlinks != nil {
		base.DeleteHardlinks = *ov.DeleteHardlinks
	}

	if ov.DeleteSymlinks != nil {
		base.DeleteSymlinks = *ov.DeleteSymlinks
	}

	if ov.RemoveHardlinks != nil {
		base.RemoveHardlinks = *ov.RemoveHardlinks
	}

	if ov.RemoveSymlinks != nil {
		base.RemoveSymlinks = *ov.RemoveSymlinks
	}

	if ov.SetReadonlyOnNewHard != nil {
		base.SetReadonlyOnNewHard = *ov.SetReadonlyOnNewHard
	}

	if ov.SetReadonlyOnNewSym != nil {
		base.SetReadonlyOnNewSym = *ov.SetReadonlyOnNewSym
	}

	if ov.SetReadonlyOnExistingHard != nil {
		base.SetReadonlyOnExistingHard = *ov.SetReadonlyOnExistingHard
	}

	if ov.SetReadonlyOnExistingSym != nil {
		base.SetReadonlyOnExistingSym = *ov.SetReadonlyOnExistingSym
	}

	if ov.MaxCrawlerThreads != nil {
		base.MaxCrawlerThreads = *ov.MaxCrawlerThreads
	}

	return base
}
