package manifest

import (
	"maps"
	"slices"
)

// BuildConfig selects what ends up in the bundle and how.
type BuildConfig struct {
	// OptimizationLevel is passed to the bytecode compiler (0, 1 or 2).
	OptimizationLevel int `json:"optimization_level"`

	// LibInclude and LibExclude are mutually exclusive; see SetLibInclude.
	LibInclude []string `json:"lib_include,omitempty"`
	LibExclude []string `json:"lib_exclude,omitempty"`

	// AppExclude lists relative path prefixes vetoed on the application side.
	AppExclude []string `json:"app_exclude,omitempty"`

	// FileExclude lists glob patterns vetoed before any write.
	FileExclude []string `json:"file_exclude,omitempty"`

	Copy []CopyRule `json:"copy,omitempty"`

	TreeshakeApp  bool `json:"treeshake_app"`
	TreeshakeLibs bool `json:"treeshake_libs"`

	// StdlibExtras are stdlib-relative files always added to the runtime archive.
	// Native binaries among them go into the support directory instead.
	StdlibExtras []string `json:"stdlib_extras,omitempty"`

	// UseTk and UseSqlite force the platform support copies even when the trace
	// did not load the corresponding extension.
	UseTk     bool `json:"use_tk,omitempty"`
	UseSqlite bool `json:"use_sqlite,omitempty"`
}

// DefaultBuildConfig returns the configuration used when nothing is specified.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		StdlibExtras: []string{"encodings/cp437.py"},
	}
}

// SetOptimizationLevel clamps level into the supported range.
func (c *BuildConfig) SetOptimizationLevel(level int) {
	c.OptimizationLevel = max(0, min(level, 2))
}

// SetLibInclude switches library selection to include-mode. Any exclude set is
// cleared and library treeshaking is enabled.
func (c *BuildConfig) SetLibInclude(names ...string) {
	c.LibInclude = normalizeSet(names)
	c.LibExclude = nil
	c.TreeshakeLibs = true
}

// SetLibExclude switches library selection to exclude-mode. Any include set is
// cleared and library treeshaking is enabled.
func (c *BuildConfig) SetLibExclude(names ...string) {
	c.LibExclude = normalizeSet(names)
	c.LibInclude = nil
	c.TreeshakeLibs = true
}

// SetTreeshake enables treeshaking of both the application and libraries.
func (c *BuildConfig) SetTreeshake() {
	c.TreeshakeApp = true
	c.TreeshakeLibs = true
}

func normalizeSet(names []string) []string {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(set))
}
