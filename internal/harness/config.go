// Package harness runs end-to-end build scenarios described under testdata/.
package harness

import "github.com/715d/pypack/pkg/manifest"

// BuildConfiguration is one build of a test case's trace.
type BuildConfiguration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	TreeshakeApp  bool     `yaml:"treeshake_app"`
	TreeshakeLibs bool     `yaml:"treeshake_libs"`
	LibInclude    []string `yaml:"lib_include"`
	LibExclude    []string `yaml:"lib_exclude"`
	AppExclude    []string `yaml:"app_exclude"`
	FileExclude   []string `yaml:"file_exclude"`
	Copy          []string `yaml:"copy"`
	UseTk         bool     `yaml:"use_tk"`
	UseSqlite     bool     `yaml:"use_sqlite"`

	// Expected is the bundle this configuration must produce.
	Expected Layout `yaml:"expected"`

	// ExpectedErrors lists substrings of an error the build must fail with.
	ExpectedErrors []string `yaml:"expected_errors"`
}

// BuildConfig returns the manifest configuration for c.
func (c BuildConfiguration) BuildConfig() manifest.BuildConfig {
	bc := manifest.DefaultBuildConfig()
	bc.TreeshakeApp = c.TreeshakeApp
	bc.TreeshakeLibs = c.TreeshakeLibs
	if len(c.LibInclude) > 0 {
		bc.SetLibInclude(c.LibInclude...)
	}
	if len(c.LibExclude) > 0 {
		bc.SetLibExclude(c.LibExclude...)
	}
	bc.AppExclude = c.AppExclude
	bc.FileExclude = c.FileExclude
	for _, s := range c.Copy {
		bc.Copy = append(bc.Copy, manifest.ParseCopyRule(s))
	}
	bc.UseTk = c.UseTk
	bc.UseSqlite = c.UseSqlite
	return bc
}

// Layout lists what a bundle holds. Archive entries are member names; Loose
// and Support are paths below the build and support directories, without the
// launchers, the path file and the archives themselves.
type Layout struct {
	Runtime []string `yaml:"runtime"`
	Lib     []string `yaml:"lib"`
	App     []string `yaml:"app"`
	Loose   []string `yaml:"loose"`
	Support []string `yaml:"support"`
}

// TraceEntry is one module of a recorded trace.
type TraceEntry struct {
	Module string `yaml:"module"`
	Path   string `yaml:"path"`
}

// RuntimeConfig describes the fixture's interpreter installation.
type RuntimeConfig struct {
	Version         string   `yaml:"version"`
	Prefix          string   `yaml:"prefix"`
	StdlibRoot      string   `yaml:"stdlib_root"`
	SitePackages    string   `yaml:"site_packages"`
	ThirdPartyRoots []string `yaml:"third_party_roots"`
	AppRoot         string   `yaml:"app_root"`
}

// Runtime returns the manifest form of r.
func (r RuntimeConfig) Runtime() manifest.Runtime {
	return manifest.Runtime{
		Version:         r.Version,
		Prefix:          r.Prefix,
		StdlibRoot:      r.StdlibRoot,
		SitePackages:    r.SitePackages,
		ThirdPartyRoots: r.ThirdPartyRoots,
		AppRoot:         r.AppRoot,
	}
}
