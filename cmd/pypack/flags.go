package main

import (
	"strings"

	"github.com/spf13/pflag"

	"github.com/715d/pypack/pkg/manifest"
)

// libSelection records --lib-include and --lib-exclude in command-line order.
// Repeating a flag accumulates; switching to the other flag starts over.
type libSelection struct {
	mode  string
	names []string
}

// libFlag is one side of a libSelection as a pflag.Value.
type libFlag struct {
	sel  *libSelection
	mode string
}

func (f *libFlag) String() string {
	if f.sel == nil || f.sel.mode != f.mode {
		return ""
	}
	return strings.Join(f.sel.names, ",")
}

func (f *libFlag) Set(v string) error {
	if f.sel.mode != f.mode {
		f.sel.mode = f.mode
		f.sel.names = nil
	}
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			f.sel.names = append(f.sel.names, name)
		}
	}
	return nil
}

func (f *libFlag) Type() string { return "packages" }

// buildFlags are the build-configuration flags shared by analyze and build.
type buildFlags struct {
	fs *pflag.FlagSet

	optimize      int
	libs          libSelection
	treeshakeApp  bool
	treeshakeLibs bool
	treeshake     bool
	copies        []string
	exclude       []string
	appExclude    []string
	useTk         bool
	useSqlite     bool
}

func (b *buildFlags) register(fs *pflag.FlagSet) {
	b.fs = fs
	fs.IntVarP(&b.optimize, "optimize", "O", 0, "Bytecode optimization level (0, 1 or 2)")
	fs.Var(&libFlag{sel: &b.libs, mode: "include"}, "lib-include", "Treeshake only these packages, ship the rest verbatim (repeatable)")
	fs.Var(&libFlag{sel: &b.libs, mode: "exclude"}, "lib-exclude", "Ship these packages verbatim, treeshake the rest (repeatable)")
	fs.BoolVar(&b.treeshakeApp, "treeshake-app", false, "Archive only the traced application modules")
	fs.BoolVar(&b.treeshakeLibs, "treeshake-libs", false, "Archive only the traced modules of third-party packages")
	fs.BoolVarP(&b.treeshake, "treeshake", "t", false, "Treeshake both the application and packages")
	fs.StringArrayVar(&b.copies, "copy", nil, "Copy files matching glob[:dest] from the application root (repeatable)")
	fs.StringArrayVar(&b.exclude, "exclude", nil, "Never write files matching this glob (repeatable)")
	fs.StringArrayVar(&b.appExclude, "app-exclude", nil, "Skip application files below this relative path prefix (repeatable)")
	fs.BoolVar(&b.useTk, "tk", false, "Always ship the Tcl/Tk support files")
	fs.BoolVar(&b.useSqlite, "sqlite", false, "Always ship the SQLite library")
}

// apply overrides c with every flag given on the command line.
func (b *buildFlags) apply(c *manifest.BuildConfig) {
	changed := func(name string) bool { return b.fs.Changed(name) }

	if changed("optimize") {
		c.SetOptimizationLevel(b.optimize)
	}
	switch b.libs.mode {
	case "include":
		c.SetLibInclude(b.libs.names...)
	case "exclude":
		c.SetLibExclude(b.libs.names...)
	}
	if changed("treeshake-app") {
		c.TreeshakeApp = b.treeshakeApp
	}
	if changed("treeshake-libs") {
		c.TreeshakeLibs = b.treeshakeLibs
	}
	if b.treeshake {
		c.SetTreeshake()
	}
	for _, s := range b.copies {
		c.Copy = append(c.Copy, manifest.ParseCopyRule(s))
	}
	c.FileExclude = append(c.FileExclude, b.exclude...)
	c.AppExclude = append(c.AppExclude, b.appExclude...)
	if changed("tk") {
		c.UseTk = b.useTk
	}
	if changed("sqlite") {
		c.UseSqlite = b.useSqlite
	}
}
