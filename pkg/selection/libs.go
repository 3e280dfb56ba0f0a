package selection

import (
	"log/slog"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/715d/pypack/pkg/archive"
	"github.com/715d/pypack/pkg/manifest"
)

// Decision is the treeshake outcome for one third-party package.
type Decision int

const (
	// Include compiles the traced files of the package into the library archive.
	Include Decision = iota
	// Exclude ships the whole package verbatim in the loose tree.
	Exclude
)

func (d Decision) String() string {
	if d == Exclude {
		return "exclude"
	}
	return "include"
}

// Decide resolves a top-level package name under cfg. Exactly one of the
// include and exclude sets is in effect; when both are empty every package is
// included.
func Decide(cfg manifest.BuildConfig, pkg string) Decision {
	switch {
	case len(cfg.LibInclude) > 0:
		if slices.Contains(cfg.LibInclude, pkg) {
			return Include
		}
		return Exclude
	case len(cfg.LibExclude) > 0:
		if slices.Contains(cfg.LibExclude, pkg) {
			return Exclude
		}
		return Include
	default:
		return Include
	}
}

// libPackage is one top-level entry below a third-party root: a package
// directory or a single-file module.
type libPackage struct {
	name  string // import name, e.g. "requests" or "six"
	entry string // first path element, e.g. "requests" or "six.py"
	root  string // third-party root it was found under
	files []string
}

// Libraries returns the work items for third-party packages.
func (p *Policy) Libraries() []archive.WorkItem {
	pkgs := p.libPackages()
	native := p.nativeLibPackages()

	var items []archive.WorkItem
	for _, name := range slices.Sorted(maps.Keys(pkgs)) {
		pkg := pkgs[name]
		if !p.m.TreeshakeLibs {
			items = append(items, p.libFull(pkg)...)
			continue
		}

		decision := Decide(p.m.BuildConfig, name)
		if decision == Include && native[name] {
			slog.Info("package carries native binaries, shipping loose", "package", name)
			decision = Exclude
		}
		slog.Debug("library decision", "package", name, "decision", decision)

		if decision == Exclude {
			items = append(items, p.libLoose(pkg)...)
			continue
		}
		items = append(items, p.libTreeshaken(pkg)...)
	}
	return items
}

// libTreeshaken compiles only the traced files of pkg into the library archive
// and copies its non-code files loose.
func (p *Policy) libTreeshaken(pkg *libPackage) []archive.WorkItem {
	var items []archive.WorkItem
	for _, rel := range pkg.files {
		src := join(pkg.root, rel)
		if !p.exists(src) {
			continue
		}
		items = append(items, p.archived(src, rel, archive.LibArchive, manifest.ThirdPartyLib))
	}
	p.walk(join(pkg.root, pkg.entry), filepath.FromSlash(pkg.root), func(src, rel string) {
		if !isCode(rel) {
			items = append(items, archive.CopyItem(src, rel, archive.Loose, manifest.ThirdPartyLib))
		}
	})
	return items
}

// libLoose copies every file of pkg verbatim into the loose tree.
func (p *Policy) libLoose(pkg *libPackage) []archive.WorkItem {
	var items []archive.WorkItem
	p.walk(join(pkg.root, pkg.entry), filepath.FromSlash(pkg.root), func(src, rel string) {
		items = append(items, archive.CopyItem(src, rel, archive.Loose, manifest.ThirdPartyLib))
	})
	return items
}

// libFull copies every file of pkg into the loose tree, compiling sources in
// place.
func (p *Policy) libFull(pkg *libPackage) []archive.WorkItem {
	var items []archive.WorkItem
	p.walk(join(pkg.root, pkg.entry), filepath.FromSlash(pkg.root), func(src, rel string) {
		if isSource(rel) {
			items = append(items, archive.CompileItem(src, rel, archive.Loose, manifest.ThirdPartyLib))
			return
		}
		items = append(items, archive.CopyItem(src, rel, archive.Loose, manifest.ThirdPartyLib))
	})
	return items
}

// libPackages groups the traced third-party files by top-level package and
// locates the root each package lives under.
func (p *Policy) libPackages() map[string]*libPackage {
	pkgs := make(map[string]*libPackage)
	for _, rel := range p.m.AppLib {
		entry, _ := topLevel(rel)
		name := packageName(entry)
		pkg, ok := pkgs[name]
		if !ok {
			root := p.libRoot(rel)
			if root == "" {
				slog.Warn("traced package file not found under any package root, skipping", "file", rel)
				continue
			}
			pkg = &libPackage{name: name, entry: entry, root: root}
			pkgs[name] = pkg
		}
		pkg.files = append(pkg.files, rel)
	}
	return pkgs
}

// nativeLibPackages returns the packages that own a traced native binary.
func (p *Policy) nativeLibPackages() map[string]bool {
	out := make(map[string]bool)
	for _, abs := range p.m.Binaries {
		r := p.cls.Classify(abs)
		if r.Origin != manifest.ThirdPartyLib {
			continue
		}
		entry, nested := topLevel(r.Rel)
		if nested {
			out[packageName(entry)] = true
		}
	}
	return out
}

// libRoot returns the first third-party root, longest first, holding rel.
func (p *Policy) libRoot(rel string) string {
	for _, root := range p.libRoots {
		if info, err := p.fs.Stat(join(root, rel)); err == nil && !info.IsDir() {
			return root
		}
	}
	return ""
}

// packageName strips the extension from a single-file module entry.
func packageName(entry string) string {
	if ext := path.Ext(entry); ext != "" {
		return strings.TrimSuffix(entry, ext)
	}
	return entry
}
