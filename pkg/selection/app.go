package selection

import (
	"log/slog"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/715d/pypack/pkg/archive"
	"github.com/715d/pypack/pkg/classify"
	"github.com/715d/pypack/pkg/manifest"
)

// Application returns the work items for the application tree.
//
// Exclusion prefixes veto a file in every mode: it is neither compiled nor
// copied, and it does not pull its directory into the build. A top-level
// subtree that holds a native binary is copied loose in full and never
// archived.
func (p *Policy) Application() []archive.WorkItem {
	var files []string
	for _, rel := range p.m.AppModules {
		if p.appExcluded(rel) {
			continue
		}
		files = append(files, rel)
	}

	native := p.nativeAppSubtrees()
	if p.m.TreeshakeApp {
		return p.appTreeshaken(files, native)
	}
	return p.appFull(files, native)
}

// appTreeshaken archives exactly the traced files and copies non-source
// siblings that share a directory with one.
func (p *Policy) appTreeshaken(files []string, native map[string]bool) []archive.WorkItem {
	var items []archive.WorkItem
	dirs := make(map[string]struct{})

	tops := make(map[string]struct{})
	for _, rel := range files {
		if top, nested := topLevel(rel); nested {
			tops[top] = struct{}{}
		}
	}
	for _, top := range slices.Sorted(maps.Keys(tops)) {
		if !native[top] && p.subtreeHasNative(top) {
			native[top] = true
			slog.Info("application subtree holds native binaries, shipping loose", "dir", top)
		}
	}

	for _, rel := range files {
		top, nested := topLevel(rel)
		if nested && native[top] {
			continue
		}
		src := p.appPath(rel)
		if !p.exists(src) {
			continue
		}
		items = append(items, p.archived(src, rel, archive.AppArchive, manifest.AppModule))
		if nested {
			dirs[path.Dir(rel)] = struct{}{}
		}
	}

	for _, dir := range slices.Sorted(maps.Keys(dirs)) {
		entries, err := p.readDir(p.appPath(dir))
		if err != nil {
			slog.Warn("listing application directory", "dir", dir, "error", err)
			continue
		}
		for _, name := range entries {
			rel := dir + "/" + name
			if isSource(rel) || p.appExcluded(rel) {
				continue
			}
			items = append(items, archive.CopyItem(p.appPath(rel), rel, archive.Loose, manifest.AppModule))
		}
	}

	return append(items, p.appNativeSubtrees(native)...)
}

// appFull compiles every traced top-level file and carries every top-level
// directory touched by the trace forward in full.
func (p *Policy) appFull(files []string, native map[string]bool) []archive.WorkItem {
	var items []archive.WorkItem
	tops := make(map[string]struct{})

	for _, rel := range files {
		top, nested := topLevel(rel)
		if nested {
			tops[top] = struct{}{}
			continue
		}
		src := p.appPath(rel)
		if !p.exists(src) {
			continue
		}
		items = append(items, p.archived(src, rel, archive.AppArchive, manifest.AppModule))
	}

	base := filepath.FromSlash(p.m.Runtime.AppRoot)
	for _, top := range slices.Sorted(maps.Keys(tops)) {
		if native[top] {
			continue
		}
		var subtree []archive.WorkItem
		hasNative := false
		p.walk(p.appPath(top), base, func(src, rel string) {
			if p.appExcluded(rel) {
				return
			}
			switch {
			case classify.IsNative(rel):
				hasNative = true
				subtree = append(subtree, archive.CopyItem(src, rel, archive.Loose, manifest.AppModule))
			case isSource(rel):
				subtree = append(subtree, archive.CompileItem(src, rel, archive.AppArchive, manifest.AppModule))
			default:
				subtree = append(subtree, archive.CopyItem(src, rel, archive.Loose, manifest.AppModule))
			}
		})
		if hasNative {
			native[top] = true
			slog.Info("application subtree holds native binaries, shipping loose", "dir", top)
			continue
		}
		items = append(items, subtree...)
	}

	return append(items, p.appNativeSubtrees(native)...)
}

// appNativeSubtrees copies each native-bearing top-level subtree verbatim.
func (p *Policy) appNativeSubtrees(native map[string]bool) []archive.WorkItem {
	var items []archive.WorkItem
	base := filepath.FromSlash(p.m.Runtime.AppRoot)
	for _, top := range slices.Sorted(maps.Keys(native)) {
		p.walk(p.appPath(top), base, func(src, rel string) {
			if p.appExcluded(rel) {
				return
			}
			items = append(items, archive.CopyItem(src, rel, archive.Loose, manifest.AppModule))
		})
	}
	return items
}

// subtreeHasNative reports whether the top-level application directory top
// holds a native binary that is not excluded.
func (p *Policy) subtreeHasNative(top string) bool {
	found := false
	p.walk(p.appPath(top), filepath.FromSlash(p.m.Runtime.AppRoot), func(_, rel string) {
		if !found && classify.IsNative(rel) && !p.appExcluded(rel) {
			found = true
		}
	})
	return found
}

// nativeAppSubtrees returns the top-level application directories that hold a
// traced native binary.
func (p *Policy) nativeAppSubtrees() map[string]bool {
	out := make(map[string]bool)
	for _, abs := range p.m.Binaries {
		r := p.cls.Classify(abs)
		if r.Origin != manifest.AppModule || r.Outside || p.appExcluded(r.Rel) {
			continue
		}
		if top, nested := topLevel(r.Rel); nested {
			out[top] = true
		}
	}
	return out
}

// appExcluded reports whether rel starts with an exclusion prefix. Prefixes
// are compared as written, so "util/" names a directory and "util" also
// matches "utility.py".
func (p *Policy) appExcluded(rel string) bool {
	for _, prefix := range p.m.AppExclude {
		prefix = strings.TrimPrefix(strings.ReplaceAll(prefix, `\`, "/"), "./")
		if prefix != "" && strings.HasPrefix(rel, prefix) {
			slog.Debug("excluding application file", "file", rel, "prefix", prefix)
			return true
		}
	}
	return false
}

func (p *Policy) appPath(rel string) string {
	return join(p.m.Runtime.AppRoot, rel)
}

// readDir returns the sorted names of the regular files in dir.
func (p *Policy) readDir(dir string) ([]string, error) {
	infos, err := afero.ReadDir(p.fs, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	return names, nil
}
