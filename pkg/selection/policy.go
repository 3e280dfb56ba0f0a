// Package selection decides, for every classified file, whether it is compiled
// into an archive, copied verbatim, or dropped.
package selection

import (
	"cmp"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/715d/pypack/pkg/archive"
	"github.com/715d/pypack/pkg/classify"
	"github.com/715d/pypack/pkg/manifest"
)

const (
	sourceExt   = ".py"
	compiledExt = ".pyc"
	cacheDir    = "__pycache__"
)

// Policy turns a frozen manifest into work items. It never fails on manifest
// content: missing files are logged and skipped.
type Policy struct {
	fs  afero.Fs
	m   *manifest.Manifest
	cls *classify.Classifier

	// libRoots are the third-party roots, longest first.
	libRoots []string
}

// NewPolicy returns a policy for m reading the filesystem through fsys.
func NewPolicy(fsys afero.Fs, m *manifest.Manifest) *Policy {
	roots := []string{}
	for _, r := range append([]string{m.Runtime.SitePackages}, m.Runtime.ThirdPartyRoots...) {
		if r = classify.Normalize(r); r != "" && !slices.Contains(roots, r) {
			roots = append(roots, r)
		}
	}
	slices.SortStableFunc(roots, func(a, b string) int { return cmp.Compare(len(b), len(a)) })

	return &Policy{
		fs:       fsys,
		m:        m,
		cls:      classify.New(classify.RootsFor(m.Runtime)),
		libRoots: roots,
	}
}

// Plan returns every work item of the build except the synthesized boot hook.
func (p *Policy) Plan() *archive.Plan {
	return archive.NewPlan(p.Stdlib(), p.Binaries(), p.Libraries(), p.Application())
}

// Stdlib compiles every traced standard library module, plus the configured
// extras, into the runtime archive. Native extras go flat into the support
// directory; extras that leave the stdlib root any other way are skipped.
func (p *Policy) Stdlib() []archive.WorkItem {
	var items []archive.WorkItem
	rels := append(slices.Clone(p.m.StdLib), p.m.StdlibExtras...)
	for _, rel := range rels {
		rel = classify.Normalize(rel)
		src := join(p.m.Runtime.StdlibRoot, rel)
		native := classify.IsNative(rel)
		if !native && (rel == ".." || strings.HasPrefix(rel, "../")) {
			slog.Warn("stdlib entry outside the stdlib root, skipping", "file", rel)
			continue
		}
		if !p.exists(src) {
			continue
		}
		if native {
			items = append(items, archive.CopyItem(src, path.Base(rel), archive.Support, manifest.NativeBinary))
			continue
		}
		items = append(items, p.archived(src, rel, archive.RuntimeArchive, manifest.StdLib))
	}
	return items
}

// Binaries places traced native binaries. Binaries of packages and of the
// application mirror their relative path in the loose tree; runtime binaries go
// flat into the support directory.
func (p *Policy) Binaries() []archive.WorkItem {
	var items []archive.WorkItem
	for _, abs := range p.m.Binaries {
		src := filepath.FromSlash(abs)
		if !p.exists(src) {
			continue
		}
		r := p.cls.Classify(abs)
		if r.Origin == manifest.AppModule && p.appExcluded(r.Rel) {
			continue
		}
		switch r.Origin {
		case manifest.ThirdPartyLib, manifest.AppModule:
			items = append(items, archive.CopyItem(src, r.Rel, archive.Loose, manifest.NativeBinary))
		default:
			items = append(items, archive.CopyItem(src, path.Base(r.Rel), archive.Support, manifest.NativeBinary))
		}
	}
	return items
}

// archived routes one traced file into an archive: sources are compiled,
// anything else is stored verbatim.
func (p *Policy) archived(src, rel string, target archive.Target, c manifest.Category) archive.WorkItem {
	if isSource(rel) {
		return archive.CompileItem(src, rel, target, c)
	}
	return archive.CopyItem(src, rel, target, c)
}

// exists reports whether src is present, logging a warning when it is not.
func (p *Policy) exists(src string) bool {
	err := archive.CheckSource(p.fs, src)
	if err == nil {
		return true
	}
	if errors.Is(err, archive.ErrSourceFileMissing) {
		slog.Warn("traced file not found, skipping", "file", src)
	} else {
		slog.Warn("cannot read traced file, skipping", "file", src, "error", err)
	}
	return false
}

// walk calls fn for every regular file below root (or root itself when it is a
// file), skipping bytecode cache directories. rel is relative to base.
func (p *Policy) walk(root, base string, fn func(src, rel string)) {
	err := afero.Walk(p.fs, root, func(src string, info os.FileInfo, err error) error {
		if err != nil {
			slog.Warn("walking package tree", "file", src, "error", err)
			return nil
		}
		if info.IsDir() {
			if info.Name() == cacheDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(base, src)
		if err != nil {
			return nil
		}
		fn(src, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		slog.Warn("walking package tree", "dir", root, "error", err)
	}
}

func join(root, rel string) string {
	return filepath.Join(filepath.FromSlash(root), filepath.FromSlash(rel))
}

func isSource(rel string) bool {
	return strings.HasSuffix(rel, sourceExt)
}

func isCode(rel string) bool {
	return isSource(rel) || strings.HasSuffix(rel, compiledExt)
}

// topLevel returns the first path element of rel and whether rel has a
// directory component at all.
func topLevel(rel string) (string, bool) {
	first, _, nested := strings.Cut(rel, "/")
	return first, nested
}
