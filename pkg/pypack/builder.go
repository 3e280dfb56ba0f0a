// Package pypack assembles a self-contained bundle of a traced application on
// top of an embeddable interpreter layout.
package pypack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/715d/pypack/pkg/archive"
	"github.com/715d/pypack/pkg/classify"
	"github.com/715d/pypack/pkg/compile"
	"github.com/715d/pypack/pkg/manifest"
	"github.com/715d/pypack/pkg/selection"
)

const (
	// DefaultBuildDir is the bundle directory when none is configured.
	DefaultBuildDir = "dist"
	// DefaultSupportDir holds the archives and runtime binaries.
	DefaultSupportDir = ".bin"

	libArchiveName = "pkg.zip"
	appArchiveName = "app.zip"
)

// Options configures a Builder.
type Options struct {
	// Python is the interpreter used for compilation.
	Python string
	// BuildDir is the bundle directory. It is wiped before every build.
	BuildDir   string
	SupportDir string
	// Fs is the filesystem everything is read from and written to.
	Fs afero.Fs
	// Compiler overrides the interpreter-backed compiler.
	Compiler       compile.Compiler
	CompileTimeout time.Duration
	// NoDistZip skips the distribution zip.
	NoDistZip bool
}

// Builder runs the build pipeline for one manifest at a time.
type Builder struct {
	opts Options
}

// NewBuilder returns a builder, filling in defaults.
func NewBuilder(opts Options) *Builder {
	if opts.BuildDir == "" {
		opts.BuildDir = DefaultBuildDir
	}
	if opts.SupportDir == "" {
		opts.SupportDir = DefaultSupportDir
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Python == "" {
		opts.Python = "python"
	}
	if opts.Compiler == nil {
		opts.Compiler = compile.NewCached(compile.NewPyCompiler(opts.Python, opts.CompileTimeout))
	}
	return &Builder{opts: opts}
}

// Build produces the bundle for m. A failed build leaves the partial output in
// place.
func (b *Builder) Build(ctx context.Context, m *manifest.Manifest) (*Report, error) {
	start := time.Now()
	if m.Runtime.Version == "" || m.Runtime.Prefix == "" {
		return nil, errors.New("manifest has no runtime description, run analyze again")
	}
	layout := b.layout(m)
	fsys := b.opts.Fs

	// Step 1: Recreate the output directories.
	slog.Info("creating build directories", "dir", layout.BuildDir)
	if err := b.createDirs(layout); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	// Step 2: Copy the launchers and runtime library, write the path file.
	if err := b.copyBaseFiles(m, layout); err != nil {
		return nil, fmt.Errorf("copy base files: %w", err)
	}

	// Step 3: Select what goes where.
	plan := selection.NewPolicy(fsys, m).Plan()
	slog.Info("planned build",
		"runtime", len(plan.For(archive.RuntimeArchive)),
		"lib", len(plan.For(archive.LibArchive)),
		"app", len(plan.For(archive.AppArchive)),
		"loose", len(plan.For(archive.Loose)),
		"support", len(plan.For(archive.Support)))

	// Step 4: Compile and write archives, loose files and the boot hook.
	w, err := archive.NewWriter(fsys, layout, b.opts.Compiler, m.OptimizationLevel, m.FileExclude)
	if err != nil {
		return nil, fmt.Errorf("configure writer: %w", err)
	}
	stats, err := w.Write(ctx, plan, []byte(m.BootstrapCode()+"\n"))
	if err != nil {
		return nil, fmt.Errorf("write bundle: %w", err)
	}

	// Step 5: Copy user-requested files.
	copied, err := b.applyCopyRules(m, layout, w)
	if err != nil {
		return nil, fmt.Errorf("copy files: %w", err)
	}

	// Step 6: Platform support files for extensions that need them.
	special, err := b.addSpecialLibs(m, layout)
	if err != nil {
		return nil, fmt.Errorf("add special libraries: %w", err)
	}

	// Step 7: Name the launchers after the application.
	if err := b.renameLaunchers(m, layout); err != nil {
		return nil, fmt.Errorf("rename launchers: %w", err)
	}

	report := newReport(m, layout, stats)
	report.Copied = copied
	report.Special = special
	if err := report.measure(fsys, layout); err != nil {
		return nil, err
	}

	// Step 8: Zip the bundle for distribution.
	if !b.opts.NoDistZip {
		name, err := b.makeDistZip(m, layout)
		if err != nil {
			return nil, fmt.Errorf("create distribution zip: %w", err)
		}
		report.DistZip = name
	}

	report.Duration = time.Since(start)
	slog.Info("build completed", "dir", layout.BuildDir, "dur", report.Duration)
	return report, nil
}

func (b *Builder) layout(m *manifest.Manifest) archive.Layout {
	return archive.Layout{
		BuildDir:       b.opts.BuildDir,
		SupportDir:     b.opts.SupportDir,
		RuntimeArchive: m.Runtime.Version + ".zip",
		LibArchive:     libArchiveName,
		AppArchive:     appArchiveName,
	}
}

func (b *Builder) createDirs(layout archive.Layout) error {
	fsys := b.opts.Fs
	if err := fsys.RemoveAll(layout.BuildDir); err != nil {
		return fmt.Errorf("removing %s: %w", layout.BuildDir, err)
	}
	return fsys.MkdirAll(layout.SupportPath(), 0o755)
}

// baseFiles are copied from the runtime prefix into the bundle root.
func baseFiles(version string) []string {
	return []string{"python.exe", "pythonw.exe", version + ".dll"}
}

// PathFile returns the contents of the interpreter's search-path file: the
// bundle root, the support directory and the three archives in order.
func PathFile(layout archive.Layout) string {
	sup := layout.SupportDir
	lines := []string{
		".",
		sup,
		sup + `\` + layout.RuntimeArchive,
		sup + `\` + layout.LibArchive,
		sup + `\` + layout.AppArchive,
		"",
		"import site",
	}
	return strings.Join(lines, "\n") + "\n"
}

func (b *Builder) copyBaseFiles(m *manifest.Manifest, layout archive.Layout) error {
	prefix := filepath.FromSlash(m.Runtime.Prefix)
	for _, name := range baseFiles(m.Runtime.Version) {
		if err := copyFile(b.opts.Fs, filepath.Join(prefix, name), filepath.Join(layout.BuildDir, name)); err != nil {
			return err
		}
	}
	pth := filepath.Join(layout.BuildDir, m.Runtime.Version+"._pth")
	if err := afero.WriteFile(b.opts.Fs, pth, []byte(PathFile(layout)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", pth, err)
	}
	return nil
}

// launchers maps runtime launcher names to the suffix of their bundle name.
var launchers = []struct{ exe, suffix string }{
	{"pythonw.exe", ".exe"},
	{"python.exe", "_console.exe"},
}

func (b *Builder) renameLaunchers(m *manifest.Manifest, layout archive.Layout) error {
	for _, l := range launchers {
		from := filepath.Join(layout.BuildDir, l.exe)
		to := filepath.Join(layout.BuildDir, m.AppTitle+l.suffix)
		if err := b.opts.Fs.Rename(from, to); err != nil {
			return fmt.Errorf("renaming %s: %w", l.exe, err)
		}
	}
	return nil
}

func copyFile(fsys afero.Fs, src, dst string) error {
	data, err := afero.ReadFile(fsys, src)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", archive.ErrSourceFileMissing, src)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := fsys.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	if err := afero.WriteFile(fsys, dst, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}

// hasBinary reports whether the manifest traced a native binary named base.
func hasBinary(m *manifest.Manifest, base string) bool {
	for _, p := range m.Binaries {
		if strings.EqualFold(filepath.Base(classify.Normalize(p)), base) {
			return true
		}
	}
	return false
}
