package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	goruntime "runtime"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/715d/pypack/pkg/compile"
)

// BootHookMember is the runtime archive member that starts the application.
// The interpreter imports it automatically once the search path is set up.
const BootHookMember = "sitecustomize.py"

// memberTime is stamped on every archive member so that rebuilding the same
// inputs yields byte-identical archives.
var memberTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Layout names the output locations of one build.
type Layout struct {
	// BuildDir is the root of the bundle.
	BuildDir string
	// SupportDir is the binary-support directory, relative to BuildDir.
	SupportDir string
	// Archive file names inside SupportDir.
	RuntimeArchive string
	LibArchive     string
	AppArchive     string
}

// SupportPath returns the absolute support directory.
func (l Layout) SupportPath() string {
	return filepath.Join(l.BuildDir, l.SupportDir)
}

// ArchiveName returns the file name of the archive for t.
func (l Layout) ArchiveName(t Target) string {
	switch t {
	case RuntimeArchive:
		return l.RuntimeArchive
	case LibArchive:
		return l.LibArchive
	case AppArchive:
		return l.AppArchive
	}
	return ""
}

// Destination returns where a non-archive item is written.
func (l Layout) Destination(it WorkItem) string {
	if it.Target == Support {
		return filepath.Join(l.SupportPath(), filepath.FromSlash(it.Member))
	}
	return filepath.Join(l.BuildDir, filepath.FromSlash(it.Member))
}

// Stats summarizes what a Writer produced.
type Stats struct {
	Members  map[Target]int
	Compiled int
	Excluded int
	// Missing are the sources that vanished between planning and writing.
	Missing []string
	Bytes    int64
}

// Writer materializes a plan on a filesystem.
type Writer struct {
	fs       afero.Fs
	layout   Layout
	compiler compile.Compiler
	level    int
	exclude  []string
}

// NewWriter returns a writer compiling with c at the given optimization level.
// Items whose relative path or member name matches any exclude glob are
// dropped.
func NewWriter(fsys afero.Fs, layout Layout, c compile.Compiler, level int, exclude []string) (*Writer, error) {
	for _, g := range exclude {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("invalid exclude pattern %q", g)
		}
	}
	return &Writer{fs: fsys, layout: layout, compiler: c, level: level, exclude: exclude}, nil
}

// Excluded reports whether it is vetoed by an exclude glob.
func (w *Writer) Excluded(it WorkItem) bool {
	for _, g := range w.exclude {
		if match(g, it.Rel) || match(g, it.Member) || match(g, path.Base(it.Rel)) {
			return true
		}
	}
	return false
}

func match(pattern, name string) bool {
	ok, _ := doublestar.Match(pattern, name)
	return ok
}

// Write compiles and writes every item of plan, then appends bootHook to the
// runtime archive. Compilation runs in parallel; writes happen in plan order.
// A compile error aborts the build; a missing source is skipped.
func (w *Writer) Write(ctx context.Context, plan *Plan, bootHook []byte) (*Stats, error) {
	stats := &Stats{Members: make(map[Target]int)}

	var items []WorkItem
	for _, it := range plan.Items {
		if w.Excluded(it) {
			slog.Debug("excluded by pattern", "item", it.String())
			stats.Excluded++
			continue
		}
		if err := CheckSource(w.fs, it.Source); err != nil {
			slog.Warn("source unavailable, skipping", "file", it.Source, "error", err)
			stats.Missing = append(stats.Missing, it.Source)
			continue
		}
		items = append(items, it)
	}

	// Each goroutine writes only its own index.
	compiled := make([][]byte, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.NumCPU())
	for i, it := range items {
		if it.Action != Compile {
			continue
		}
		g.Go(func() error {
			code, err := w.compiler.Compile(gctx, it.Source, w.level)
			if err != nil {
				return fmt.Errorf("%s: %w", it.Rel, err)
			}
			compiled[i] = code
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats.Compiled = countCompiled(items)

	if err := w.fs.MkdirAll(w.layout.SupportPath(), 0o755); err != nil {
		return nil, fmt.Errorf("creating support directory: %w", err)
	}
	archives, err := w.openArchives()
	if err != nil {
		return nil, err
	}
	defer archives.abort()

	for i, it := range items {
		data := compiled[i]
		if it.Action == Copy {
			if data, err = afero.ReadFile(w.fs, it.Source); err != nil {
				return nil, fmt.Errorf("reading %s: %w", it.Source, err)
			}
		}

		if it.Target.IsArchive() {
			err = archives.add(it.Target, it.Member, data)
		} else {
			err = w.writeFile(w.layout.Destination(it), data)
		}
		if err != nil {
			return nil, err
		}
		stats.Members[it.Target]++
		stats.Bytes += int64(len(data))
	}

	if bootHook != nil {
		if err := archives.add(RuntimeArchive, BootHookMember, bootHook); err != nil {
			return nil, err
		}
		stats.Members[RuntimeArchive]++
		stats.Bytes += int64(len(bootHook))
	}

	if err := archives.close(); err != nil {
		return nil, err
	}
	return stats, nil
}

func countCompiled(items []WorkItem) int {
	n := 0
	for _, it := range items {
		if it.Action == Compile {
			n++
		}
	}
	return n
}

func (w *Writer) writeFile(dst string, data []byte) error {
	if err := w.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	if err := afero.WriteFile(w.fs, dst, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}

type zipFile struct {
	f  afero.File
	zw *zip.Writer
}

type archiveSet struct {
	files  map[Target]*zipFile
	closed bool
}

// openArchives creates all three archives, even when one stays empty.
func (w *Writer) openArchives() (*archiveSet, error) {
	set := &archiveSet{files: make(map[Target]*zipFile)}
	for _, t := range []Target{RuntimeArchive, LibArchive, AppArchive} {
		name := filepath.Join(w.layout.SupportPath(), w.layout.ArchiveName(t))
		f, err := w.fs.Create(name)
		if err != nil {
			set.abort()
			return nil, fmt.Errorf("creating archive %s: %w", name, err)
		}
		set.files[t] = &zipFile{f: f, zw: zip.NewWriter(f)}
	}
	return set, nil
}

func (s *archiveSet) add(t Target, member string, data []byte) error {
	z := s.files[t]
	hdr := &zip.FileHeader{Name: member, Method: zip.Deflate, Modified: memberTime}
	fw, err := z.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("adding %s to %s archive: %w", member, t, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("writing %s to %s archive: %w", member, t, err)
	}
	return nil
}

func (s *archiveSet) close() error {
	s.closed = true
	var errs []error
	for _, t := range []Target{RuntimeArchive, LibArchive, AppArchive} {
		z := s.files[t]
		if err := z.zw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("finalizing %s archive: %w", t, err))
		}
		if err := z.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s archive: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// abort releases the file handles of a set that was not closed.
func (s *archiveSet) abort() {
	if s.closed {
		return
	}
	for _, z := range s.files {
		_ = z.f.Close()
	}
}

// Members lists the member names of the zip archive at name, in stored order.
func Members(fsys afero.Fs, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("reading archive %s: %w", name, err)
	}
	out := make([]string, 0, len(zr.File))
	for _, zf := range zr.File {
		out = append(out, zf.Name)
	}
	return out, nil
}

// ReadMember returns the contents of one member of the zip archive at name.
func ReadMember(fsys afero.Fs, name, member string) ([]byte, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("reading archive %s: %w", name, err)
	}
	for _, zf := range zr.File {
		if zf.Name != member {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s: no member %s", name, member)
}
