package pypack

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/715d/pypack/pkg/archive"
	"github.com/715d/pypack/pkg/manifest"
)

// applyCopyRules copies the files matching each rule's glob, relative to the
// application root, below the rule's destination in the bundle. Matched
// directories are copied recursively. Exclude globs apply.
func (b *Builder) applyCopyRules(m *manifest.Manifest, layout archive.Layout, w *archive.Writer) (int, error) {
	if len(m.Copy) == 0 {
		return 0, nil
	}
	appRoot := filepath.FromSlash(m.Runtime.AppRoot)
	rootFS := afero.NewIOFS(afero.NewBasePathFs(b.opts.Fs, appRoot))

	n := 0
	for _, rule := range m.Copy {
		matches, err := doublestar.Glob(rootFS, rule.Glob)
		if err != nil {
			return n, fmt.Errorf("pattern %q: %w", rule.Glob, err)
		}
		if len(matches) == 0 {
			slog.Warn("copy pattern matched nothing", "pattern", rule.Glob)
		}
		for _, match := range matches {
			err := fs.WalkDir(rootFS, match, func(rel string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return nil
				}
				item := archive.CopyItem(filepath.Join(appRoot, filepath.FromSlash(rel)), rel, archive.Loose, manifest.AppModule)
				item.Member = path.Join(rule.Dest, rel)
				if w.Excluded(item) {
					slog.Debug("copy excluded by pattern", "file", rel)
					return nil
				}
				if err := copyFile(b.opts.Fs, item.Source, layout.Destination(item)); err != nil {
					return err
				}
				n++
				return nil
			})
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// addSpecialLibs copies the runtime support files that extensions load at
// run time: the SQLite library for _sqlite3, libffi for _ctypes, and the
// Tcl/Tk tree for _tkinter.
func (b *Builder) addSpecialLibs(m *manifest.Manifest, layout archive.Layout) (int, error) {
	fsys := b.opts.Fs
	prefix := filepath.FromSlash(m.Runtime.Prefix)
	dlls := filepath.Join(prefix, "DLLs")
	n := 0

	if m.UseSqlite || hasBinary(m, "_sqlite3.pyd") {
		slog.Info("adding sqlite support")
		if err := copyFile(fsys, filepath.Join(dlls, "sqlite3.dll"), filepath.Join(layout.SupportPath(), "sqlite3.dll")); err != nil {
			return n, err
		}
		n++
	}

	if hasBinary(m, "_ctypes.pyd") {
		matches, err := afero.Glob(fsys, filepath.Join(dlls, "libffi-*.dll"))
		if err != nil {
			return n, err
		}
		if len(matches) == 0 {
			slog.Warn("_ctypes traced but no libffi library found", "dir", dlls)
		}
		for _, src := range matches {
			if err := copyFile(fsys, src, filepath.Join(layout.SupportPath(), filepath.Base(src))); err != nil {
				return n, err
			}
			n++
		}
	}

	if m.UseTk || hasBinary(m, "_tkinter.pyd") {
		slog.Info("adding tcl/tk support")
		tclSrc := filepath.Join(prefix, "tcl")
		libDst := filepath.Join(layout.BuildDir, "Lib")
		err := afero.Walk(fsys, tclSrc, func(src string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(tclSrc, src)
			if err != nil {
				return err
			}
			// Import libraries at the top of the tree are only needed to link.
			if !strings.ContainsRune(rel, filepath.Separator) && strings.EqualFold(filepath.Ext(rel), ".lib") {
				return nil
			}
			n++
			return copyFile(fsys, src, filepath.Join(libDst, rel))
		})
		if err != nil {
			return n, fmt.Errorf("copying tcl tree: %w", err)
		}

		matches, err := afero.Glob(fsys, filepath.Join(dlls, "t*.dll"))
		if err != nil {
			return n, err
		}
		for _, src := range matches {
			if err := copyFile(fsys, src, filepath.Join(layout.SupportPath(), filepath.Base(src))); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// makeDistZip zips the bundle into <title>.zip next to the build directory.
// Member names are relative to the bundle root.
func (b *Builder) makeDistZip(m *manifest.Manifest, layout archive.Layout) (string, error) {
	fsys := b.opts.Fs
	name := filepath.Join(filepath.Dir(filepath.Clean(layout.BuildDir)), m.AppTitle+".zip")
	f, err := fsys.Create(name)
	if err != nil {
		return "", err
	}
	if err := writeDistZip(fsys, f, layout.BuildDir); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", name, err)
	}
	slog.Info("wrote distribution zip", "file", name)
	return name, nil
}

func writeDistZip(fsys afero.Fs, w io.Writer, root string) error {
	zw := zip.NewWriter(w)
	err := afero.Walk(fsys, root, func(src string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, src)
		if err != nil {
			return err
		}
		data, err := afero.ReadFile(fsys, src)
		if err != nil {
			return err
		}
		hdr := &zip.FileHeader{Name: filepath.ToSlash(rel), Method: zip.Deflate, Modified: info.ModTime()}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		_, err = fw.Write(data)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}
