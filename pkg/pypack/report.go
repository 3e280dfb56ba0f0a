package pypack

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/715d/pypack/pkg/archive"
	"github.com/715d/pypack/pkg/manifest"
)

// ArchiveReport describes one written archive.
type ArchiveReport struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
	Size    int64  `json:"size"`
}

// Report summarizes a finished build.
type Report struct {
	App      string          `json:"app"`
	BuildDir string          `json:"build_dir"`
	Archives []ArchiveReport `json:"archives"`
	Loose    int             `json:"loose_files"`
	Support  int             `json:"support_files"`
	Compiled int             `json:"compiled"`
	Excluded int             `json:"excluded"`
	Copied   int             `json:"copied"`
	Special  int             `json:"special_files"`
	// Warnings lists traced files that could not be found at build time.
	Warnings []string      `json:"warnings,omitempty"`
	DistZip  string        `json:"dist_zip,omitempty"`
	Duration time.Duration `json:"duration"`
}

func newReport(m *manifest.Manifest, layout archive.Layout, stats *archive.Stats) *Report {
	r := &Report{
		App:      m.AppTitle,
		BuildDir: layout.BuildDir,
		Loose:    stats.Members[archive.Loose],
		Support:  stats.Members[archive.Support],
		Compiled: stats.Compiled,
		Excluded: stats.Excluded,
	}
	for _, t := range []archive.Target{archive.RuntimeArchive, archive.LibArchive, archive.AppArchive} {
		r.Archives = append(r.Archives, ArchiveReport{Name: layout.ArchiveName(t), Members: stats.Members[t]})
	}
	for _, f := range stats.Missing {
		r.Warnings = append(r.Warnings, "missing source: "+f)
	}
	return r
}

// measure fills in the archive sizes.
func (r *Report) measure(fsys afero.Fs, layout archive.Layout) error {
	for i, a := range r.Archives {
		info, err := fsys.Stat(filepath.Join(layout.SupportPath(), a.Name))
		if err != nil {
			return fmt.Errorf("stat archive: %w", err)
		}
		r.Archives[i].Size = info.Size()
	}
	return nil
}

// String renders a short human-readable summary.
func (r *Report) String() string {
	s := fmt.Sprintf("built %s in %s (%s)\n", r.App, r.BuildDir, r.Duration.Round(time.Millisecond))
	for _, a := range r.Archives {
		s += fmt.Sprintf("  %-16s %6d members  %s\n", a.Name, a.Members, humanize.Bytes(uint64(a.Size)))
	}
	s += fmt.Sprintf("  loose files: %d, support files: %d, compiled: %d, excluded: %d, copied: %d\n",
		r.Loose, r.Support+r.Special, r.Compiled, r.Excluded, r.Copied)
	for _, w := range r.Warnings {
		s += "  warning: " + w + "\n"
	}
	if r.DistZip != "" {
		s += "  distribution: " + r.DistZip + "\n"
	}
	return s
}
