package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/715d/pypack/pkg/archive"
	"github.com/715d/pypack/pkg/manifest"
	"github.com/715d/pypack/pkg/selection"
)

// inspection is what inspect prints, as rows or as JSON.
type inspection struct {
	App      string         `json:"app"`
	Runtime  string         `json:"runtime"`
	Traced   map[string]int `json:"traced"`
	Targets  map[string]int `json:"targets"`
	Compiles int            `json:"compiles"`
	Bytes    int64          `json:"source_bytes"`
}

func newInspectCmd() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the manifest and what a build would select",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fsys := afero.NewOsFs()
			m, err := manifest.Load(fsys, manifestPath)
			if errors.Is(err, manifest.ErrManifestMissing) {
				return errWithCode(err, exitManifestMissing)
			}
			if err != nil {
				return errWithCode(err, exitBuildError)
			}

			in := inspect(fsys, m)
			if cfg.JSON {
				data, err := json.MarshalIndent(in, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling json output: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			renderInspection(cmd.OutOrStdout(), in)
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "config-file", "c", manifest.DefaultFile, "Manifest to inspect")
	return cmd
}

func inspect(fsys afero.Fs, m *manifest.Manifest) *inspection {
	in := &inspection{
		App:     m.AppTitle,
		Runtime: m.Runtime.Version,
		Traced: map[string]int{
			manifest.StdLib.String():        len(m.StdLib),
			manifest.ThirdPartyLib.String(): len(m.AppLib),
			manifest.AppModule.String():     len(m.AppModules),
			manifest.NativeBinary.String():  len(m.Binaries),
		},
		Targets: make(map[string]int),
	}
	plan := selection.NewPolicy(fsys, m).Plan()
	for _, it := range plan.Items {
		in.Targets[it.Target.String()]++
		if it.Action == archive.Compile {
			in.Compiles++
		}
		if info, err := fsys.Stat(it.Source); err == nil {
			in.Bytes += info.Size()
		}
	}
	return in
}

func renderInspection(w io.Writer, in *inspection) {
	fmt.Fprintf(w, "%s (%s)\n\n", in.App, in.Runtime)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Category", "Traced"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, c := range []manifest.Category{manifest.StdLib, manifest.ThirdPartyLib, manifest.AppModule, manifest.NativeBinary} {
		table.Append([]string{c.String(), strconv.Itoa(in.Traced[c.String()])})
	}
	table.Render()
	fmt.Fprintln(w)

	table = tablewriter.NewWriter(w)
	table.SetHeader([]string{"Target", "Files"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	var rows [][]string
	for _, t := range []archive.Target{archive.RuntimeArchive, archive.LibArchive, archive.AppArchive, archive.Loose, archive.Support} {
		rows = append(rows, []string{t.String(), strconv.Itoa(in.Targets[t.String()])})
	}
	table.AppendBulk(rows)
	table.SetFooter([]string{"sources", humanize.Bytes(uint64(in.Bytes))})
	table.Render()
	fmt.Fprintf(w, "\n%d files to compile\n", in.Compiles)
}
