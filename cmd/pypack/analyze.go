package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/715d/pypack/pkg/manifest"
	"github.com/715d/pypack/pkg/trace"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		entryFunction string
		keepAnalysis  bool
		out           string
		flags         buildFlags
	)

	cmd := &cobra.Command{
		Use:   "analyze <package-or-file>",
		Short: "Trace the application and write the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			dir, err := os.Getwd()
			if err != nil {
				return errWithCode(err, exitBuildError)
			}
			target := filepath.ToSlash(filepath.Clean(args[0]))

			slog.Info("starting analysis", "target", target, "entry_function", entryFunction)
			collector := trace.NewCollector(trace.Options{
				Python:      cfg.Python,
				Dir:         dir,
				Timeout:     cfg.TraceTimeout,
				KeepScripts: keepAnalysis,
			})
			res, err := collector.Collect(cmd.Context(), target, entryFunction)
			if err != nil {
				return errWithCode(fmt.Errorf("analyze: %w", err), exitTraceFailed)
			}

			bc := manifest.DefaultBuildConfig()
			flags.apply(&bc)
			m := trace.BuildManifest(res, target, entryFunction, bc)

			if err := manifest.Save(afero.NewOsFs(), out, m); err != nil {
				return errWithCode(err, exitBuildError)
			}
			slog.Info("analysis completed", "manifest", out, "dur", time.Since(start))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d stdlib, %d package, %d application modules, %d binaries\n",
				out, len(m.StdLib), len(m.AppLib), len(m.AppModules), len(m.Binaries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&entryFunction, "entry-function", "f", "", "Function to call after importing the target")
	cmd.Flags().BoolVar(&keepAnalysis, "keep-analysis", false, "Keep the generated trace script and its raw output")
	cmd.Flags().StringVarP(&out, "config-file", "c", manifest.DefaultFile, "Manifest to write")
	flags.register(cmd.Flags())
	return cmd
}
