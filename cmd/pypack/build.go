package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/715d/pypack/pkg/manifest"
	"github.com/715d/pypack/pkg/pypack"
)

func newBuildCmd() *cobra.Command {
	var (
		manifestPath string
		noDistZip    bool
		flags        buildFlags
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the bundle described by the manifest",
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
			flags.apply(&m.BuildConfig)

			slog.Info("starting build",
				"app", m.AppTitle,
				"build_dir", cfg.BuildDir,
				"treeshake_app", m.TreeshakeApp,
				"treeshake_libs", m.TreeshakeLibs,
				"optimize", m.OptimizationLevel)

			b := pypack.NewBuilder(pypack.Options{
				Python:         cfg.Python,
				BuildDir:       cfg.BuildDir,
				Fs:             fsys,
				CompileTimeout: cfg.CompileTimeout,
				NoDistZip:      noDistZip,
			})
			report, err := b.Build(cmd.Context(), m)
			if err != nil {
				return errWithCode(fmt.Errorf("build: %w", err), exitBuildError)
			}
			return writeReport(cmd, report)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "config-file", "c", manifest.DefaultFile, "Manifest to build from")
	cmd.Flags().StringVar(&cfg.BuildDir, "build-dir", "", "Bundle directory (default \""+pypack.DefaultBuildDir+"\")")
	cmd.Flags().BoolVar(&noDistZip, "no-dist-zip", false, "Skip the distribution zip")
	flags.register(cmd.Flags())
	return cmd
}

func writeReport(cmd *cobra.Command, report *pypack.Report) error {
	if !cfg.JSON {
		fmt.Fprint(cmd.OutOrStdout(), report.String())
		return nil
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
