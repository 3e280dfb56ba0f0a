// Package main implements the CLI driver for pypack.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/pypack/pkg/compile"
	"github.com/715d/pypack/pkg/manifest"
	"github.com/715d/pypack/pkg/trace"
)

// Config holds the global command-line configuration.
type Config struct {
	Verbose        bool          // enables debug logging on stderr
	JSON           bool          // JSON logs and JSON reports
	Profile        bool          // writes cpu.prof and mem.prof
	Python         string        // interpreter used for tracing and compiling
	ConfigFile     string        // optional pypack.yaml
	BuildDir       string        // bundle directory
	TraceTimeout   time.Duration // bound on the traced run
	CompileTimeout time.Duration // bound on one compiler invocation
}

const (
	exitBuildError      = 1
	exitManifestMissing = 2
	exitTraceFailed     = 3
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pypack",
		Short: "Bundle a Python application with an embeddable interpreter",
		Long: `pypack traces which modules an application loads, then packages exactly
those modules, compiled, next to an embeddable interpreter.

Run "pypack analyze" once to write tracefile.json, adjust it if needed, then
run "pypack build".`,
		Example: `  pypack analyze app.py                 # Trace a standalone script
  pypack analyze myapp -f main          # Trace a package and call myapp.main()
  pypack build -t                       # Build with full treeshaking
  pypack build --lib-exclude numpy      # Ship numpy verbatim
  pypack inspect                        # Summarize tracefile.json`,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("pypack version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	pf.BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	pf.BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	pf.StringVar(&cfg.Python, "python", "python", "Interpreter used for tracing and compiling")
	pf.StringVar(&cfg.ConfigFile, "config", "", "Config file (default is ./pypack.yaml if present)")
	pf.DurationVar(&cfg.TraceTimeout, "trace-timeout", trace.DefaultTimeout, "Maximum duration of the traced run")
	pf.DurationVar(&cfg.CompileTimeout, "compile-timeout", compile.DefaultTimeout, "Maximum duration of compiling one file")
	bindConfig(pf)

	rootCmd.AddCommand(newAnalyzeCmd(), newBuildCmd(), newInspectCmd())
	return rootCmd
}

var cpuProfile *os.File

func setup(_ *cobra.Command, _ []string) error {
	if err := loadConfig(&cfg); err != nil {
		return errWithCode(err, exitBuildError)
	}

	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !cfg.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var cErr *codedError
	if errors.As(err, &cErr) {
		return cErr.code
	}
	switch {
	case errors.Is(err, manifest.ErrManifestMissing):
		return exitManifestMissing
	case errors.Is(err, trace.ErrTraceCollectionFailed), errors.Is(err, trace.ErrUnknownTarget):
		return exitTraceFailed
	}
	return exitBuildError
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error {
	return e.err
}
