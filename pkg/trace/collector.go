// Package trace runs the target application once under the interpreter and
// records which modules it loaded.
package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/715d/pypack/pkg/classify"
	"github.com/715d/pypack/pkg/manifest"
)

var (
	// ErrTraceCollectionFailed is returned when the traced process exits
	// abnormally, times out, or produces no usable output.
	ErrTraceCollectionFailed = errors.New("trace collection failed")

	// ErrUnknownTarget is returned when the target is neither a package
	// directory nor a source file.
	ErrUnknownTarget = errors.New("cannot determine what to import")
)

// DefaultTimeout bounds one traced run.
const DefaultTimeout = 5 * time.Minute

// Options configures a Collector.
type Options struct {
	// Python is the interpreter executable.
	Python string

	// Dir is the application root the target is imported from.
	// If empty, uses the current working directory.
	Dir string

	// Timeout bounds the traced run; zero means DefaultTimeout.
	Timeout time.Duration

	// KeepScripts retains the generated script and raw output for debugging.
	KeepScripts bool
}

// Result is the raw outcome of one traced run.
type Result struct {
	Runtime manifest.Runtime
	Records []manifest.TraceRecord

	// targetError is the exception the target's import raised, if any.
	targetError string
}

// Collector spawns traced runs.
type Collector struct {
	opts Options
}

// NewCollector returns a collector with defaults applied.
func NewCollector(opts Options) *Collector {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Python == "" {
		opts.Python = "python"
	}
	return &Collector{opts: opts}
}

// Collect traces app, a package directory or a .py file below the application
// root, optionally calling entryFunction after importing it.
func (c *Collector) Collect(ctx context.Context, app, entryFunction string) (*Result, error) {
	dir := c.opts.Dir
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	importName, err := resolveTarget(dir, app)
	if err != nil {
		return nil, err
	}
	slog.Info("tracing target", "app", app, "import", importName, "dir", dir)

	scriptPath := filepath.Join(dir, importName+"_analysis.py")
	outPath := filepath.Join(dir, importName+".tmp")
	if err := os.WriteFile(scriptPath, []byte(Script(importName, entryFunction, outPath)), 0o644); err != nil {
		return nil, fmt.Errorf("writing analysis script: %w", err)
	}
	_ = os.Remove(outPath)
	if !c.opts.KeepScripts {
		defer func() {
			_ = os.Remove(scriptPath)
			_ = os.Remove(outPath)
		}()
	}

	if err := c.run(ctx, dir, scriptPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outPath)
	if err != nil || len(data) == 0 {
		return nil, fmt.Errorf("%w: no output written to %s", ErrTraceCollectionFailed, outPath)
	}
	res, err := decodeResult(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTraceCollectionFailed, err)
	}
	if err := checkTarget(res, importName); err != nil {
		return nil, err
	}
	slog.Info("trace collected", "modules", len(res.Records), "runtime", res.Runtime.Version)
	return res, nil
}

func (c *Collector) run(ctx context.Context, dir, scriptPath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.opts.Python, scriptPath) //nolint:gosec // interpreter chosen by the user
	cmd.Dir = dir
	var stderr strings.Builder
	cmd.Stderr = &stderr
	cmd.Stdout = os.Stderr

	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out after %s", ErrTraceCollectionFailed, c.opts.Timeout)
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return fmt.Errorf("%w: %s", ErrTraceCollectionFailed, lastLines(msg, 5))
	}
	return nil
}

// resolveTarget returns the import name for app: the directory name for a
// package, the stem for a standalone file.
func resolveTarget(dir, app string) (string, error) {
	info, err := os.Stat(filepath.Join(dir, app))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUnknownTarget, app, err)
	}
	if info.IsDir() {
		return filepath.Base(filepath.Clean(app)), nil
	}
	base := filepath.Base(app)
	return strings.TrimSuffix(base, filepath.Ext(base)), nil
}

type rawResult struct {
	Version         string      `json:"version"`
	Prefix          string      `json:"prefix"`
	StdlibRoot      string      `json:"stdlib_root"`
	SitePackages    string      `json:"site_packages"`
	ThirdPartyRoots []string    `json:"third_party_roots"`
	AppRoot         string      `json:"app_root"`
	Modules         [][2]string `json:"modules"`
	TargetError     *string     `json:"target_error"`
}

func decodeResult(data []byte) (*Result, error) {
	var raw rawResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding trace output: %w", err)
	}
	if raw.StdlibRoot == "" {
		return nil, errors.New("trace output has no stdlib root")
	}

	res := &Result{
		Runtime: manifest.Runtime{
			Version:      raw.Version,
			Prefix:       raw.Prefix,
			StdlibRoot:   raw.StdlibRoot,
			SitePackages: raw.SitePackages,
			AppRoot:      raw.AppRoot,
		},
	}

	// site.getsitepackages() lists the prefix itself on some layouts, which
	// would swallow the whole installation.
	skip := map[string]bool{
		classify.Normalize(raw.Prefix):       true,
		classify.Normalize(raw.StdlibRoot):   true,
		classify.Normalize(raw.SitePackages): true,
	}
	for _, r := range raw.ThirdPartyRoots {
		if !skip[classify.Normalize(r)] {
			res.Runtime.ThirdPartyRoots = append(res.Runtime.ThirdPartyRoots, r)
			skip[classify.Normalize(r)] = true
		}
	}

	for _, m := range raw.Modules {
		res.Records = append(res.Records, manifest.TraceRecord{Module: m[0], Path: m[1]})
	}
	if raw.TargetError != nil {
		res.targetError = *raw.TargetError
	}
	return res, nil
}

// checkTarget fails a trace whose target did not import. Such a trace lists
// only what was loaded before the failure and no application code.
func checkTarget(res *Result, importName string) error {
	if res.targetError != "" {
		return fmt.Errorf("%w: importing %s: %s", ErrTraceCollectionFailed, importName, res.targetError)
	}
	for _, r := range res.Records {
		if r.Module == importName {
			return nil
		}
	}
	return fmt.Errorf("%w: %s missing from the loaded modules", ErrTraceCollectionFailed, importName)
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
