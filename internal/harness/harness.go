package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/715d/pypack/pkg/archive"
	"github.com/715d/pypack/pkg/compile"
	"github.com/715d/pypack/pkg/manifest"
	"github.com/715d/pypack/pkg/pypack"
	"github.com/715d/pypack/pkg/trace"
)

const buildDir = "/out/dist"

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the directory containing the expected.yaml and fixture.txtar.
	Dir string `yaml:"-"`

	// App and EntryFunction are the traced target.
	App           string `yaml:"app"`
	EntryFunction string `yaml:"entry_function"`

	Runtime RuntimeConfig `yaml:"runtime"`
	Trace   []TraceEntry  `yaml:"trace"`

	// BuildConfigurations defines multiple builds of the same trace.
	BuildConfigurations []BuildConfiguration `yaml:"build_configurations"`
}

// ConfigurationResult represents the result of running a single build configuration.
type ConfigurationResult struct {
	Configuration BuildConfiguration
	Success       bool
	Message       string
	Details       []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	TestCase             *TestCase
	ConfigurationResults []ConfigurationResult
	Success              bool
	Message              string
}

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// Run executes a test case with all its build configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.BuildConfigurations, "test case has no build configurations")

	var results []ConfigurationResult
	allSuccess := true
	for _, cfg := range tc.BuildConfigurations {
		r := h.runConfiguration(t, tc, cfg)
		results = append(results, *r)
		if !r.Success {
			allSuccess = false
		}
	}

	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.BuildConfigurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.BuildConfigurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

// runConfiguration builds the test case's trace once and compares the bundle.
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg BuildConfiguration) *ConfigurationResult {
	t.Helper()
	dir := filepath.Join(h.root, tc.Dir)
	fsys := LoadFixture(t, dir)
	seedRuntime(t, fsys, tc.Runtime.Prefix, tc.Runtime.Version)

	res := &trace.Result{Runtime: tc.Runtime.Runtime()}
	for _, e := range tc.Trace {
		res.Records = append(res.Records, manifest.TraceRecord{Module: e.Module, Path: e.Path})
	}
	m := trace.BuildManifest(res, tc.App, tc.EntryFunction, cfg.BuildConfig())

	// Round-trip through the persisted form, as analyze followed by build does.
	require.NoError(t, manifest.Save(fsys, "/tracefile.json", m))
	m, err := manifest.Load(fsys, "/tracefile.json")
	require.NoError(t, err)

	b := pypack.NewBuilder(pypack.Options{
		Fs:        fsys,
		BuildDir:  buildDir,
		Compiler:  memCompiler{fs: fsys},
		NoDistZip: true,
	})
	_, err = b.Build(t.Context(), m)
	if err != nil {
		for _, expectedErr := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				return &ConfigurationResult{
					Configuration: cfg,
					Success:       true,
					Message:       fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		require.NoError(t, err)
	}
	if len(cfg.ExpectedErrors) > 0 {
		return &ConfigurationResult{
			Configuration: cfg,
			Message:       "Build succeeded, expected an error",
			Details:       cfg.ExpectedErrors,
		}
	}

	actual := readLayout(t, fsys, m)
	return validateLayout(cfg, actual)
}

// memCompiler stands in for the interpreter: the compiled form of a file names
// its source. Sources containing "SYNTAX ERROR" fail to compile.
type memCompiler struct{ fs afero.Fs }

func (c memCompiler) Compile(_ context.Context, path string, level int) ([]byte, error) {
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, err
	}
	if i := strings.Index(string(data), "SYNTAX ERROR"); i >= 0 {
		line := 1 + strings.Count(string(data[:i]), "\n")
		return nil, &compile.CompileError{File: path, Line: line, Msg: "SyntaxError: invalid syntax"}
	}
	return fmt.Appendf(nil, "pyc:%d:%s", level, path), nil
}

// readLayout lists what the build wrote.
func readLayout(t *testing.T, fsys afero.Fs, m *manifest.Manifest) Layout {
	t.Helper()
	support := filepath.Join(buildDir, pypack.DefaultSupportDir)
	var l Layout
	archives := []struct {
		name string
		dst  *[]string
	}{
		{m.Runtime.Version + ".zip", &l.Runtime},
		{"pkg.zip", &l.Lib},
		{"app.zip", &l.App},
	}
	for _, a := range archives {
		members, err := archive.Members(fsys, filepath.Join(support, a.name))
		require.NoError(t, err)
		*a.dst = members
	}

	skipRoot := []string{m.AppTitle + ".exe", m.AppTitle + "_console.exe", m.Runtime.Version + ".dll", m.Runtime.Version + "._pth"}
	skipSupport := []string{m.Runtime.Version + ".zip", "pkg.zip", "app.zip"}
	err := afero.Walk(fsys, buildDir, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if rel, err := filepath.Rel(support, p); err == nil && !strings.HasPrefix(rel, "..") {
			if !slices.Contains(skipSupport, rel) {
				l.Support = append(l.Support, filepath.ToSlash(rel))
			}
			return nil
		}
		rel, err := filepath.Rel(buildDir, p)
		if err != nil {
			return err
		}
		if !slices.Contains(skipRoot, rel) {
			l.Loose = append(l.Loose, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return l
}

// validateLayout compares the bundle with the expected one, ignoring order
// only for the loose tree which is walked, not written in a fixed order.
func validateLayout(cfg BuildConfiguration, actual Layout) *ConfigurationResult {
	sortStrings := cmpopts.SortSlices(func(a, b string) bool { return a < b })
	var details []string
	check := func(what string, want, got []string, opts ...cmp.Option) {
		if diff := cmp.Diff(want, got, append(opts, cmpopts.EquateEmpty())...); diff != "" {
			details = append(details, fmt.Sprintf("%s mismatch (-want +got):\n%s", what, diff))
		}
	}
	check("runtime archive", cfg.Expected.Runtime, actual.Runtime)
	check("lib archive", cfg.Expected.Lib, actual.Lib)
	check("app archive", cfg.Expected.App, actual.App)
	check("loose tree", cfg.Expected.Loose, actual.Loose, sortStrings)
	check("support directory", cfg.Expected.Support, actual.Support, sortStrings)

	r := &ConfigurationResult{Configuration: cfg, Success: len(details) == 0, Details: details}
	if r.Success {
		r.Message = "bundle matches"
	} else {
		r.Message = fmt.Sprintf("%d parts differ", len(details))
	}
	return r
}
