package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/715d/pypack/pkg/manifest"
	"github.com/715d/pypack/pkg/trace"
)

func TestBuildFlags_Apply(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		start func(c *manifest.BuildConfig)
		check func(t *testing.T, c manifest.BuildConfig)
	}{
		{
			name: "include_after_exclude_wins",
			args: []string{"--lib-exclude", "numpy", "--lib-include", "six,requests"},
			check: func(t *testing.T, c manifest.BuildConfig) {
				require.Equal(t, []string{"requests", "six"}, c.LibInclude)
				require.Nil(t, c.LibExclude)
				require.True(t, c.TreeshakeLibs)
			},
		},
		{
			name: "exclude_after_include_wins",
			args: []string{"--lib-include", "six", "--lib-exclude", "numpy"},
			check: func(t *testing.T, c manifest.BuildConfig) {
				require.Nil(t, c.LibInclude)
				require.Equal(t, []string{"numpy"}, c.LibExclude)
			},
		},
		{
			name: "repeated_flag_accumulates",
			args: []string{"--lib-exclude", "scipy", "--lib-exclude", "numpy"},
			check: func(t *testing.T, c manifest.BuildConfig) {
				require.Equal(t, []string{"numpy", "scipy"}, c.LibExclude)
			},
		},
		{
			name: "optimize_clamped",
			args: []string{"-O", "5"},
			check: func(t *testing.T, c manifest.BuildConfig) {
				require.Equal(t, 2, c.OptimizationLevel)
			},
		},
		{
			name: "treeshake_sets_both",
			args: []string{"-t"},
			check: func(t *testing.T, c manifest.BuildConfig) {
				require.True(t, c.TreeshakeApp)
				require.True(t, c.TreeshakeLibs)
			},
		},
		{
			name:  "unset_flags_keep_manifest",
			args:  nil,
			start: func(c *manifest.BuildConfig) { c.TreeshakeApp = true; c.OptimizationLevel = 1; c.SetLibExclude("numpy") },
			check: func(t *testing.T, c manifest.BuildConfig) {
				require.True(t, c.TreeshakeApp)
				require.Equal(t, 1, c.OptimizationLevel)
				require.Equal(t, []string{"numpy"}, c.LibExclude)
			},
		},
		{
			name:  "explicit_false_overrides",
			args:  []string{"--treeshake-app=false"},
			start: func(c *manifest.BuildConfig) { c.TreeshakeApp = true },
			check: func(t *testing.T, c manifest.BuildConfig) {
				require.False(t, c.TreeshakeApp)
			},
		},
		{
			name: "copy_and_excludes_append",
			args: []string{"--copy", "assets/**:data", "--copy", "*.ini", "--exclude", "**/*.md", "--app-exclude", "tests/"},
			check: func(t *testing.T, c manifest.BuildConfig) {
				require.Equal(t, []manifest.CopyRule{{Glob: "assets/**", Dest: "data"}, {Glob: "*.ini", Dest: "."}}, c.Copy)
				require.Equal(t, []string{"**/*.md"}, c.FileExclude)
				require.Equal(t, []string{"tests/"}, c.AppExclude)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var flags buildFlags
			fs := pflag.NewFlagSet(tt.name, pflag.ContinueOnError)
			flags.register(fs)
			require.NoError(t, fs.Parse(tt.args))

			c := manifest.DefaultBuildConfig()
			if tt.start != nil {
				tt.start(&c)
			}
			flags.apply(&c)
			tt.check(t, c)
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"coded", errWithCode(errors.New("boom"), exitTraceFailed), exitTraceFailed},
		{"manifest_missing", fmt.Errorf("load: %w", manifest.ErrManifestMissing), exitManifestMissing},
		{"trace_failed", fmt.Errorf("analyze: %w", trace.ErrTraceCollectionFailed), exitTraceFailed},
		{"unknown_target", trace.ErrUnknownTarget, exitTraceFailed},
		{"other", errors.New("disk full"), exitBuildError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, exitCode(tt.err))
		})
	}

	wrapped := errWithCode(manifest.ErrManifestMissing, exitManifestMissing)
	require.ErrorIs(t, wrapped, manifest.ErrManifestMissing)
}

func TestInspect(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for _, f := range []string{"/py/Lib/json/__init__.py", "/py/Lib/encodings/cp437.py", "/work/app.py", "/work/logo.png"} {
		require.NoError(t, afero.WriteFile(fsys, f, []byte("x = 1\n"), 0o644))
	}

	m := manifest.New("app.py", "")
	m.Runtime = manifest.Runtime{Version: "python312", Prefix: "/py", StdlibRoot: "/py/Lib", AppRoot: "/work"}
	m.Add(manifest.StdLib, "json/__init__.py")
	m.Add(manifest.AppModule, "app.py")

	in := inspect(fsys, m)
	require.Equal(t, "app", in.App)
	require.Equal(t, 1, in.Traced["stdlib"])
	require.Equal(t, 1, in.Traced["app"])
	require.Equal(t, 2, in.Targets["runtime"])
	require.Equal(t, 1, in.Targets["app"])
	require.Equal(t, 3, in.Compiles)
	require.Equal(t, int64(18), in.Bytes)

	var buf bytes.Buffer
	renderInspection(&buf, in)
	out := buf.String()
	require.Contains(t, out, "app (python312)")
	require.Contains(t, out, "third_party")
	require.Contains(t, out, "3 files to compile")
}
