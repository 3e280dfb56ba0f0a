package selection

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/715d/pypack/pkg/archive"
	"github.com/715d/pypack/pkg/manifest"
)

var testRuntime = manifest.Runtime{
	Version:      "python312",
	Prefix:       "/py",
	StdlibRoot:   "/py/Lib",
	SitePackages: "/venv/Lib/site-packages",
	AppRoot:      "/work",
}

func newFS(t *testing.T, files ...string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fsys, f, []byte("# "+f+"\n"), 0o644))
	}
	return fsys
}

func newManifest(cfg manifest.BuildConfig) *manifest.Manifest {
	m := manifest.New("app.py", "")
	m.Runtime = testRuntime
	m.BuildConfig = cfg
	return m
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*manifest.BuildConfig)
		pkg   string
		want  Decision
	}{
		{
			name:  "no_sets_includes_everything",
			setup: func(*manifest.BuildConfig) {},
			pkg:   "requests",
			want:  Include,
		},
		{
			name:  "include_set_member",
			setup: func(c *manifest.BuildConfig) { c.SetLibInclude("requests") },
			pkg:   "requests",
			want:  Include,
		},
		{
			name:  "include_set_non_member",
			setup: func(c *manifest.BuildConfig) { c.SetLibInclude("requests") },
			pkg:   "urllib3",
			want:  Exclude,
		},
		{
			name:  "exclude_set_member",
			setup: func(c *manifest.BuildConfig) { c.SetLibExclude("numpy") },
			pkg:   "numpy",
			want:  Exclude,
		},
		{
			name:  "exclude_set_non_member",
			setup: func(c *manifest.BuildConfig) { c.SetLibExclude("numpy") },
			pkg:   "requests",
			want:  Include,
		},
		{
			name: "last_writer_wins_exclude",
			setup: func(c *manifest.BuildConfig) {
				c.SetLibInclude("requests")
				c.SetLibExclude("numpy")
			},
			pkg:  "urllib3",
			want: Include,
		},
		{
			name: "last_writer_wins_include",
			setup: func(c *manifest.BuildConfig) {
				c.SetLibExclude("numpy")
				c.SetLibInclude("requests")
			},
			pkg:  "numpy",
			want: Exclude,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := manifest.DefaultBuildConfig()
			tt.setup(&cfg)
			require.False(t, len(cfg.LibInclude) > 0 && len(cfg.LibExclude) > 0)
			require.Equal(t, tt.want, Decide(cfg, tt.pkg))
		})
	}
}

func TestPlan_EndToEnd(t *testing.T) {
	fsys := newFS(t,
		"/work/app.py",
		"/work/util/helper.py",
		"/py/Lib/json/__init__.py",
		"/py/Lib/encodings/cp437.py",
		"/venv/Lib/site-packages/requests/__init__.py",
		"/venv/Lib/site-packages/requests/adapters.py",
	)
	cfg := manifest.DefaultBuildConfig()
	cfg.SetTreeshake()
	m := newManifest(cfg)
	m.AppModules = []string{"app.py", "util/helper.py"}
	m.AppLib = []string{"requests/__init__.py"}
	m.StdLib = []string{"json/__init__.py"}

	plan := NewPolicy(fsys, m).Plan()

	require.Equal(t, []string{"encodings/cp437.pyc", "json/__init__.pyc"}, plan.Members(archive.RuntimeArchive))
	require.Equal(t, []string{"requests/__init__.pyc"}, plan.Members(archive.LibArchive))
	require.Equal(t, []string{"app.pyc", "util/helper.pyc"}, plan.Members(archive.AppArchive))
	require.Empty(t, plan.For(archive.Loose))
	require.Empty(t, plan.For(archive.Support))

	for _, it := range plan.Items {
		require.Equal(t, archive.Compile, it.Action, it.String())
	}
}

func TestApplication_NativeSubtree(t *testing.T) {
	for _, treeshake := range []bool{false, true} {
		t.Run(map[bool]string{false: "full", true: "treeshake"}[treeshake], func(t *testing.T) {
			fsys := newFS(t,
				"/work/app.py",
				"/work/fast/__init__.py",
				"/work/fast/impl.py",
				"/work/fast/_speed.pyd",
			)
			cfg := manifest.DefaultBuildConfig()
			cfg.TreeshakeApp = treeshake
			m := newManifest(cfg)
			m.AppModules = []string{"app.py", "fast/__init__.py", "fast/impl.py"}
			m.Binaries = []string{"/work/fast/_speed.pyd"}

			plan := NewPolicy(fsys, m).Plan()

			require.Equal(t, []string{"app.pyc"}, plan.Members(archive.AppArchive))
			require.Equal(t, []string{"fast/__init__.py", "fast/_speed.pyd", "fast/impl.py"}, plan.Members(archive.Loose))
			for _, it := range plan.For(archive.Loose) {
				require.Equal(t, archive.Copy, it.Action)
			}
		})
	}
}

func TestApplication_UntracedNative(t *testing.T) {
	for _, treeshake := range []bool{false, true} {
		t.Run(map[bool]string{false: "full", true: "treeshake"}[treeshake], func(t *testing.T) {
			fsys := newFS(t,
				"/work/app.py",
				"/work/pkg/__init__.py",
				"/work/pkg/ext/_c.so",
				"/work/fast/__init__.py",
				"/work/fast/_speed.pyd",
			)
			cfg := manifest.DefaultBuildConfig()
			cfg.TreeshakeApp = treeshake
			m := newManifest(cfg)
			m.AppModules = []string{"app.py", "fast/__init__.py", "pkg/__init__.py"}

			plan := NewPolicy(fsys, m).Plan()
			require.Equal(t, []string{"app.pyc"}, plan.Members(archive.AppArchive))
			require.Equal(t, []string{
				"fast/__init__.py",
				"fast/_speed.pyd",
				"pkg/__init__.py",
				"pkg/ext/_c.so",
			}, plan.Members(archive.Loose))
		})
	}
}

func TestApplication_Modes(t *testing.T) {
	files := []string{
		"/work/app.py",
		"/work/ui/__init__.py",
		"/work/ui/main.py",
		"/work/ui/unused.py",
		"/work/ui/logo.png",
		"/work/ui/widgets/button.py",
		"/work/ui/__pycache__/main.cpython-312.pyc",
		"/work/readme.txt",
	}
	traced := []string{"app.py", "ui/__init__.py", "ui/main.py"}

	tests := []struct {
		name      string
		treeshake bool
		wantApp   []string
		wantLoose []string
	}{
		{
			name:      "full",
			wantApp:   []string{"app.pyc", "ui/__init__.pyc", "ui/main.pyc", "ui/unused.pyc", "ui/widgets/button.pyc"},
			wantLoose: []string{"ui/logo.png"},
		},
		{
			name:      "treeshake",
			treeshake: true,
			wantApp:   []string{"app.pyc", "ui/__init__.pyc", "ui/main.pyc"},
			wantLoose: []string{"ui/logo.png"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := manifest.DefaultBuildConfig()
			cfg.TreeshakeApp = tt.treeshake
			m := newManifest(cfg)
			m.AppModules = traced

			plan := NewPolicy(newFS(t, files...), m).Plan()
			require.Equal(t, tt.wantApp, plan.Members(archive.AppArchive))
			require.Equal(t, tt.wantLoose, plan.Members(archive.Loose))
		})
	}
}

func TestApplication_Exclude(t *testing.T) {
	fsys := newFS(t,
		"/work/app.py",
		"/work/tests/test_app.py",
		"/work/tests/data.json",
		"/work/ui/main.py",
		"/work/ui/debug_tools.py",
		"/work/util/helper.py",
		"/work/utility.py",
	)
	for _, treeshake := range []bool{false, true} {
		t.Run(map[bool]string{false: "full", true: "treeshake"}[treeshake], func(t *testing.T) {
			cfg := manifest.DefaultBuildConfig()
			cfg.TreeshakeApp = treeshake
			cfg.AppExclude = []string{"tests/", "ui/debug", `util\`}
			m := newManifest(cfg)
			m.AppModules = []string{"app.py", "tests/test_app.py", "ui/debug_tools.py", "ui/main.py", "util/helper.py", "utility.py"}

			plan := NewPolicy(fsys, m).Plan()
			require.Equal(t, []string{"app.pyc", "ui/main.pyc", "utility.pyc"}, plan.Members(archive.AppArchive))
			require.Empty(t, plan.For(archive.Loose))
		})
	}
}

func TestApplication_ExcludedNativeSubtree(t *testing.T) {
	fsys := newFS(t,
		"/work/app.py",
		"/work/fast/__init__.py",
		"/work/fast/_speed.pyd",
	)
	for _, treeshake := range []bool{false, true} {
		t.Run(map[bool]string{false: "full", true: "treeshake"}[treeshake], func(t *testing.T) {
			cfg := manifest.DefaultBuildConfig()
			cfg.TreeshakeApp = treeshake
			cfg.AppExclude = []string{"fast"}
			m := newManifest(cfg)
			m.AppModules = []string{"app.py", "fast/__init__.py"}
			m.Binaries = []string{"/work/fast/_speed.pyd"}

			plan := NewPolicy(fsys, m).Plan()
			require.Equal(t, []string{"app.pyc"}, plan.Members(archive.AppArchive))
			require.Empty(t, plan.For(archive.Loose))
			require.Empty(t, plan.For(archive.Support))
		})
	}
}

func TestLibraries(t *testing.T) {
	files := []string{
		"/venv/Lib/site-packages/requests/__init__.py",
		"/venv/Lib/site-packages/requests/adapters.py",
		"/venv/Lib/site-packages/requests/cacert.pem",
		"/venv/Lib/site-packages/six.py",
		"/venv/Lib/site-packages/numpy/__init__.py",
		"/venv/Lib/site-packages/numpy/core/_multiarray.pyd",
	}
	traced := []string{"numpy/__init__.py", "requests/__init__.py", "six.py"}
	binaries := []string{"/venv/Lib/site-packages/numpy/core/_multiarray.pyd"}

	tests := []struct {
		name      string
		setup     func(*manifest.BuildConfig)
		wantLib   []string
		wantLoose []string
	}{
		{
			name:    "treeshake_all",
			setup:   func(c *manifest.BuildConfig) { c.TreeshakeLibs = true },
			wantLib: []string{"requests/__init__.pyc", "six.pyc"},
			wantLoose: []string{
				"numpy/__init__.py", "numpy/core/_multiarray.pyd", "requests/cacert.pem",
			},
		},
		{
			name:    "exclude_requests",
			setup:   func(c *manifest.BuildConfig) { c.SetLibExclude("requests") },
			wantLib: []string{"six.pyc"},
			wantLoose: []string{
				"numpy/__init__.py", "numpy/core/_multiarray.pyd",
				"requests/__init__.py", "requests/adapters.py", "requests/cacert.pem",
			},
		},
		{
			name:    "include_six",
			setup:   func(c *manifest.BuildConfig) { c.SetLibInclude("six") },
			wantLib: []string{"six.pyc"},
			wantLoose: []string{
				"numpy/__init__.py", "numpy/core/_multiarray.pyd",
				"requests/__init__.py", "requests/adapters.py", "requests/cacert.pem",
			},
		},
		{
			name:  "no_treeshake",
			setup: func(*manifest.BuildConfig) {},
			wantLoose: []string{
				"numpy/__init__.pyc", "numpy/core/_multiarray.pyd",
				"requests/__init__.pyc", "requests/adapters.pyc", "requests/cacert.pem",
				"six.pyc",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := manifest.DefaultBuildConfig()
			cfg.StdlibExtras = nil
			tt.setup(&cfg)
			m := newManifest(cfg)
			m.AppLib = traced
			m.Binaries = binaries

			plan := NewPolicy(newFS(t, files...), m).Plan()
			require.Equal(t, tt.wantLib, plan.Members(archive.LibArchive))
			require.Equal(t, tt.wantLoose, plan.Members(archive.Loose))
		})
	}
}

func TestBinaries(t *testing.T) {
	fsys := newFS(t,
		"/py/DLLs/_ssl.pyd",
		"/py/DLLs/libssl-3.dll",
		"/opt/vendor/odd.dll",
		"/work/ext/_fast.pyd",
	)
	m := newManifest(manifest.DefaultBuildConfig())
	m.Binaries = []string{
		"/opt/vendor/odd.dll",
		"/py/DLLs/_ssl.pyd",
		"/py/DLLs/libssl-3.dll",
		"/py/DLLs/gone.dll",
		"/work/ext/_fast.pyd",
	}

	items := NewPolicy(fsys, m).Binaries()
	plan := archive.NewPlan(items)
	require.Equal(t, []string{"_ssl.pyd", "libssl-3.dll", "odd.dll"}, plan.Members(archive.Support))
	require.Equal(t, []string{"ext/_fast.pyd"}, plan.Members(archive.Loose))
}

func TestStdlib_MissingSourceSkipped(t *testing.T) {
	fsys := newFS(t, "/py/Lib/json/__init__.py")
	m := newManifest(manifest.DefaultBuildConfig())
	m.StdLib = []string{"json/__init__.py", "removed.py"}

	plan := archive.NewPlan(NewPolicy(fsys, m).Stdlib())
	require.Equal(t, []string{"json/__init__.pyc"}, plan.Members(archive.RuntimeArchive))
}

func TestStdlib_Extras(t *testing.T) {
	fsys := newFS(t,
		"/py/Lib/encodings/cp437.py",
		"/py/DLLs/libffi-8.dll",
		"/py/site.py",
	)
	cfg := manifest.DefaultBuildConfig()
	cfg.StdlibExtras = append(cfg.StdlibExtras, "../DLLs/libffi-8.dll", "../site.py")
	m := newManifest(cfg)

	plan := archive.NewPlan(NewPolicy(fsys, m).Stdlib())
	require.Equal(t, []string{"encodings/cp437.pyc"}, plan.Members(archive.RuntimeArchive))
	require.Equal(t, []string{"libffi-8.dll"}, plan.Members(archive.Support))
	for _, it := range plan.For(archive.Support) {
		require.Equal(t, archive.Copy, it.Action)
		require.Equal(t, manifest.NativeBinary, it.Category)
	}
}
