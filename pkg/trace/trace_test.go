package trace

import (
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/715d/pypack/pkg/manifest"
)

func TestScript(t *testing.T) {
	s := Script("app", "", "/tmp/app.tmp")
	require.Contains(t, s, "try:\n    import app\nexcept BaseException as exc:")
	require.Contains(t, s, "else:\n    try:\n        pass\n")
	require.Contains(t, s, `with open("/tmp/app.tmp", "w") as f:`)
	require.NotContains(t, s, "{{")

	s = Script("app", "main", `C:\work\app.tmp`)
	require.Contains(t, s, "    try:\n        app.main()\n")
	require.Contains(t, s, `with open("C:\\work\\app.tmp", "w") as f:`)
}

func TestDecodeResult(t *testing.T) {
	data := []byte(`{
		"version": "python312",
		"prefix": "C:\\Python312",
		"stdlib_root": "C:\\Python312\\Lib",
		"site_packages": "C:\\venv\\Lib\\site-packages",
		"third_party_roots": ["C:\\Python312", "C:\\Python312\\Lib\\site-packages", "C:\\venv\\Lib\\site-packages"],
		"app_root": "C:\\work",
		"modules": [["app", "C:\\work\\app.py"], ["json", "C:\\Python312\\Lib\\json\\__init__.py"]]
	}`)

	res, err := decodeResult(data)
	require.NoError(t, err)
	require.Equal(t, "python312", res.Runtime.Version)
	require.Equal(t, []string{`C:\Python312\Lib\site-packages`}, res.Runtime.ThirdPartyRoots)
	require.Equal(t, []manifest.TraceRecord{
		{Module: "app", Path: `C:\work\app.py`},
		{Module: "json", Path: `C:\Python312\Lib\json\__init__.py`},
	}, res.Records)

	require.NoError(t, checkTarget(res, "app"))

	failed, err := decodeResult([]byte(`{"stdlib_root": "/py/Lib", "modules": [], "target_error": "ModuleNotFoundError: No module named 'x'"}`))
	require.NoError(t, err)
	require.Equal(t, "ModuleNotFoundError: No module named 'x'", failed.targetError)

	_, err = decodeResult([]byte(`{"modules": []}`))
	require.Error(t, err)
	_, err = decodeResult([]byte(`not json`))
	require.Error(t, err)
}

func TestCheckTarget(t *testing.T) {
	loaded := []manifest.TraceRecord{{Module: "json", Path: "/py/Lib/json/__init__.py"}, {Module: "app", Path: "/work/app.py"}}
	tests := []struct {
		name    string
		res     *Result
		wantErr string
	}{
		{name: "imported", res: &Result{Records: loaded}},
		{
			name:    "import_raised",
			res:     &Result{Records: loaded[:1], targetError: "ImportError: boom"},
			wantErr: "importing app: ImportError: boom",
		},
		{
			name:    "target_not_loaded",
			res:     &Result{Records: loaded[:1]},
			wantErr: "app missing from the loaded modules",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTarget(tt.res, "app")
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrTraceCollectionFailed)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestBuildManifest(t *testing.T) {
	res := &Result{
		Runtime: manifest.Runtime{
			Version:      "python312",
			Prefix:       "/py",
			StdlibRoot:   "/py/Lib",
			SitePackages: "/site-packages",
			AppRoot:      "/root",
		},
		Records: []manifest.TraceRecord{
			{Module: "app", Path: "/root/app.py"},
			{Module: "app.util", Path: "/root/util/helper.py"},
			{Module: "helper", Path: "/root/util/helper.py"},
			{Module: "requests", Path: "/site-packages/requests/__init__.py"},
			{Module: "json", Path: "/py/Lib/json/__init__.py"},
			{Module: "_ssl", Path: "/py/DLLs/_ssl.pyd"},
			{Module: "frozen", Path: "/opt/elsewhere/frozen.py"},
		},
	}

	cfg := manifest.DefaultBuildConfig()
	cfg.TreeshakeLibs = true
	m := BuildManifest(res, "app.py", "", cfg)

	require.Equal(t, "app", m.AppTitle)
	require.True(t, m.ForceExit)
	require.True(t, m.TreeshakeLibs)
	require.Equal(t, []string{"app.py", "util/helper.py"}, m.AppModules)
	require.Equal(t, []string{"requests/__init__.py"}, m.AppLib)
	require.Equal(t, []string{"json/__init__.py"}, m.StdLib)
	require.Equal(t, []string{"/py/DLLs/_ssl.pyd"}, m.Binaries)
	require.Len(t, m.Modules, 7, "raw trace keeps aliased names")
	require.True(t, slices.IsSortedFunc(m.Modules, func(a, b manifest.TraceRecord) int {
		if a.Module < b.Module {
			return -1
		}
		if a.Module > b.Module {
			return 1
		}
		return 0
	}))
}

func findPython(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no python interpreter on PATH")
	return ""
}

func TestCollector_Collect(t *testing.T) {
	python := findPython(t)
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "util"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util", "__init__.py"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util", "helper.py"), []byte("import json\nVALUE = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("import util.helper\n\ndef main():\n    import csv\n"), 0o644))

	c := NewCollector(Options{Python: python, Dir: dir, Timeout: time.Minute})
	res, err := c.Collect(t.Context(), "app.py", "main")
	require.NoError(t, err)

	modules := make(map[string]string)
	for _, r := range res.Records {
		modules[r.Module] = r.Path
	}
	require.Contains(t, modules, "app")
	require.Contains(t, modules, "util.helper")
	require.Contains(t, modules, "json")
	require.Contains(t, modules, "csv", "entry function must run")
	require.NotContains(t, modules, "__main__")
	require.NotEmpty(t, res.Runtime.StdlibRoot)

	_, err = os.Stat(filepath.Join(dir, "app_analysis.py"))
	require.True(t, os.IsNotExist(err), "analysis script is removed")
	_, err = os.Stat(filepath.Join(dir, "app.tmp"))
	require.True(t, os.IsNotExist(err), "raw output is removed")
}

func TestCollector_Failures(t *testing.T) {
	python := findPython(t)
	dir := t.TempDir()

	c := NewCollector(Options{Python: python, Dir: dir, Timeout: time.Second})
	_, err := c.Collect(t.Context(), "missing.py", "")
	require.ErrorIs(t, err, ErrUnknownTarget)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "slow.py"), []byte("import time\ntime.sleep(30)\n"), 0o644))
	_, err = c.Collect(t.Context(), "slow.py", "")
	require.ErrorIs(t, err, ErrTraceCollectionFailed)
	require.Contains(t, err.Error(), "timed out")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "quits.py"), []byte("import os\nos._exit(0)\n"), 0o644))
	_, err = c.Collect(t.Context(), "quits.py", "")
	require.ErrorIs(t, err, ErrTraceCollectionFailed, "no output must not be read as zero dependencies")

	c = NewCollector(Options{Python: python, Dir: dir, Timeout: time.Minute})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.py"), []byte("import does_not_exist_xyz\n"), 0o644))
	_, err = c.Collect(t.Context(), "broken.py", "")
	require.ErrorIs(t, err, ErrTraceCollectionFailed)
	require.ErrorContains(t, err, "ModuleNotFoundError")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "exits.py"), []byte("raise SystemExit(2)\n"), 0o644))
	_, err = c.Collect(t.Context(), "exits.py", "")
	require.ErrorIs(t, err, ErrTraceCollectionFailed)
	require.ErrorContains(t, err, "SystemExit")
}
