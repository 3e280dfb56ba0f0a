package harness

import (
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
	yaml "gopkg.in/yaml.v3"
)

const (
	expectedFile = "expected.yaml"
	fixtureFile  = "fixture.txtar"
)

// LoadTestCase loads a test case from a directory with a specified testdata root.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()

	tc := &TestCase{}
	data, err := os.ReadFile(filepath.Join(dir, expectedFile))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, tc))

	if relPath, err := filepath.Rel(root, dir); err == nil && root != "" {
		tc.Dir = relPath
	} else {
		tc.Dir = filepath.Base(dir)
	}
	return tc
}

// LoadFixture returns an in-memory filesystem holding every file of the
// test case's fixture archive. Archive names are absolute paths without the
// leading slash.
func LoadFixture(t *testing.T, dir string) afero.Fs {
	t.Helper()

	ar, err := txtar.ParseFile(filepath.Join(dir, fixtureFile))
	require.NoError(t, err)

	fsys := afero.NewMemMapFs()
	for _, f := range ar.Files {
		name := path.Clean("/" + f.Name)
		require.NoError(t, afero.WriteFile(fsys, filepath.FromSlash(name), f.Data, 0o644))
	}
	return fsys
}

// seedRuntime adds the launchers and runtime library every build copies, so
// fixtures only need to describe modules.
func seedRuntime(t *testing.T, fsys afero.Fs, prefix, version string) {
	t.Helper()
	for _, name := range []string{"python.exe", "pythonw.exe", version + ".dll"} {
		p := filepath.Join(filepath.FromSlash(prefix), name)
		if ok, _ := afero.Exists(fsys, p); ok {
			continue
		}
		require.NoError(t, afero.WriteFile(fsys, p, []byte(name), 0o644))
	}
}
