package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// DefaultFile is the manifest name written by analysis and read by builds.
const DefaultFile = "tracefile.json"

// ErrManifestMissing is returned by Load when the manifest file does not exist.
var ErrManifestMissing = errors.New("manifest missing")

// Manifest is the frozen input of one build run.
type Manifest struct {
	// App is the traced target as given on the command line ("app.py" or "app").
	App      string `json:"app"`
	AppTitle string `json:"app_title"`

	// AppExec are the statements that start the application.
	AppExec       []string `json:"app_exec"`
	EntryFunction string   `json:"entry_function,omitempty"`
	// ForceExit terminates the process once AppExec returns.
	ForceExit bool `json:"force_exit"`

	Runtime Runtime `json:"runtime"`

	// Modules is the raw trace, sorted by module name.
	Modules []TraceRecord `json:"modules"`

	// Classified lists. StdLib, AppLib and AppModules hold paths relative to
	// their root; Binaries holds absolute paths since they may live under any root.
	StdLib     []string `json:"std_lib"`
	AppLib     []string `json:"app_lib"`
	AppModules []string `json:"app_modules"`
	Binaries   []string `json:"binaries"`

	BuildConfig
}

// New returns a manifest for app with the default build configuration.
func New(app, entryFunction string) *Manifest {
	title, standalone := strings.CutSuffix(app, ".py")
	m := &Manifest{
		App:           app,
		AppTitle:      title,
		EntryFunction: entryFunction,
		ForceExit:     standalone,
		BuildConfig:   DefaultBuildConfig(),
	}
	m.AppExec = []string{"import " + title}
	if entryFunction != "" {
		m.AppExec = append(m.AppExec, title+"."+entryFunction+"()")
	}
	return m
}

// Add records a classified file. Duplicates are removed by Normalize.
func (m *Manifest) Add(c Category, path string) {
	switch c {
	case StdLib:
		m.StdLib = append(m.StdLib, path)
	case ThirdPartyLib:
		m.AppLib = append(m.AppLib, path)
	case AppModule:
		m.AppModules = append(m.AppModules, path)
	case NativeBinary:
		m.Binaries = append(m.Binaries, path)
	}
}

// Normalize sorts and deduplicates every list.
func (m *Manifest) Normalize() {
	m.StdLib = sortedSet(m.StdLib)
	m.AppLib = sortedSet(m.AppLib)
	m.AppModules = sortedSet(m.AppModules)
	m.Binaries = sortedSet(m.Binaries)
	slices.SortFunc(m.Modules, func(a, b TraceRecord) int {
		return strings.Compare(a.Module, b.Module)
	})
}

// BootstrapCode is the startup hook injected into the runtime archive.
func (m *Manifest) BootstrapCode() string {
	lines := slices.Clone(m.AppExec)
	if len(lines) == 0 {
		lines = []string{"import " + m.AppTitle}
	}
	if m.ForceExit {
		lines = append(lines, "import os", "os._exit(0)")
	}
	return strings.Join(lines, "\n")
}

type persisted struct {
	*Manifest
	EntryBootstrapCode string `json:"entry_bootstrap_code"`
}

// Load reads a manifest from path.
func Load(fsys afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s not found, run analyze first", ErrManifestMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	m := &Manifest{BuildConfig: DefaultBuildConfig()}
	if err := json.Unmarshal(data, &persisted{Manifest: m}); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	if m.AppTitle == "" {
		m.AppTitle = strings.TrimSuffix(m.App, ".py")
	}
	if len(m.LibInclude) > 0 && len(m.LibExclude) > 0 {
		return nil, fmt.Errorf("manifest %s: lib_include and lib_exclude are mutually exclusive", path)
	}
	m.SetOptimizationLevel(m.OptimizationLevel)
	m.Normalize()
	return m, nil
}

// Save writes m to path as indented JSON.
func Save(fsys afero.Fs, path string, m *Manifest) error {
	m.Normalize()
	data, err := json.MarshalIndent(persisted{
		Manifest:           m,
		EntryBootstrapCode: m.BootstrapCode(),
	}, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := afero.WriteFile(fsys, path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

func sortedSet(items []string) []string {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}
