package trace

import (
	"log/slog"

	"github.com/715d/pypack/pkg/classify"
	"github.com/715d/pypack/pkg/manifest"
)

// BuildManifest classifies every traced record and returns the manifest for
// app. Application modules outside the application root cannot be located at
// build time and are dropped with a warning.
func BuildManifest(res *Result, app, entryFunction string, cfg manifest.BuildConfig) *manifest.Manifest {
	m := manifest.New(app, entryFunction)
	m.BuildConfig = cfg
	m.Runtime = res.Runtime
	m.Modules = append(m.Modules, res.Records...)

	c := classify.New(classify.RootsFor(res.Runtime))
	counts := make(map[manifest.Category]int)
	for _, rec := range res.Records {
		r := c.Classify(rec.Path)
		switch {
		case r.Category == manifest.NativeBinary:
			m.Add(r.Category, classify.Normalize(rec.Path))
		case r.Outside:
			slog.Warn("module outside every known root, skipping", "module", rec.Module, "file", rec.Path)
			continue
		default:
			m.Add(r.Category, r.Rel)
		}
		counts[r.Category]++
	}
	m.Normalize()

	slog.Info("classified trace",
		"stdlib", counts[manifest.StdLib],
		"third_party", counts[manifest.ThirdPartyLib],
		"app", counts[manifest.AppModule],
		"native", counts[manifest.NativeBinary])
	return m
}
