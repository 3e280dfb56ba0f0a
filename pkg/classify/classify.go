// Package classify assigns every traced file to exactly one provenance category.
package classify

import (
	"log/slog"
	"path"
	"strings"

	"github.com/715d/pypack/pkg/manifest"
)

// nativeSuffixes mark dynamically loaded artifacts. They are checked before any
// root since extensions can live under every root.
var nativeSuffixes = []string{".pyd", ".dll", ".so", ".dylib"}

// Roots are the directories a traced path is matched against.
type Roots struct {
	Stdlib       string
	SitePackages string
	ThirdParty   []string
	App          string
	// Prefix is the runtime installation prefix. Only native binaries are
	// matched against it, after every other root.
	Prefix string
}

// RootsFor returns the roots recorded in a manifest runtime section.
func RootsFor(rt manifest.Runtime) Roots {
	return Roots{
		Stdlib:       rt.StdlibRoot,
		SitePackages: rt.SitePackages,
		ThirdParty:   rt.ThirdPartyRoots,
		App:          rt.AppRoot,
		Prefix:       rt.Prefix,
	}
}

// Result is the outcome of classifying one path.
type Result struct {
	Category manifest.Category
	// Origin is the category of the root the file lives under. It equals
	// Category except for native binaries.
	Origin manifest.Category
	// Rel is the path relative to the matched root, with forward slashes.
	Rel string
	// Root is the matched root, normalized. Empty when Outside is set.
	Root string
	// Outside is set when no root matched; Rel is then the base name.
	Outside bool
	// CaseMismatch is set when a case-sensitive comparison would have produced
	// a different category.
	CaseMismatch bool
}

// Classifier matches paths against a fixed set of roots.
type Classifier struct {
	stdlib     string
	thirdParty []string
	app        string
	prefix     string
}

// New returns a classifier for roots.
func New(roots Roots) *Classifier {
	c := &Classifier{
		stdlib: Normalize(roots.Stdlib),
		app:    Normalize(roots.App),
		prefix: Normalize(roots.Prefix),
	}
	for _, r := range append([]string{roots.SitePackages}, roots.ThirdParty...) {
		if r = Normalize(r); r != "" {
			c.thirdParty = append(c.thirdParty, r)
		}
	}
	return c
}

// Classify maps p to its category. It never fails: paths outside every root
// fall through to manifest.AppModule.
func (c *Classifier) Classify(p string) Result {
	p = Normalize(p)
	res := c.classify(p, true)
	exact := c.classify(p, false)
	if exact.Category != res.Category || exact.Origin != res.Origin {
		res.CaseMismatch = true
		slog.Warn("path matched a root only after case folding",
			"file", p, "category", res.Category, "case_sensitive_category", exact.Category)
	}
	return res
}

func (c *Classifier) classify(p string, fold bool) Result {
	if IsNative(p) {
		res := c.locate(p, fold, true)
		res.Category = manifest.NativeBinary
		return res
	}
	return c.locate(p, fold, false)
}

// locate finds the root p lives under in priority order: stdlib, third-party
// (longest match), app, and for native binaries the runtime prefix.
func (c *Classifier) locate(p string, fold, native bool) Result {
	if rel, ok := relTo(p, c.stdlib, fold); ok {
		return Result{Category: manifest.StdLib, Origin: manifest.StdLib, Rel: rel, Root: c.stdlib}
	}

	best := ""
	for _, r := range c.thirdParty {
		if _, ok := relTo(p, r, fold); ok && len(r) > len(best) {
			best = r
		}
	}
	if best != "" {
		rel, _ := relTo(p, best, fold)
		return Result{Category: manifest.ThirdPartyLib, Origin: manifest.ThirdPartyLib, Rel: rel, Root: best}
	}

	if rel, ok := relTo(p, c.app, fold); ok {
		return Result{Category: manifest.AppModule, Origin: manifest.AppModule, Rel: rel, Root: c.app}
	}

	if native {
		if rel, ok := relTo(p, c.prefix, fold); ok {
			return Result{Category: manifest.StdLib, Origin: manifest.StdLib, Rel: rel, Root: c.prefix}
		}
		return Result{Category: manifest.StdLib, Origin: manifest.StdLib, Rel: path.Base(p), Outside: true}
	}
	return Result{Category: manifest.AppModule, Origin: manifest.AppModule, Rel: path.Base(p), Outside: true}
}

// IsNative reports whether p names a native binary.
func IsNative(p string) bool {
	lower := strings.ToLower(p)
	for _, s := range nativeSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// Normalize converts p to a clean forward-slash path. Empty input stays empty.
func Normalize(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean(strings.ReplaceAll(p, `\`, "/"))
}

// relTo returns p relative to root when p is strictly below root.
func relTo(p, root string, fold bool) (string, bool) {
	if root == "" {
		return "", false
	}
	prefix := strings.TrimSuffix(root, "/") + "/"
	if len(p) <= len(prefix) {
		return "", false
	}
	head := p[:len(prefix)]
	if fold {
		if !strings.EqualFold(head, prefix) {
			return "", false
		}
	} else if head != prefix {
		return "", false
	}
	return p[len(prefix):], true
}
