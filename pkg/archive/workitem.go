// Package archive writes selected files into the bundle: compiled or verbatim,
// into one of the three zip archives or the loose tree.
package archive

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/715d/pypack/pkg/manifest"
)

// Target is where a work item ends up.
type Target int

const (
	// RuntimeArchive holds the standard library and the boot hook.
	RuntimeArchive Target = iota
	// LibArchive holds compiled third-party packages.
	LibArchive
	// AppArchive holds the compiled application.
	AppArchive
	// Loose is the build root, mirroring relative paths.
	Loose
	// Support is the binary-support directory next to the archives.
	Support
)

var targetNames = [...]string{
	RuntimeArchive: "runtime",
	LibArchive:     "lib",
	AppArchive:     "app",
	Loose:          "loose",
	Support:        "support",
}

func (t Target) String() string {
	if t < 0 || int(t) >= len(targetNames) {
		return "unknown"
	}
	return targetNames[t]
}

// IsArchive reports whether t is one of the three archives.
func (t Target) IsArchive() bool {
	return t <= AppArchive
}

// Action is what happens to the source of a work item.
type Action int

const (
	// Copy writes the source verbatim.
	Copy Action = iota
	// Compile writes the compiled form of the source.
	Compile
)

func (a Action) String() string {
	if a == Compile {
		return "compile"
	}
	return "copy"
}

// CompiledSuffix is appended to a source member name when it is compiled.
const CompiledSuffix = "c"

// WorkItem is one pending write.
type WorkItem struct {
	// Source is the file on disk.
	Source string
	// Rel is the source path relative to its root, with forward slashes.
	Rel    string
	Target Target
	// Member is the archive member name, or the path below the target
	// directory for Loose and Support.
	Member   string
	Action   Action
	Category manifest.Category
}

func (w WorkItem) String() string {
	return fmt.Sprintf("%s %s -> %s:%s", w.Action, w.Source, w.Target, w.Member)
}

// CompileItem returns a work item compiling source into target as rel+"c".
func CompileItem(source, rel string, target Target, c manifest.Category) WorkItem {
	return WorkItem{Source: source, Rel: rel, Target: target, Member: rel + CompiledSuffix, Action: Compile, Category: c}
}

// CopyItem returns a work item copying source verbatim into target as rel.
func CopyItem(source, rel string, target Target, c manifest.Category) WorkItem {
	return WorkItem{Source: source, Rel: rel, Target: target, Member: rel, Action: Copy, Category: c}
}

// Plan is an ordered, duplicate-free list of work items.
type Plan struct {
	Items []WorkItem
}

// NewPlan sorts items by target then member name and drops items whose
// destination is already claimed, keeping the first.
func NewPlan(items ...[]WorkItem) *Plan {
	var all []WorkItem
	for _, it := range items {
		all = append(all, it...)
	}
	slices.SortStableFunc(all, func(a, b WorkItem) int {
		return cmp.Or(cmp.Compare(a.Target, b.Target), strings.Compare(a.Member, b.Member))
	})

	p := &Plan{Items: make([]WorkItem, 0, len(all))}
	for i, it := range all {
		if i > 0 {
			prev := p.Items[len(p.Items)-1]
			if prev.Target == it.Target && prev.Member == it.Member {
				if prev.Source != it.Source {
					slog.Warn("destination claimed twice, keeping first",
						"member", it.Member, "target", it.Target, "kept", prev.Source, "dropped", it.Source)
				}
				continue
			}
		}
		p.Items = append(p.Items, it)
	}
	return p
}

// For returns the items routed to target, in plan order.
func (p *Plan) For(target Target) []WorkItem {
	var out []WorkItem
	for _, it := range p.Items {
		if it.Target == target {
			out = append(out, it)
		}
	}
	return out
}

// Members returns the member names routed to target.
func (p *Plan) Members(target Target) []string {
	var out []string
	for _, it := range p.For(target) {
		out = append(out, it.Member)
	}
	return out
}
