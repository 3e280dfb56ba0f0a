// Package manifest holds the persisted record of one traced application and the
// configuration of the build that packages it.
package manifest

import "strings"

// Category is the provenance of a traced file.
type Category int

const (
	// StdLib is a module from the runtime's own standard library.
	StdLib Category = iota
	// ThirdPartyLib is a module from an installed third-party package.
	ThirdPartyLib
	// AppModule is a module that belongs to the application itself.
	AppModule
	// NativeBinary is a dynamic library or compiled extension.
	NativeBinary
)

var categoryNames = [...]string{
	StdLib:        "stdlib",
	ThirdPartyLib: "third_party",
	AppModule:     "app",
	NativeBinary:  "native",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

// TraceRecord is one module observed while running the application.
type TraceRecord struct {
	Module string `json:"module"`
	Path   string `json:"path"`
}

// CopyRule copies files matching Glob (relative to the application root) into
// Dest (relative to the build directory).
type CopyRule struct {
	Glob string `json:"glob"`
	Dest string `json:"dest"`
}

// ParseCopyRule parses "glob[:dest]". The destination defaults to ".".
func ParseCopyRule(s string) CopyRule {
	glob, dest, ok := strings.Cut(s, ":")
	if !ok || dest == "" {
		dest = "."
	}
	return CopyRule{Glob: glob, Dest: dest}
}

// Runtime describes the interpreter installation the trace was taken with.
type Runtime struct {
	// Version is the short version tag, e.g. "python312".
	Version string `json:"version"`
	// Prefix is the installation prefix holding the launchers and DLLs.
	Prefix string `json:"prefix"`
	// StdlibRoot is the directory of the standard library.
	StdlibRoot string `json:"stdlib_root"`
	// SitePackages is the runtime's own package install location.
	SitePackages string `json:"site_packages"`
	// ThirdPartyRoots are additional package locations (virtualenvs, user site).
	ThirdPartyRoots []string `json:"third_party_roots,omitempty"`
	// AppRoot is the directory the application was traced from.
	AppRoot string `json:"app_root"`
}
