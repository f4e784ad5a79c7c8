// Package version reports build information embedded in the skusync binary.
package version

import (
	"runtime/debug"
	"sort"
)

// ModulePath is the main module of this repository.
const ModulePath = "skusync.evalgo.org"

// Dependency is a module dependency and its resolved version.
type Dependency struct {
	Path    string `json:"path" yaml:"path"`
	Version string `json:"version" yaml:"version"`
	Replace string `json:"replace,omitempty" yaml:"replace,omitempty"`
}

// BuildInfo is what `skusync version` prints.
type BuildInfo struct {
	GoVersion    string       `json:"go_version" yaml:"go_version"`
	Module       string       `json:"module" yaml:"module"`
	Version      string       `json:"version" yaml:"version"`
	Dependencies []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Get extracts build information from the running binary. Dependencies are
// sorted by path.
func Get() BuildInfo {
	info, ok := readBuildInfo()
	if !ok {
		return BuildInfo{GoVersion: "unknown", Module: ModulePath, Version: "unknown"}
	}

	bi := BuildInfo{
		GoVersion:    info.GoVersion,
		Module:       info.Path,
		Version:      mainVersion(info.Main.Version),
		Dependencies: make([]Dependency, 0, len(info.Deps)),
	}
	for _, dep := range info.Deps {
		bi.Dependencies = append(bi.Dependencies, toDependency(dep))
	}
	sort.Slice(bi.Dependencies, func(i, j int) bool {
		return bi.Dependencies[i].Path < bi.Dependencies[j].Path
	})
	return bi
}

// Version returns the skusync version, "dev" for local builds.
func Version() string {
	info, ok := readBuildInfo()
	if !ok {
		return "unknown"
	}
	return mainVersion(info.Main.Version)
}

// Lookup returns the dependency entry for modulePath, if linked in.
func Lookup(modulePath string) (Dependency, bool) {
	info, ok := readBuildInfo()
	if !ok {
		return Dependency{}, false
	}
	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			return toDependency(dep), true
		}
	}
	return Dependency{}, false
}

func mainVersion(v string) string {
	if v == "" || v == "(devel)" {
		return "dev"
	}
	return v
}

func toDependency(dep *debug.Module) Dependency {
	d := Dependency{Path: dep.Path, Version: dep.Version}
	if dep.Replace != nil {
		d.Replace = dep.Replace.Path + "@" + dep.Replace.Version
	}
	return d
}
