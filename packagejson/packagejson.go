/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/
// Package packagejson reads the package.json fields monobuild builds and
// publishes from, and resolves conditional exports.
package packagejson

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"bennypowers.dev/monobuild/fs"
)

// yarnWorkspaces is the object form of the workspaces field:
// {"packages": [...], "nohoist": [...]}.
type yarnWorkspaces struct {
	Packages []string `json:"packages"`
}

// PackageJSON represents the subset of package.json relevant for building
// and publishing workspace packages.
type PackageJSON struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Private              bool              `json:"private,omitempty"`
	Main                 string            `json:"main,omitempty"`
	Module               string            `json:"module,omitempty"`
	Types                string            `json:"types,omitempty"`
	Exports              any               `json:"exports,omitempty"`
	Dependencies         map[string]string `json:"dependencies,omitempty"`
	DevDependencies      map[string]string `json:"devDependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	RawWorkspaces        json.RawMessage   `json:"workspaces,omitempty"`
}

// RuntimeDependencies returns the sorted names of every dependency that
// must be present when the package runs: regular, peer and optional.
func (pkg *PackageJSON) RuntimeDependencies() []string {
	all := make(map[string]bool)
	for _, m := range []map[string]string{pkg.Dependencies, pkg.PeerDependencies, pkg.OptionalDependencies} {
		for name := range m {
			all[name] = true
		}
	}
	return slices.Sorted(maps.Keys(all))
}

// AllDependencies returns every declared dependency including dev dependencies.
func (pkg *PackageJSON) AllDependencies() []string {
	all := make(map[string]bool)
	for _, name := range pkg.RuntimeDependencies() {
		all[name] = true
	}
	for name := range pkg.DevDependencies {
		all[name] = true
	}
	return slices.Sorted(maps.Keys(all))
}

var versionField = regexp.MustCompile(`("version"\s*:\s*")[^"]*(")`)

// SetVersion rewrites the top-level version of raw package.json data and the
// version ranges of the given dependency names, keeping the original key
// order and formatting. Ranges using the workspace: protocol are left alone.
func SetVersion(data []byte, version string, deps []string) []byte {
	done := false
	out := versionField.ReplaceAllFunc(data, func(m []byte) []byte {
		if done {
			return m
		}
		done = true
		sub := versionField.FindSubmatch(m)
		return []byte(string(sub[1]) + version + string(sub[2]))
	})
	for _, dep := range deps {
		re := regexp.MustCompile(`("` + regexp.QuoteMeta(dep) + `"\s*:\s*")([^"]*)(")`)
		out = re.ReplaceAllFunc(out, func(m []byte) []byte {
			sub := re.FindSubmatch(m)
			if strings.HasPrefix(string(sub[2]), "workspace:") {
				return m
			}
			prefix := ""
			if r := string(sub[2]); strings.HasPrefix(r, "^") || strings.HasPrefix(r, "~") {
				prefix = r[:1]
			}
			return []byte(string(sub[1]) + prefix + version + string(sub[3]))
		})
	}
	return out
}

// WorkspacePatterns returns the workspace glob patterns from the workspaces field.
// Handles both array format ["packages/*"] and object format {"packages": ["libs/*"]}.
func (pkg *PackageJSON) WorkspacePatterns() []string {
	if len(pkg.RawWorkspaces) == 0 {
		return nil
	}

	// Try array format first (most common)
	var patterns []string
	if err := json.Unmarshal(pkg.RawWorkspaces, &patterns); err == nil {
		return patterns
	}

	// Try object format with "packages" key (yarn classic with nohoist)
	var obj yarnWorkspaces
	if err := json.Unmarshal(pkg.RawWorkspaces, &obj); err == nil {
		return obj.Packages
	}

	return nil
}

// HasWorkspaces returns true if the package has workspace patterns defined.
func (pkg *PackageJSON) HasWorkspaces() bool {
	return len(pkg.WorkspacePatterns()) > 0
}

func Parse(data []byte) (*PackageJSON, error) {
	var pkg PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// ParseFile reads and parses the manifest at path.
func ParseFile(fsys fs.FileSystem, path string) (*PackageJSON, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pkg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return pkg, nil
}
