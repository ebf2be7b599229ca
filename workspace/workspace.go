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

// Package workspace discovers the packages of a monorepo and the
// dependency edges between them.
package workspace

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/fs"
	"bennypowers.dev/monobuild/packagejson"
)

// ErrUnknownPackage is returned when a target names no configured package.
var ErrUnknownPackage = errors.New("unknown package")

// Package is a workspace package taking part in builds.
type Package struct {
	// Name is the package directory name, used as its key everywhere.
	Name string
	// ManifestName is the package.json name, e.g. "@acme/core".
	ManifestName string
	Version      string
	Root         string
	Config       config.Package
	Manifest     *packagejson.PackageJSON
	// Deps are the in-workspace packages this one depends on at runtime.
	Deps []string
}

// Kind returns the declared package kind.
func (p *Package) Kind() config.Kind {
	return p.Config.Kind
}

// OutDir is the package build output directory.
func (p *Package) OutDir() string {
	return filepath.Join(p.Root, "dist")
}

// Workspace is the discovered monorepo.
type Workspace struct {
	Root     string
	Manifest *packagejson.PackageJSON
	Config   *config.Config
	Graph    *Graph

	packages map[string]*Package
	byName   map[string]*Package
	fs       fs.FileSystem
}

type pnpmWorkspace struct {
	Packages []string `yaml:"packages"`
}

// Discover finds workspace packages from the root package.json workspaces
// field, falling back to pnpm-workspace.yaml. Only packages declared in the
// configuration are built; others are still resolvable by manifest name.
func Discover(fsys fs.FileSystem, cfg *config.Config) (*Workspace, error) {
	root := cfg.Root
	rootPkg, err := packagejson.ParseFile(fsys, filepath.Join(root, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("reading root package.json: %w", err)
	}

	patterns := rootPkg.WorkspacePatterns()
	if len(patterns) == 0 {
		patterns, err = pnpmPatterns(fsys, root)
		if err != nil {
			return nil, err
		}
	}

	ws := &Workspace{
		Root:     root,
		Manifest: rootPkg,
		Config:   cfg,
		Graph:    NewGraph(),
		packages: make(map[string]*Package),
		byName:   make(map[string]*Package),
		fs:       fsys,
	}

	var all []*Package
	for _, pattern := range patterns {
		dirs, err := expandWorkspacePattern(fsys, root, pattern)
		if err != nil {
			slog.Warn("skipping workspace pattern", "pattern", pattern, "error", err)
			continue
		}
		for _, dir := range dirs {
			pkg, err := parseWorkspacePackage(fsys, dir)
			if err != nil {
				continue // directories without a usable package.json are not packages
			}
			all = append(all, pkg)
		}
	}

	for _, pkg := range all {
		ws.byName[pkg.ManifestName] = pkg
		pc, ok := cfg.Package(pkg.Name)
		if !ok {
			continue
		}
		pkg.Config = pc
		ws.packages[pkg.Name] = pkg
	}

	var missing []string
	for _, name := range cfg.PackageNames() {
		if _, ok := ws.packages[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: configured but not found in workspace: %s", ErrUnknownPackage, strings.Join(missing, ", "))
	}

	for _, pkg := range ws.packages {
		ws.Graph.AddPackage(pkg.Name)
		for _, dep := range pkg.Manifest.RuntimeDependencies() {
			target, ok := ws.byName[dep]
			if !ok {
				continue
			}
			if _, built := ws.packages[target.Name]; !built {
				continue
			}
			pkg.Deps = append(pkg.Deps, target.Name)
			ws.Graph.AddDependency(pkg.Name, target.Name)
		}
		slices.Sort(pkg.Deps)
	}

	return ws, nil
}

func pnpmPatterns(fsys fs.FileSystem, root string) ([]string, error) {
	data, err := fsys.ReadFile(filepath.Join(root, "pnpm-workspace.yaml"))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, fmt.Errorf("no workspaces defined in %s", root)
		}
		return nil, err
	}
	var doc pnpmWorkspace
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing pnpm-workspace.yaml: %w", err)
	}
	return doc.Packages, nil
}

// rootedFS exposes a subtree of a FileSystem as an io/fs.FS.
type rootedFS struct {
	fs   fs.FileSystem
	root string
}

func (r rootedFS) Open(name string) (iofs.File, error) {
	return r.fs.Open(filepath.Join(r.root, name))
}

// expandWorkspacePattern expands a workspace glob pattern to matching
// directories. Negated patterns are ignored.
func expandWorkspacePattern(fsys fs.FileSystem, rootDir, pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(strings.TrimSuffix(pattern, "/"), "./")
	if strings.HasPrefix(pattern, "!") {
		return nil, nil
	}

	if !strings.Contains(pattern, "*") {
		fullPath := filepath.Join(rootDir, pattern)
		if fsys.Exists(fullPath) {
			return []string{fullPath}, nil
		}
		return nil, nil
	}

	matches, err := doublestar.Glob(rootedFS{fsys, rootDir}, pattern)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, m := range matches {
		if strings.Contains(m, "node_modules") {
			continue
		}
		full := filepath.Join(rootDir, m)
		if info, err := fsys.Stat(full); err == nil && info.IsDir() {
			dirs = append(dirs, full)
		}
	}
	slices.Sort(dirs)
	return dirs, nil
}

func parseWorkspacePackage(fsys fs.FileSystem, dir string) (*Package, error) {
	pkgPath := filepath.Join(dir, "package.json")
	pkg, err := packagejson.ParseFile(fsys, pkgPath)
	if err != nil {
		return nil, err
	}

	if pkg.Name == "" {
		return nil, fmt.Errorf("package at %s has no name", dir)
	}

	return &Package{
		Name:         filepath.Base(dir),
		ManifestName: pkg.Name,
		Version:      pkg.Version,
		Root:         dir,
		Manifest:     pkg,
	}, nil
}

// Package returns a configured package by directory name.
func (ws *Workspace) Package(name string) (*Package, bool) {
	pkg, ok := ws.packages[name]
	return pkg, ok
}

// ByManifestName returns any workspace package by its package.json name,
// including packages that are not configured for builds.
func (ws *Workspace) ByManifestName(name string) (*Package, bool) {
	pkg, ok := ws.byName[name]
	return pkg, ok
}

// Packages returns configured packages sorted by name.
func (ws *Workspace) Packages() []*Package {
	out := make([]*Package, 0, len(ws.packages))
	for _, name := range ws.Graph.Packages() {
		out = append(out, ws.packages[name])
	}
	return out
}

// All returns every discovered workspace package, configured or not,
// sorted by directory name.
func (ws *Workspace) All() []*Package {
	out := slices.Collect(maps.Values(ws.byName))
	slices.SortFunc(out, func(a, b *Package) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Select returns the packages named by targets, or every configured package
// when targets is empty.
func (ws *Workspace) Select(targets []string) ([]*Package, error) {
	if len(targets) == 0 {
		return ws.Packages(), nil
	}
	var out []*Package
	var errs []error
	for _, t := range targets {
		pkg, ok := ws.packages[t]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownPackage, t))
			continue
		}
		out = append(out, pkg)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *Package) int { return strings.Compare(a.Name, b.Name) })
	return slices.CompactFunc(out, func(a, b *Package) bool { return a.Name == b.Name }), nil
}

// NodeModules is the workspace-level node_modules directory.
func (ws *Workspace) NodeModules() string {
	return filepath.Join(ws.Root, "node_modules")
}

// FS returns the filesystem the workspace was discovered on.
func (ws *Workspace) FS() fs.FileSystem {
	return ws.fs
}
