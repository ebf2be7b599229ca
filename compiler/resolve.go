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
package compiler

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"bennypowers.dev/monobuild/deps"
	"bennypowers.dev/monobuild/fs"
	"bennypowers.dev/monobuild/packagejson"
	"bennypowers.dev/monobuild/workspace"
)

// Resolver maps import specifiers to files the way a TypeScript project
// with bundler resolution does: relative paths with extension probing,
// workspace packages through their exports, and node_modules packages,
// which are external.
type Resolver struct {
	fs        fs.FileSystem
	root      string
	workspace map[string]*workspace.Package
	manifests *packagejson.Manifests
}

// NewResolver creates a resolver for the packages of ws. A nil ws resolves
// only relative and node_modules specifiers.
func NewResolver(fsys fs.FileSystem, ws *workspace.Workspace) *Resolver {
	r := &Resolver{
		fs:        fsys,
		workspace: make(map[string]*workspace.Package),
		manifests: packagejson.NewManifests(fsys),
	}
	if ws != nil {
		r.root = ws.Root
		for _, pkg := range ws.Packages() {
			r.workspace[pkg.ManifestName] = pkg
		}
	}
	return r
}

// Replacements for script extensions a TypeScript import may name.
var sourceExtensions = map[string][]string{
	".js":  {".ts", ".tsx"},
	".jsx": {".tsx"},
	".mjs": {".mts"},
	".cjs": {".cts"},
}

var probeExtensions = []string{".ts", ".tsx", ".d.ts", ".js", ".mjs"}

// Resolve implements deps.FrontEnd resolution.
func (r *Resolver) Resolve(specifier, from string) (string, error) {
	switch {
	case specifier == "":
		return "", fmt.Errorf("%w: empty specifier", deps.ErrUnresolved)
	case isExternalScheme(specifier), isBuiltin(specifier):
		return "", nil
	case strings.HasPrefix(specifier, "./"), strings.HasPrefix(specifier, "../"), specifier == ".", specifier == "..":
		return r.probe(filepath.Join(filepath.Dir(from), specifier), specifier)
	case strings.HasPrefix(specifier, "/"):
		return r.probe(specifier, specifier)
	}
	return r.resolveBareSpecifier(specifier, from)
}

// resolveBareSpecifier resolves workspace packages through their exports
// and verifies node_modules packages exist without following them.
func (r *Resolver) resolveBareSpecifier(specifier, from string) (string, error) {
	pkgName := getPackageName(specifier)
	subpath := strings.TrimPrefix(specifier, pkgName)
	if subpath == "" {
		subpath = "."
	} else {
		subpath = "." + subpath
	}

	if pkg, ok := r.workspace[pkgName]; ok {
		resolved, err := resolvePackageSubpath(pkg.Manifest, pkg.Root, subpath)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", deps.ErrUnresolved, specifier, err)
		}
		return r.probe(resolved, specifier)
	}

	for dir := filepath.Dir(from); ; dir = filepath.Dir(dir) {
		manifest := filepath.Join(dir, "node_modules", pkgName, "package.json")
		if r.fs.Exists(manifest) {
			return "", nil
		}
		parent := filepath.Dir(dir)
		if parent == dir || (r.root != "" && !strings.HasPrefix(dir, r.root)) {
			break
		}
	}
	return "", fmt.Errorf("%w: %s", deps.ErrUnresolved, specifier)
}

// probe finds the file an extensionless or script-extension path refers to.
func (r *Resolver) probe(p, specifier string) (string, error) {
	ext := filepath.Ext(p)
	if replacements, ok := sourceExtensions[ext]; ok {
		base := strings.TrimSuffix(p, ext)
		for _, repl := range replacements {
			if r.isFile(base + repl) {
				return base + repl, nil
			}
		}
		if ext == ".js" && r.isFile(base+".d.ts") && !r.isFile(p) {
			return base + ".d.ts", nil
		}
	}
	if r.isFile(p) {
		return p, nil
	}
	for _, e := range probeExtensions {
		if r.isFile(p + e) {
			return p + e, nil
		}
	}
	for _, e := range probeExtensions {
		index := filepath.Join(p, "index"+e)
		if r.isFile(index) {
			return index, nil
		}
	}
	return "", fmt.Errorf("%w: %s", deps.ErrUnresolved, specifier)
}

func (r *Resolver) isFile(p string) bool {
	info, err := r.fs.Stat(p)
	return err == nil && !info.IsDir()
}

// manifest returns a cached package.json.
func (r *Resolver) manifest(p string) (*packagejson.PackageJSON, error) {
	return r.manifests.Load(p)
}

// Forget drops cached manifests among changed paths.
func (r *Resolver) Forget(paths ...string) {
	r.manifests.Forget(paths...)
}

// PackageOf returns the package.json governing a file, searching upward.
func (r *Resolver) PackageOf(file string) (*packagejson.PackageJSON, string, error) {
	for dir := filepath.Dir(file); ; dir = filepath.Dir(dir) {
		p := filepath.Join(dir, "package.json")
		if r.fs.Exists(p) {
			pkg, err := r.manifest(p)
			return pkg, dir, err
		}
		if parent := filepath.Dir(dir); parent == dir {
			return nil, "", os.ErrNotExist
		}
	}
}

// resolvePackageSubpath resolves a subpath within a package directory,
// using exports resolution first and falling back to a direct path only if
// no exports are defined.
func resolvePackageSubpath(pkg *packagejson.PackageJSON, pkgPath, subpath string) (string, error) {
	resolved, err := pkg.Export(subpath, packagejson.SourceConditions)
	if err == nil {
		return filepath.Join(pkgPath, resolved), nil
	}

	// If package has exports defined, enforce export restrictions
	if pkg.Exports != nil {
		return "", err
	}

	if subpath == "." {
		for _, entry := range []string{pkg.Types, pkg.Module, pkg.Main} {
			if entry != "" {
				return filepath.Join(pkgPath, strings.TrimPrefix(entry, "./")), nil
			}
		}
		return filepath.Join(pkgPath, "index.js"), nil
	}
	return filepath.Join(pkgPath, strings.TrimPrefix(subpath, "./")), nil
}

// getPackageName extracts the package name from a bare specifier.
func getPackageName(specifier string) string {
	// Handle scoped packages: @scope/package/path -> @scope/package
	if strings.HasPrefix(specifier, "@") {
		parts := strings.SplitN(specifier, "/", 3)
		if len(parts) >= 2 {
			return path.Join(parts[0], parts[1])
		}
		return specifier
	}
	parts := strings.SplitN(specifier, "/", 2)
	return parts[0]
}

func isExternalScheme(specifier string) bool {
	return strings.Contains(specifier, "://") ||
		strings.HasPrefix(specifier, "data:") ||
		strings.HasPrefix(specifier, "node:")
}

var builtins = []string{
	"assert", "buffer", "child_process", "cluster", "crypto", "dgram", "dns",
	"events", "fs", "http", "http2", "https", "module", "net", "os", "path",
	"perf_hooks", "process", "querystring", "readline", "stream", "string_decoder",
	"timers", "tls", "tty", "url", "util", "v8", "vm", "worker_threads", "zlib",
}

func isBuiltin(specifier string) bool {
	name, _, _ := strings.Cut(specifier, "/")
	return slices.Contains(builtins, name)
}
