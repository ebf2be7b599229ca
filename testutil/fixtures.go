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

// Package testutil provides in-memory workspace fixtures for monobuild tests.
package testutil

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/internal/mapfs"
)

// Scope is the npm scope given to fixture packages.
const Scope = "@test/"

// PackageSpec describes one fixture workspace package.
type PackageSpec struct {
	Name   string
	Kind   config.Kind
	Deps   []string
	Files  map[string]string
	Config config.Package
}

// NewFS returns a MapFileSystem holding files, keyed by absolute path.
func NewFS(t *testing.T, files map[string]string) *mapfs.MapFileSystem {
	t.Helper()
	mfs := mapfs.New()
	for path, content := range files {
		mfs.AddFile(path, content, 0644)
	}
	return mfs
}

// NewWorkspace lays out a workspace under root with one directory per
// package in packages/ and returns the filesystem plus a matching config.
// Dependencies name other fixture packages by directory name.
func NewWorkspace(t *testing.T, root string, pkgs ...PackageSpec) (*mapfs.MapFileSystem, *config.Config) {
	t.Helper()
	mfs := mapfs.New()

	rootManifest := map[string]any{
		"name":       "fixture-root",
		"version":    "1.0.0",
		"private":    true,
		"workspaces": []string{"packages/*"},
	}
	mfs.AddFile(filepath.Join(root, "package.json"), mustJSON(t, rootManifest), 0644)

	cfg := &config.Config{
		Root:     root,
		Packages: make(map[string]config.Package),
		Debounce: config.Debounce{Initial: 20 * time.Millisecond, Steady: 10 * time.Millisecond},
		Workers:  config.Workers{Fraction: 0.5},
		Publish:  config.PublishSettings{Attempts: 3, Backoff: time.Millisecond},
	}

	for _, spec := range pkgs {
		dir := filepath.Join(root, "packages", spec.Name)
		deps := make(map[string]string, len(spec.Deps))
		for _, d := range spec.Deps {
			deps[Scope+d] = "^1.0.0"
		}
		manifest := map[string]any{
			"name":         Scope + spec.Name,
			"version":      "1.0.0",
			"dependencies": deps,
		}
		mfs.AddFile(filepath.Join(dir, "package.json"), mustJSON(t, manifest), 0644)
		for rel, content := range spec.Files {
			mfs.AddFile(filepath.Join(dir, rel), content, 0644)
		}

		pc := spec.Config
		if spec.Kind != "" {
			pc.Kind = spec.Kind
		}
		if pc.Kind == "" {
			pc.Kind = config.KindLibrary
		}
		cfg.Packages[spec.Name] = pc
	}

	return mfs, cfg
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal fixture: %v", err)
	}
	return string(data)
}
