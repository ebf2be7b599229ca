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
package workspace_test

import (
	"errors"
	"slices"
	"testing"

	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/testutil"
	"bennypowers.dev/monobuild/workspace"
)

func TestDiscover(t *testing.T) {
	mfs, cfg := testutil.NewWorkspace(t, "/repo",
		testutil.PackageSpec{Name: "core"},
		testutil.PackageSpec{Name: "api", Kind: config.KindServer, Deps: []string{"core"}},
		testutil.PackageSpec{Name: "admin", Kind: config.KindClient, Deps: []string{"core", "api"}},
	)

	ws, err := workspace.Discover(mfs, cfg)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	var names []string
	for _, p := range ws.Packages() {
		names = append(names, p.Name)
	}
	if !slices.Equal(names, []string{"admin", "api", "core"}) {
		t.Fatalf("Packages() = %v", names)
	}

	admin, ok := ws.Package("admin")
	if !ok {
		t.Fatal("Expected admin package")
	}
	if admin.ManifestName != "@test/admin" {
		t.Errorf("Expected manifest name @test/admin, got %q", admin.ManifestName)
	}
	if !slices.Equal(admin.Deps, []string{"api", "core"}) {
		t.Errorf("admin.Deps = %v", admin.Deps)
	}
	if admin.Kind() != config.KindClient {
		t.Errorf("admin.Kind() = %v", admin.Kind())
	}

	if got := ws.Graph.TransitiveDependents("core"); !slices.Equal(got, []string{"admin", "api"}) {
		t.Errorf("TransitiveDependents(core) = %v", got)
	}
	if got := ws.Graph.TransitiveDependencies("admin"); !slices.Equal(got, []string{"api", "core"}) {
		t.Errorf("TransitiveDependencies(admin) = %v", got)
	}

	if _, ok := ws.ByManifestName("@test/core"); !ok {
		t.Error("Expected lookup by manifest name")
	}
}

func TestDiscoverIgnoresUnconfigured(t *testing.T) {
	mfs, cfg := testutil.NewWorkspace(t, "/repo",
		testutil.PackageSpec{Name: "core"},
		testutil.PackageSpec{Name: "tools", Deps: []string{"core"}},
	)
	delete(cfg.Packages, "tools")

	ws, err := workspace.Discover(mfs, cfg)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if _, ok := ws.Package("tools"); ok {
		t.Error("Expected unconfigured package to be excluded from builds")
	}
	if _, ok := ws.ByManifestName("@test/tools"); !ok {
		t.Error("Expected unconfigured package to remain resolvable")
	}
	if got := ws.Graph.Dependents("core"); len(got) != 0 {
		t.Errorf("Expected no dependents of core, got %v", got)
	}
}

func TestDiscoverMissingConfiguredPackage(t *testing.T) {
	mfs, cfg := testutil.NewWorkspace(t, "/repo", testutil.PackageSpec{Name: "core"})
	cfg.Packages["ghost"] = config.Package{Kind: config.KindLibrary}

	_, err := workspace.Discover(mfs, cfg)
	if !errors.Is(err, workspace.ErrUnknownPackage) {
		t.Fatalf("Expected ErrUnknownPackage, got %v", err)
	}
}

func TestDiscoverPNPM(t *testing.T) {
	mfs := testutil.NewFS(t, map[string]string{
		"/repo/package.json":               `{"name":"root","private":true}`,
		"/repo/pnpm-workspace.yaml":        "packages:\n  - 'libs/*'\n  - 'libs/nested/*'\n",
		"/repo/libs/a/package.json":        `{"name":"a","version":"1.0.0"}`,
		"/repo/libs/nested/b/package.json": `{"name":"b","version":"1.0.0","peerDependencies":{"a":"*"}}`,
	})
	cfg := &config.Config{Root: "/repo", Packages: map[string]config.Package{
		"a": {Kind: config.KindLibrary},
		"b": {Kind: config.KindLibrary},
	}}

	ws, err := workspace.Discover(mfs, cfg)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	b, ok := ws.Package("b")
	if !ok {
		t.Fatal("Expected package b")
	}
	if !slices.Equal(b.Deps, []string{"a"}) {
		t.Errorf("Expected peer dependency edge, got %v", b.Deps)
	}
}

func TestSelect(t *testing.T) {
	mfs, cfg := testutil.NewWorkspace(t, "/repo",
		testutil.PackageSpec{Name: "core"},
		testutil.PackageSpec{Name: "util"},
	)
	ws, err := workspace.Discover(mfs, cfg)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	pkgs, err := ws.Select([]string{"util", "core", "util"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(pkgs) != 2 || pkgs[0].Name != "core" || pkgs[1].Name != "util" {
		t.Errorf("Unexpected selection: %v", pkgs)
	}

	if _, err := ws.Select([]string{"nope"}); !errors.Is(err, workspace.ErrUnknownPackage) {
		t.Errorf("Expected ErrUnknownPackage, got %v", err)
	}
}
