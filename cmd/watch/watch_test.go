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
package watch

import (
	"testing"

	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/testutil"
	"bennypowers.dev/monobuild/workspace"
)

func TestWithServers(t *testing.T) {
	mfs, cfg := testutil.NewWorkspace(t, "/repo",
		testutil.PackageSpec{Name: "api", Kind: config.KindServer},
		testutil.PackageSpec{Name: "admin", Config: config.Package{Kind: config.KindClient, Server: "api"}},
		testutil.PackageSpec{Name: "core"},
	)
	ws, err := workspace.Discover(mfs, cfg)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	selected, err := ws.Select([]string{"admin", "core"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	got := withServers(ws, selected)
	var names []string
	for _, p := range got {
		names = append(names, p.Name)
	}
	if len(names) != 3 || names[0] != "admin" || names[1] != "api" || names[2] != "core" {
		t.Errorf("withServers = %v, want [admin api core]", names)
	}

	all := withServers(ws, ws.Packages())
	if len(all) != 3 {
		t.Errorf("Expected servers not to be duplicated, got %d packages", len(all))
	}
}
