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
package packagejson_test

import (
	"sync"
	"testing"

	"bennypowers.dev/monobuild/internal/mapfs"
	"bennypowers.dev/monobuild/packagejson"
)

func TestManifestsLoad(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/pkg/package.json", `{"name":"test-package","version":"1.0.0"}`, 0644)
	m := packagejson.NewManifests(mfs)

	pkg, err := m.Load("/pkg/package.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if pkg.Name != "test-package" || pkg.Version != "1.0.0" {
		t.Errorf("Unexpected manifest %+v", pkg)
	}
	again, err := m.Load("/pkg/package.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if again != pkg {
		t.Error("Expected the cached manifest on the second load")
	}

	if _, err := m.Load("/missing/package.json"); err == nil {
		t.Error("Expected an error for a missing manifest")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestManifestsRevalidate(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/pkg/package.json", `{"name":"a","version":"1.0.0"}`, 0644)
	m := packagejson.NewManifests(mfs)
	if _, err := m.Load("/pkg/package.json"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// a size change is enough to notice the edit
	mfs.AddFile("/pkg/package.json", `{"name":"a","version":"1.10.0"}`, 0644)
	pkg, err := m.Load("/pkg/package.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if pkg.Version != "1.10.0" {
		t.Errorf("Expected the edited manifest, got version %q", pkg.Version)
	}
}

func TestManifestsForget(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/pkg/package.json", `{"name":"a","version":"1.0.0"}`, 0644)
	m := packagejson.NewManifests(mfs)
	if _, err := m.Load("/pkg/package.json"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if n := m.Forget("/pkg/src/index.ts", "/other/package.json"); n != 0 {
		t.Errorf("Forget dropped %d entries, want 0", n)
	}
	if n := m.Forget("/pkg/src/index.ts", "/pkg/package.json"); n != 1 {
		t.Errorf("Forget dropped %d entries, want 1", n)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after Forget", m.Len())
	}
}

func TestManifestsConcurrentLoad(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/pkg/package.json", `{"name":"a","version":"1.0.0"}`, 0644)
	m := packagejson.NewManifests(mfs)

	var wg sync.WaitGroup
	results := make([]*packagejson.PackageJSON, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pkg, err := m.Load("/pkg/package.json")
			if err != nil {
				t.Errorf("Load failed: %v", err)
				return
			}
			results[i] = pkg
		}()
	}
	wg.Wait()
	for _, pkg := range results {
		if pkg == nil || pkg.Name != "a" {
			t.Fatalf("Unexpected concurrent result %+v", pkg)
		}
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}
