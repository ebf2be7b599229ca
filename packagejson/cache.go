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
package packagejson

import (
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bennypowers.dev/monobuild/fs"
)

type manifestEntry struct {
	pkg  *PackageJSON
	mod  time.Time
	size int64
}

// Manifests caches parsed package.json files for one filesystem. A cached
// manifest is re-read when its modification time or size changes, so
// lookups during a long watch session see edited exports.
type Manifests struct {
	fs    fs.FileSystem
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*manifestEntry
}

// NewManifests creates an empty cache reading through fsys.
func NewManifests(fsys fs.FileSystem) *Manifests {
	return &Manifests{fs: fsys, entries: make(map[string]*manifestEntry)}
}

// Load returns the manifest at path. Concurrent loads of one path share a
// single read.
func (m *Manifests) Load(path string) (*PackageJSON, error) {
	info, err := m.fs.Stat(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	e, ok := m.entries[path]
	m.mu.Unlock()
	if ok && e.size == info.Size() && e.mod.Equal(info.ModTime()) {
		return e.pkg, nil
	}

	v, err, _ := m.group.Do(path, func() (any, error) {
		pkg, err := ParseFile(m.fs, path)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.entries[path] = &manifestEntry{pkg: pkg, mod: info.ModTime(), size: info.Size()}
		m.mu.Unlock()
		return pkg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PackageJSON), nil
}

// Forget drops the cached manifests among paths. Paths that are not
// package.json files are ignored, so a whole change set can be passed.
func (m *Manifests) Forget(paths ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range paths {
		if filepath.Base(p) != "package.json" {
			continue
		}
		if _, ok := m.entries[p]; ok {
			delete(m.entries, p)
			n++
		}
	}
	return n
}

// Len is the number of cached manifests.
func (m *Manifests) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
