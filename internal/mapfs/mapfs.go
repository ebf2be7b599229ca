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

// Package mapfs is an in-memory fs.FileSystem for tests. Every mutation
// advances a logical clock that becomes the file's modification time, and
// WriteFile calls are logged so tests can assert what a build wrote.
package mapfs

import (
	"errors"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"
	"testing/fstest"
	"time"

	mbfs "bennypowers.dev/monobuild/fs"
)

// epoch is the modification time of the first mutation.
var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const dirMarker = ".keep"

// MapFileSystem is safe for concurrent use.
type MapFileSystem struct {
	mu     sync.RWMutex
	files  fstest.MapFS
	clock  int
	writes []string
}

var _ mbfs.FileSystem = (*MapFileSystem)(nil)

func New() *MapFileSystem {
	return &MapFileSystem{files: make(fstest.MapFS)}
}

// key converts an absolute path to an fstest.MapFS name. The root is "".
func key(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// fsName is key for the io/fs helpers, which spell the root ".".
func fsName(p string) string {
	if k := key(p); k != "" {
		return k
	}
	return "."
}

func (m *MapFileSystem) tickLocked() time.Time {
	m.clock++
	return epoch.Add(time.Duration(m.clock) * time.Second)
}

func (m *MapFileSystem) putLocked(name string, data []byte, mode fs.FileMode) {
	m.files[name] = &fstest.MapFile{Data: data, Mode: mode, ModTime: m.tickLocked()}
}

// AddFile seeds a fixture file. Unlike WriteFile it is not logged.
func (m *MapFileSystem) AddFile(p, content string, mode fs.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key(p), []byte(content), mode)
}

// Touch bumps the modification time of an existing file.
func (m *MapFileSystem) Touch(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[key(p)]
	if !ok {
		return &fs.PathError{Op: "touch", Path: p, Err: fs.ErrNotExist}
	}
	f.ModTime = m.tickLocked()
	return nil
}

// Writes returns the paths passed to WriteFile since the last ResetWrites,
// in call order.
func (m *MapFileSystem) Writes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.writes)
}

func (m *MapFileSystem) ResetWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
}

func (m *MapFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(name)
	if parent, ok := m.files[path.Dir(k)]; ok && !parent.Mode.IsDir() {
		return &fs.PathError{Op: "open", Path: name, Err: errors.New("not a directory")}
	}
	m.putLocked(k, slices.Clone(data), perm)
	m.writes = append(m.writes, "/"+k)
	return nil
}

func (m *MapFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fs.ReadFile(m.files, key(name))
}

func (m *MapFileSystem) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(name)
	if _, ok := m.files[k]; !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	delete(m.files, k)
	m.tickLocked()
	return nil
}

func (m *MapFileSystem) RemoveAll(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(p)
	maps.DeleteFunc(m.files, func(name string, _ *fstest.MapFile) bool {
		return name == k || strings.HasPrefix(name, k+"/")
	})
	m.tickLocked()
	return nil
}

// MkdirAll records the directory with a marker file, which walks and
// directory listings hide.
func (m *MapFileSystem) MkdirAll(p string, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(p)
	if f, ok := m.files[k]; ok && !f.Mode.IsDir() {
		return &fs.PathError{Op: "mkdir", Path: p, Err: errors.New("not a directory")}
	}
	if k == "" {
		return nil
	}
	marker := path.Join(k, dirMarker)
	if _, ok := m.files[marker]; !ok {
		m.putLocked(marker, nil, perm.Perm())
	}
	return nil
}

func (m *MapFileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, err := fs.ReadDir(m.files, fsName(name))
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(entries, func(e fs.DirEntry) bool { return e.Name() == dirMarker }), nil
}

func (m *MapFileSystem) Stat(name string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fs.Stat(m.files, fsName(name))
}

// Exists reports whether p is a file or has anything beneath it.
func (m *MapFileSystem) Exists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k := key(p)
	if _, ok := m.files[k]; ok {
		return true
	}
	for name := range m.files {
		if strings.HasPrefix(name, k+"/") {
			return true
		}
	}
	return false
}

// WalkDir walks a snapshot, so fn may write to the filesystem. Paths
// passed to fn are absolute.
func (m *MapFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	m.mu.RLock()
	snapshot := maps.Clone(m.files)
	m.mu.RUnlock()

	return fs.WalkDir(snapshot, fsName(root), func(p string, d fs.DirEntry, err error) error {
		if d != nil && !d.IsDir() && path.Base(p) == dirMarker {
			return nil
		}
		if p == "." {
			return fn("/", d, err)
		}
		return fn("/"+p, d, err)
	})
}

func (m *MapFileSystem) Open(name string) (fs.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files.Open(fsName(name))
}
