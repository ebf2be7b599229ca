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

// Package fs is the filesystem seam between build state and the disk.
package fs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem is what trackers, bundlers and the publish pipeline read and
// write through. Paths are absolute.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error
	Remove(name string) error
	RemoveAll(path string) error
	MkdirAll(path string, perm fs.FileMode) error

	ReadDir(name string) ([]fs.DirEntry, error)
	Stat(name string) (fs.FileInfo, error)
	Exists(path string) bool
	WalkDir(root string, fn fs.WalkDirFunc) error

	Open(name string) (fs.File, error)
}

// OSFileSystem is the real disk.
type OSFileSystem struct{}

var _ FileSystem = (*OSFileSystem)(nil)

func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

func (*OSFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (*OSFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (*OSFileSystem) Remove(name string) error                     { return os.Remove(name) }
func (*OSFileSystem) RemoveAll(path string) error                  { return os.RemoveAll(path) }
func (*OSFileSystem) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }
func (*OSFileSystem) ReadDir(name string) ([]fs.DirEntry, error)   { return os.ReadDir(name) }
func (*OSFileSystem) Stat(name string) (fs.FileInfo, error)        { return os.Stat(name) }
func (*OSFileSystem) Open(name string) (fs.File, error)            { return os.Open(name) }

func (*OSFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (*OSFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}

// WriteOutput writes a build output, creating its directory. A file that
// already holds data is left alone so watchers and page reloads only see
// outputs that really changed. It reports whether the file was written.
func WriteOutput(fsys FileSystem, path string, data []byte) (bool, error) {
	existing, err := fsys.ReadFile(path)
	switch {
	case err == nil && bytes.Equal(existing, data):
		return false, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := fsys.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}

// CopyDir copies every regular file under src into dst, keeping the
// relative layout, and returns the destination paths.
func CopyDir(fsys FileSystem, src, dst string) ([]string, error) {
	var copied []string
	err := fsys.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		data, err := fsys.ReadFile(path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if _, err := WriteOutput(fsys, target, data); err != nil {
			return err
		}
		copied = append(copied, target)
		return nil
	})
	return copied, err
}
