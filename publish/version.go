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
package publish

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"bennypowers.dev/monobuild/fs"
	"bennypowers.dev/monobuild/packagejson"
	"bennypowers.dev/monobuild/workspace"
)

// Bump returns the next release version. Prerelease versions increment
// their last numeric identifier, or gain a ".0" when they have none.
// Release versions increment the patch number. Build metadata is dropped.
func Bump(current string) (string, error) {
	v, err := goversion.NewSemver(current)
	if err != nil {
		return "", fmt.Errorf("parsing version %q: %w", current, err)
	}
	seg := v.Segments()
	for len(seg) < 3 {
		seg = append(seg, 0)
	}

	pre := v.Prerelease()
	if pre == "" {
		return fmt.Sprintf("%d.%d.%d", seg[0], seg[1], seg[2]+1), nil
	}

	ids := strings.Split(pre, ".")
	bumped := false
	for i := len(ids) - 1; i >= 0; i-- {
		if n, err := strconv.Atoi(ids[i]); err == nil {
			ids[i] = strconv.Itoa(n + 1)
			bumped = true
			break
		}
	}
	if !bumped {
		ids = append(ids, "0")
	}
	return fmt.Sprintf("%d.%d.%d-%s", seg[0], seg[1], seg[2], strings.Join(ids, ".")), nil
}

// DistTag is the npm dist-tag for version: the first prerelease identifier
// when it is not numeric, otherwise "".
func DistTag(version string) string {
	v, err := goversion.NewSemver(version)
	if err != nil || v.Prerelease() == "" {
		return ""
	}
	first, _, _ := strings.Cut(v.Prerelease(), ".")
	if _, err := strconv.Atoi(first); err == nil {
		return ""
	}
	return first
}

// WriteVersion sets version in the root manifest and in every workspace
// package manifest, along with the dependency ranges between workspace
// packages. It returns the files it rewrote.
func WriteVersion(fsys fs.FileSystem, ws *workspace.Workspace, version string) ([]string, error) {
	all := ws.All()
	names := make([]string, 0, len(all))
	for _, pkg := range all {
		names = append(names, pkg.ManifestName)
	}

	paths := []string{filepath.Join(ws.Root, "package.json")}
	for _, pkg := range all {
		paths = append(paths, filepath.Join(pkg.Root, "package.json"))
	}

	var written []string
	for _, path := range paths {
		data, err := fsys.ReadFile(path)
		if err != nil {
			return written, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := fsys.WriteFile(path, packagejson.SetVersion(data, version, names), 0644); err != nil {
			return written, fmt.Errorf("writing %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
