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
	"errors"
	"slices"
	"strings"
)

// ErrNotExported is returned when a subpath is not exported by the package.
var ErrNotExported = errors.New("not exported by package.json")

// SourceConditions prefers TypeScript sources and declarations, which is
// what the compiler front-end needs when following workspace imports.
var SourceConditions = []string{"source", "types", "import", "default"}

// BrowserConditions is the order a browser bundle resolves with.
var BrowserConditions = []string{"browser", "import", "default"}

// Export resolves subpath ("." or "./x") through the exports field, trying
// conditions in order. The result has no leading "./". A manifest without
// exports exposes only main.
func (pkg *PackageJSON) Export(subpath string, conditions []string) (string, error) {
	if len(conditions) == 0 {
		conditions = BrowserConditions
	}
	switch exports := pkg.Exports.(type) {
	case nil:
		if subpath == "." && pkg.Main != "" {
			return strings.TrimPrefix(pkg.Main, "./"), nil
		}
	case string, []any:
		if subpath == "." {
			return target(exports, "", conditions)
		}
	case map[string]any:
		if !hasSubpathKeys(exports) {
			if subpath == "." {
				return target(exports, "", conditions)
			}
			break
		}
		if v, ok := exports[subpath]; ok {
			return target(v, "", conditions)
		}
		if key, star, ok := matchPattern(exports, subpath); ok {
			return target(exports[key], star, conditions)
		}
	}
	return "", ErrNotExported
}

func hasSubpathKeys(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, ".") {
			return true
		}
	}
	return false
}

// matchPattern finds the "*" key matching subpath with the longest prefix
// and returns it with the text the star stands for.
func matchPattern(exports map[string]any, subpath string) (key, star string, ok bool) {
	keys := make([]string, 0, len(exports))
	for k := range exports {
		if strings.Count(k, "*") == 1 {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b string) int { return len(b) - len(a) })
	for _, k := range keys {
		prefix, suffix, _ := strings.Cut(k, "*")
		if len(subpath) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(subpath, prefix) && strings.HasSuffix(subpath, suffix) {
			return k, subpath[len(prefix) : len(subpath)-len(suffix)], true
		}
	}
	return "", "", false
}

// target resolves one export value: a path, a condition map or a fallback
// array. A null value blocks the subpath.
func target(v any, star string, conditions []string) (string, error) {
	switch v := v.(type) {
	case string:
		if !strings.HasPrefix(v, "./") {
			return "", ErrNotExported
		}
		return strings.ReplaceAll(strings.TrimPrefix(v, "./"), "*", star), nil
	case map[string]any:
		for _, cond := range conditions {
			if inner, ok := v[cond]; ok {
				if p, err := target(inner, star, conditions); err == nil {
					return p, nil
				}
			}
		}
	case []any:
		for _, item := range v {
			if p, err := target(item, star, conditions); err == nil {
				return p, nil
			}
		}
	}
	return "", ErrNotExported
}
