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
package deps

import (
	"errors"
	"path/filepath"
	"strings"

	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/scan"
)

// ErrUnresolved is returned by a FrontEnd when a specifier names no file.
var ErrUnresolved = errors.New("cannot resolve module")

// FrontEnd is the compiler front-end the tracker drives. Implementations
// must be safe to call from one goroutine at a time.
type FrontEnd interface {
	// Parse reads and scans one module.
	Parse(path string) (*scan.Unit, error)
	// Resolve maps a specifier imported by from to a concrete file. An empty
	// path with a nil error means the target is external and not tracked.
	Resolve(specifier, from string) (string, error)
	// Emit produces the compiled outputs for one module.
	Emit(path string) ([]Output, []result.Result, error)
}

// Output is one emitted artifact. OutputPath is empty for outputs that are
// only held in memory, such as module text handed to a bundler.
type Output struct {
	OutputPath string `json:"outputPath,omitempty"`
	Text       string `json:"text"`
}

// Dep is a resolved dependency edge.
type Dep struct {
	Target   string
	Kind     scan.EdgeKind
	Bindings []scan.Binding
	Line     int
}

// Record is the tracker's state for one source file.
type Record struct {
	Path string

	// unit is the parsed handle; nil until the file is collected and
	// dropped again when the file is modified.
	unit *scan.Unit

	Deps      []Dep
	Resources []string
	Exports   []string

	// Unresolved holds the specifiers that named no file when parsed.
	Unresolved []string

	// Emitted is nil when the emitted-output cache is invalid.
	Emitted []Output
	emitted bool

	// Diagnostics from parsing and edge resolution.
	Diagnostics []result.Result
	// EmitDiagnostics from the last emit.
	EmitDiagnostics []result.Result
}

// Collected reports whether the record has been parsed.
func (r *Record) Collected() bool {
	return r.unit != nil
}

func (r *Record) clone() *Record {
	c := *r
	return &c
}

// invalidate drops cached emission, which every affected file needs.
func (r *Record) invalidate() *Record {
	c := r.clone()
	c.Emitted = nil
	c.emitted = false
	c.EmitDiagnostics = nil
	return c
}

// modified drops everything derived from the file contents.
func (r *Record) modified() *Record {
	c := r.invalidate()
	c.unit = nil
	c.Deps = nil
	c.Resources = nil
	c.Exports = nil
	c.Unresolved = nil
	c.Diagnostics = nil
	return c
}

// Related returns a path together with its declaration or script twin:
// "/a.d.ts" pairs with "/a.js" and the reverse.
func Related(path string) []string {
	switch {
	case strings.HasSuffix(path, ".d.ts"):
		return []string{path, strings.TrimSuffix(path, ".d.ts") + ".js"}
	case strings.HasSuffix(path, ".js"):
		return []string{path, strings.TrimSuffix(path, ".js") + ".d.ts"}
	}
	return []string{path}
}

// Normalize returns the cleaned absolute form used as record keys.
func Normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
