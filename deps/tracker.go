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

// Package deps tracks source file dependencies for incremental builds.
//
// A Tracker owns one package's view of the module graph: which files import
// which, what they export, and what was emitted for each of them. Callers
// mark changed files with Invalidate, ask Prepare for the minimal set of
// files to rebuild, and then Build that set.
package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"bennypowers.dev/monobuild/fs"
	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/scan"
)

// FrontEndError reports a front-end failure that aborted a whole cycle.
type FrontEndError struct {
	Op   string
	Path string
	Err  error
}

func (e *FrontEndError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FrontEndError) Unwrap() error {
	return e.Err
}

// Options configures a Tracker.
type Options struct {
	FrontEnd FrontEnd
	FS       fs.FileSystem
	// Owns reports whether a file belongs to the tracked package. Only owned
	// files are emitted and reported on; others are followed and watched.
	Owns func(path string) bool
	// Roots lists the files every collection starts from.
	Roots  func() ([]string, error)
	Logger *slog.Logger
}

// Tracker is the dependency tracker for one package. It is not safe for
// concurrent use; the owning worker serializes calls.
type Tracker struct {
	opts    Options
	logger  *slog.Logger
	records map[string]*Record
	// reverse maps a target to the files whose dependency or resource edges
	// point at it.
	reverse map[string]map[string]bool
	dirty   map[string]bool
}

// New creates a tracker with no state.
func New(opts Options) *Tracker {
	if opts.Owns == nil {
		opts.Owns = func(string) bool { return true }
	}
	if opts.Roots == nil {
		opts.Roots = func() ([]string, error) { return nil, nil }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		opts:    opts,
		logger:  logger,
		records: make(map[string]*Record),
		reverse: make(map[string]map[string]bool),
		dirty:   make(map[string]bool),
	}
}

// Prepared is the outcome of Prepare.
type Prepared struct {
	// Affected files need a rebuild, sorted.
	Affected []string
	// Deleted files were dropped from tracking.
	Deleted []string
	// WatchFiles is every file visited while collecting, sorted.
	WatchFiles []string
	// Messages are parse and edge diagnostics for the affected files.
	Messages []result.Result
}

// Built is the outcome of Build.
type Built struct {
	// Emitted maps each freshly emitted file to its outputs.
	Emitted  map[string][]Output
	Messages []result.Result
}

// Invalidate marks files modified without recomputing anything.
func (t *Tracker) Invalidate(paths ...string) {
	for _, p := range paths {
		for _, rp := range Related(Normalize(p)) {
			t.dirty[rp] = true
		}
	}
}

// Pending returns the files marked modified since the last Prepare.
func (t *Tracker) Pending() []string {
	return slices.Sorted(maps.Keys(t.dirty))
}

// Prepare computes the affected-file set for the pending modifications and
// re-collects modified and newly reachable files. On failure the tracker is
// left exactly as it was, modifications still pending.
func (t *Tracker) Prepare(ctx context.Context) (prep *Prepared, err error) {
	defer func() {
		if r := recover(); r != nil {
			prep = nil
			err = &FrontEndError{Op: "prepare", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	view := maps.Clone(t.records)
	reresolved := t.reresolved()
	for _, p := range reresolved {
		view[p] = view[p].modified()
	}
	modified := append(slices.Sorted(maps.Keys(t.dirty)), reresolved...)
	affected := make(map[string]bool)
	for _, p := range t.closure(modified) {
		affected[p] = true
	}

	var deleted []string
	for p := range t.dirty {
		if !t.opts.FS.Exists(p) {
			if _, tracked := view[p]; tracked {
				deleted = append(deleted, p)
			}
			// importers re-resolve their edges to the missing file
			for importer := range t.reverse[p] {
				if r, ok := view[importer]; ok && importer != p {
					view[importer] = r.modified()
				}
			}
			delete(view, p)
			delete(affected, p)
			continue
		}
		if r, ok := view[p]; ok {
			view[p] = r.modified()
		}
	}
	for p := range affected {
		if r, ok := view[p]; ok && !t.dirty[p] && !slices.Contains(reresolved, p) {
			view[p] = r.invalidate()
		}
	}

	roots, err := t.opts.Roots()
	if err != nil {
		return nil, &FrontEndError{Op: "listing roots", Err: err}
	}
	queue := make([]string, 0, len(roots)+len(view))
	for _, r := range roots {
		queue = append(queue, Normalize(r))
	}
	for p, r := range view {
		if !r.Collected() {
			queue = append(queue, p)
		}
	}
	slices.Sort(queue)
	if err := t.collect(ctx, view, queue); err != nil {
		return nil, err
	}

	for p, r := range view {
		if t.opts.Owns(p) && emittable(p) && !r.emitted {
			affected[p] = true
		}
	}

	prep = &Prepared{
		Affected:   slices.Sorted(maps.Keys(affected)),
		WatchFiles: slices.Sorted(maps.Keys(view)),
	}
	slices.Sort(deleted)
	prep.Deleted = deleted

	for _, p := range prep.Affected {
		if !t.opts.Owns(p) {
			continue
		}
		if r, ok := view[p]; ok {
			prep.Messages = append(prep.Messages, r.Diagnostics...)
			prep.Messages = append(prep.Messages, bindingDiagnostics(view, r)...)
		}
	}

	t.records = view
	t.reverse = reverseIndex(view)
	t.dirty = make(map[string]bool)

	t.logger.Debug("prepared",
		"affected", len(prep.Affected),
		"deleted", len(prep.Deleted),
		"tracked", len(prep.WatchFiles))
	return prep, nil
}

// collect parses every uncollected file reachable from queue into view.
func (t *Tracker) collect(ctx context.Context, view map[string]*Record, queue []string) error {
	visited := make(map[string]bool)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if visited[p] {
			continue
		}
		visited[p] = true

		r, ok := view[p]
		if !ok {
			if !t.opts.FS.Exists(p) {
				continue
			}
			r = &Record{Path: p}
		}
		if r.Collected() {
			view[p] = r
			for _, d := range r.Deps {
				queue = append(queue, d.Target)
			}
			continue
		}

		next, err := t.parse(r)
		if err != nil {
			return err
		}
		view[p] = next
		for _, d := range next.Deps {
			queue = append(queue, d.Target)
		}
		for _, res := range next.Resources {
			if _, tracked := view[res]; !tracked && t.opts.FS.Exists(res) {
				view[res] = &Record{Path: res, unit: &scan.Unit{}}
			}
		}
	}
	return nil
}

// parse builds a collected copy of r.
func (t *Tracker) parse(r *Record) (*Record, error) {
	c := r.clone()
	if !isModule(r.Path) {
		c.unit = &scan.Unit{}
		return c, nil
	}

	unit, err := t.opts.FrontEnd.Parse(r.Path)
	if err != nil {
		return nil, &FrontEndError{Op: "parsing", Path: r.Path, Err: err}
	}
	c.unit = unit
	c.Exports = unit.Exports
	c.Deps = nil
	c.Resources = nil
	c.Diagnostics = nil

	for _, se := range unit.Errors {
		c.Diagnostics = append(c.Diagnostics, result.Result{
			Severity: result.SeverityError,
			FilePath: r.Path,
			Line:     se.Line,
			Char:     se.Char,
			Message:  se.Message,
			Source:   result.SourceCompile,
		})
	}

	for _, edge := range unit.Edges {
		target, err := t.opts.FrontEnd.Resolve(edge.Specifier, r.Path)
		if err != nil {
			if errors.Is(err, ErrUnresolved) {
				c.Unresolved = append(c.Unresolved, edge.Specifier)
				c.Diagnostics = append(c.Diagnostics, result.Result{
					Severity: result.SeverityMessage,
					FilePath: r.Path,
					Line:     edge.Line,
					Code:     string(result.SourceDeps),
					Message:  fmt.Sprintf("cannot resolve %q", edge.Specifier),
					Source:   result.SourceDeps,
				})
				continue
			}
			return nil, &FrontEndError{Op: "resolving " + edge.Specifier, Path: r.Path, Err: err}
		}
		if target == "" {
			continue
		}
		target = Normalize(target)
		if edge.Kind == scan.EdgeResource {
			c.Resources = append(c.Resources, target)
			continue
		}
		c.Deps = append(c.Deps, Dep{Target: target, Kind: edge.Kind, Bindings: edge.Bindings, Line: edge.Line})
	}
	return c, nil
}

// reresolved returns the tracked files with an unresolved import that now
// resolves, or fails differently. Only a pending change can create a target,
// so nothing is checked while no file is dirty.
func (t *Tracker) reresolved() []string {
	if len(t.dirty) == 0 {
		return nil
	}
	var out []string
	for p, r := range t.records {
		for _, spec := range r.Unresolved {
			if _, err := t.opts.FrontEnd.Resolve(spec, p); !errors.Is(err, ErrUnresolved) {
				out = append(out, p)
				break
			}
		}
	}
	slices.Sort(out)
	return out
}

// closure returns the modified files plus every file whose reverse edges
// reach one of them. The seen set keeps import cycles finite.
func (t *Tracker) closure(modified []string) []string {
	seen := make(map[string]bool)
	queue := slices.Clone(modified)
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if seen[p] {
			continue
		}
		seen[p] = true
		for _, rp := range Related(p) {
			if !seen[rp] {
				queue = append(queue, rp)
			}
		}
		for importer := range t.reverse[p] {
			if !seen[importer] {
				queue = append(queue, importer)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		if _, tracked := t.records[p]; tracked {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

func reverseIndex(view map[string]*Record) map[string]map[string]bool {
	rev := make(map[string]map[string]bool)
	add := func(target, importer string) {
		if rev[target] == nil {
			rev[target] = make(map[string]bool)
		}
		rev[target][importer] = true
	}
	for p, r := range view {
		for _, d := range r.Deps {
			add(d.Target, p)
		}
		for _, res := range r.Resources {
			add(res, p)
		}
	}
	return rev
}

// Build emits every affected file whose emitted-output cache is invalid.
// Either every emission is applied or none is.
func (t *Tracker) Build(ctx context.Context, affected []string) (built *Built, err error) {
	defer func() {
		if r := recover(); r != nil {
			built = nil
			err = &FrontEndError{Op: "build", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	updates := make(map[string]*Record)
	built = &Built{Emitted: make(map[string][]Output)}
	for _, p := range affected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, ok := t.records[p]
		if !ok || !t.opts.Owns(p) || !emittable(p) || r.emitted {
			continue
		}
		outputs, diagnostics, err := t.opts.FrontEnd.Emit(p)
		if err != nil {
			return nil, &FrontEndError{Op: "emitting", Path: p, Err: err}
		}
		c := r.clone()
		c.Emitted = outputs
		c.emitted = true
		c.EmitDiagnostics = diagnostics
		updates[p] = c
		built.Emitted[p] = outputs
		built.Messages = append(built.Messages, diagnostics...)
	}
	maps.Copy(t.records, updates)
	return built, nil
}

// Emitted returns the cached outputs of a file.
func (t *Tracker) Emitted(path string) ([]Output, bool) {
	r, ok := t.records[Normalize(path)]
	if !ok || !r.emitted {
		return nil, false
	}
	return r.Emitted, true
}

// Record returns the tracked record for a file.
func (t *Tracker) Record(path string) (*Record, bool) {
	r, ok := t.records[Normalize(path)]
	return r, ok
}

// Results returns every current diagnostic for owned files. Calling it
// again without modifications returns the same results.
func (t *Tracker) Results() []result.Result {
	var out []result.Result
	for _, p := range slices.Sorted(maps.Keys(t.records)) {
		if !t.opts.Owns(p) {
			continue
		}
		r := t.records[p]
		out = append(out, r.Diagnostics...)
		out = append(out, bindingDiagnostics(t.records, r)...)
		out = append(out, r.EmitDiagnostics...)
	}
	return out
}

// Files returns every tracked file, sorted.
func (t *Tracker) Files() []string {
	return slices.Sorted(maps.Keys(t.records))
}

// Dependents returns the files with an edge to path.
func (t *Tracker) Dependents(path string) []string {
	return slices.Sorted(maps.Keys(t.reverse[Normalize(path)]))
}

// Dispose drops all tracked state.
func (t *Tracker) Dispose() {
	t.records = make(map[string]*Record)
	t.reverse = make(map[string]map[string]bool)
	t.dirty = make(map[string]bool)
}

// TreeNode explains why a file is affected: each child depends on its parent.
type TreeNode struct {
	Path     string      `json:"path"`
	Children []*TreeNode `json:"children,omitempty"`
}

// AffectedTree returns, for each modified file, the tree of files its
// reverse edges reach. Each file appears at most once per tree.
func (t *Tracker) AffectedTree(modified []string) []*TreeNode {
	var roots []*TreeNode
	for _, m := range modified {
		visited := make(map[string]bool)
		var build func(p string) *TreeNode
		build = func(p string) *TreeNode {
			visited[p] = true
			node := &TreeNode{Path: p}
			for _, importer := range slices.Sorted(maps.Keys(t.reverse[p])) {
				if visited[importer] {
					continue
				}
				node.Children = append(node.Children, build(importer))
			}
			return node
		}
		roots = append(roots, build(Normalize(m)))
	}
	return roots
}

// exportSet returns the names a module exports, following re-exports.
func exportSet(view map[string]*Record, path string, visiting map[string]bool) map[string]bool {
	names := make(map[string]bool)
	if visiting[path] {
		return names
	}
	visiting[path] = true
	r, ok := view[path]
	if !ok {
		return names
	}
	for _, e := range r.Exports {
		names[e] = true
	}
	for _, d := range r.Deps {
		switch d.Kind {
		case scan.EdgeReexport:
			for _, b := range d.Bindings {
				names[b.Local] = true
			}
		case scan.EdgeReexportAll:
			for name := range exportSet(view, d.Target, visiting) {
				if name != "default" {
					names[name] = true
				}
			}
		}
	}
	return names
}

// bindingDiagnostics reports named imports that no declaration satisfies.
func bindingDiagnostics(view map[string]*Record, r *Record) []result.Result {
	var out []result.Result
	for _, d := range r.Deps {
		if d.Kind != scan.EdgeImport && d.Kind != scan.EdgeReexport {
			continue
		}
		if len(d.Bindings) == 0 || !checkable(d.Target) {
			continue
		}
		target, ok := view[d.Target]
		if !ok || !target.Collected() || len(target.unit.Errors) > 0 {
			continue
		}
		exports := exportSet(view, d.Target, make(map[string]bool))
		for _, b := range d.Bindings {
			if exports[b.Imported] {
				continue
			}
			out = append(out, result.Result{
				Severity: result.SeverityMessage,
				FilePath: r.Path,
				Line:     d.Line,
				Code:     string(result.SourceDeps),
				Message:  fmt.Sprintf("%q is not exported by %s", b.Imported, filepath.Base(d.Target)),
				Source:   result.SourceDeps,
			})
		}
	}
	return out
}

var moduleExts = []string{".ts", ".tsx", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"}

func isModule(path string) bool {
	return slices.Contains(moduleExts, filepath.Ext(path))
}

// emittable files are modules other than declaration files.
func emittable(path string) bool {
	return isModule(path) && !strings.HasSuffix(path, ".d.ts")
}

// checkable targets have statically known exports.
func checkable(path string) bool {
	switch filepath.Ext(path) {
	case ".ts", ".tsx", ".mts", ".cts":
		return true
	}
	return false
}
