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

// Package compiler is the TypeScript front-end used by the dependency
// tracker: tree-sitter for edges, esbuild for per-file emit, and tsc for
// type checking.
package compiler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"bennypowers.dev/monobuild/deps"
	"bennypowers.dev/monobuild/fs"
	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/scan"
)

// Options configures per-file emit.
type Options struct {
	// SrcDir is mirrored into OutDir. Files outside it are emitted to
	// memory only.
	SrcDir string
	OutDir string
	// Target is an esbuild language target such as "es2022".
	Target    string
	SourceMap bool
}

// Program compiles the files of one package.
type Program struct {
	*Resolver
	fs   fs.FileSystem
	opts Options
}

var _ deps.FrontEnd = (*Program)(nil)

// NewProgram creates a front-end that resolves through r.
func NewProgram(fsys fs.FileSystem, r *Resolver, opts Options) *Program {
	return &Program{Resolver: r, fs: fsys, opts: opts}
}

// Parse scans a module for edges, exports and syntax errors.
func (p *Program) Parse(path string) (*scan.Unit, error) {
	content, err := p.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return scan.Scan(path, content)
}

// Emit transforms one module to ESM. Compile errors are returned as
// results, not as an error.
func (p *Program) Emit(path string) ([]deps.Output, []result.Result, error) {
	if strings.HasSuffix(path, ".d.ts") {
		return nil, nil, nil
	}
	content, err := p.fs.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	opts := api.TransformOptions{
		Loader:     loaderFor(path),
		Format:     api.FormatESModule,
		Target:     target(p.opts.Target),
		Sourcefile: path,
	}
	if p.opts.SourceMap {
		opts.Sourcemap = api.SourceMapExternal
	}
	res := api.Transform(string(content), opts)

	diagnostics := messages(res.Errors, result.SeverityError, path)
	diagnostics = append(diagnostics, messages(res.Warnings, result.SeverityWarning, path)...)
	if len(res.Errors) > 0 {
		return nil, diagnostics, nil
	}

	outPath := p.OutputPath(path)
	code := string(res.Code)
	var outputs []deps.Output
	if outPath != "" && len(res.Map) > 0 {
		code += fmt.Sprintf("//# sourceMappingURL=%s.map\n", filepath.Base(outPath))
		outputs = append(outputs, deps.Output{OutputPath: outPath, Text: code})
		outputs = append(outputs, deps.Output{OutputPath: outPath + ".map", Text: string(res.Map)})
	} else {
		outputs = append(outputs, deps.Output{OutputPath: outPath, Text: code})
	}
	return outputs, diagnostics, nil
}

// OutputPath maps a source file to its emitted JavaScript path, or "" when
// the file lies outside SrcDir.
func (p *Program) OutputPath(path string) string {
	if p.opts.SrcDir == "" || p.opts.OutDir == "" {
		return ""
	}
	rel, err := filepath.Rel(p.opts.SrcDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	ext := filepath.Ext(rel)
	out := strings.TrimSuffix(rel, ext)
	switch ext {
	case ".mts":
		out += ".mjs"
	case ".cts":
		out += ".cjs"
	default:
		out += ".js"
	}
	return filepath.Join(p.opts.OutDir, out)
}

func loaderFor(path string) api.Loader {
	switch filepath.Ext(path) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	}
	return api.LoaderJS
}

func target(name string) api.Target {
	switch strings.ToLower(name) {
	case "es2017":
		return api.ES2017
	case "es2018":
		return api.ES2018
	case "es2019":
		return api.ES2019
	case "es2020":
		return api.ES2020
	case "es2021":
		return api.ES2021
	case "es2023":
		return api.ES2023
	case "esnext":
		return api.ESNext
	}
	return api.ES2022
}

func messages(msgs []api.Message, severity result.Severity, path string) []result.Result {
	out := make([]result.Result, 0, len(msgs))
	for _, m := range msgs {
		r := result.Result{
			Severity: severity,
			FilePath: path,
			Message:  m.Text,
			Source:   result.SourceCompile,
		}
		if m.Location != nil {
			r.Line = m.Location.Line
			r.Char = m.Location.Column + 1
		}
		out = append(out, r)
	}
	return out
}
