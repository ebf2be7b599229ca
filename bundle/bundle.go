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

// Package bundle bundles server and client packages with esbuild.
//
// Sources already compiled by the dependency tracker are served to esbuild
// from the tracker's emitted-output cache, so a rebuild only re-links.
package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"bennypowers.dev/monobuild/deps"
	"bennypowers.dev/monobuild/fs"
	"bennypowers.dev/monobuild/result"
)

// ConfigFile is written next to the bundle with the package's configs.
const ConfigFile = ".config.json"

// Platform selects the bundle runtime.
type Platform string

const (
	PlatformBrowser Platform = "browser"
	PlatformNode    Platform = "node"
)

// Source supplies pre-compiled module text.
type Source interface {
	Emitted(path string) ([]deps.Output, bool)
}

// Options configures a Bundler.
type Options struct {
	Root     string
	Entries  []string
	OutDir   string
	Platform Platform
	// Source may be nil, in which case esbuild compiles every file itself.
	Source  Source
	Configs map[string]any
	FS      fs.FileSystem
	Logger  *slog.Logger
}

// Result is the outcome of one bundle build.
type Result struct {
	Results []result.Result
	// Outputs are the files written, sorted.
	Outputs []string
	// WatchFiles are every input esbuild read, sorted.
	WatchFiles []string
}

// Bundler holds one incremental esbuild context.
type Bundler struct {
	opts   Options
	logger *slog.Logger
	ctx    api.BuildContext

	mu       sync.Mutex
	loaded   map[string]bool
	cacheHit int
}

// sourceFilter matches the files the compile plugin intercepts.
const sourceFilter = `\.(ts|tsx|mts|cts)$`

// New creates the esbuild context.
func New(opts Options) (*Bundler, error) {
	if len(opts.Entries) == 0 {
		return nil, errors.New("bundle needs at least one entry point")
	}
	b := &Bundler{opts: opts, logger: opts.Logger, loaded: make(map[string]bool)}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	build := api.BuildOptions{
		AbsWorkingDir: opts.Root,
		EntryPoints:   opts.Entries,
		Outdir:        opts.OutDir,
		Bundle:        true,
		Format:        api.FormatESModule,
		Sourcemap:     api.SourceMapLinked,
		Metafile:      true,
		Write:         false,
		LogLevel:      api.LogLevelSilent,
		Plugins:       []api.Plugin{b.plugin()},
	}
	switch opts.Platform {
	case PlatformNode:
		build.Platform = api.PlatformNode
		build.Packages = api.PackagesExternal
		build.Target = api.ES2022
	case PlatformBrowser:
		build.Platform = api.PlatformBrowser
		build.Splitting = true
		build.Target = api.ES2022
	default:
		return nil, fmt.Errorf("unknown platform %q", opts.Platform)
	}

	ctx, ctxErr := api.Context(build)
	if ctxErr != nil {
		msgs := make([]string, 0, len(ctxErr.Errors))
		for _, m := range ctxErr.Errors {
			msgs = append(msgs, m.Text)
		}
		return nil, fmt.Errorf("creating bundle context: %s", strings.Join(msgs, "; "))
	}
	b.ctx = ctx
	return b, nil
}

func (b *Bundler) plugin() api.Plugin {
	return api.Plugin{
		Name: "monobuild-compiled",
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				b.mu.Lock()
				b.loaded = make(map[string]bool)
				b.cacheHit = 0
				b.mu.Unlock()
				return api.OnStartResult{}, nil
			})
			build.OnLoad(api.OnLoadOptions{Filter: sourceFilter}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				b.mu.Lock()
				b.loaded[args.Path] = true
				b.mu.Unlock()
				if b.opts.Source == nil {
					return api.OnLoadResult{}, nil
				}
				text, ok := compiledText(b.opts.Source, args.Path)
				if !ok {
					// esbuild compiles the file itself
					return api.OnLoadResult{}, nil
				}
				b.mu.Lock()
				b.cacheHit++
				b.mu.Unlock()
				return api.OnLoadResult{
					Contents:   &text,
					Loader:     api.LoaderJS,
					ResolveDir: filepath.Dir(args.Path),
					WatchFiles: []string{args.Path},
				}, nil
			})
			build.OnEnd(func(res *api.BuildResult) (api.OnEndResult, error) {
				b.mu.Lock()
				hits, loaded := b.cacheHit, len(b.loaded)
				b.mu.Unlock()
				b.logger.Debug("bundle finished",
					"errors", len(res.Errors),
					"loaded", loaded,
					"precompiled", hits)
				return api.OnEndResult{}, nil
			})
		},
	}
}

// compiledText returns the emitted JavaScript for path.
func compiledText(src Source, path string) (string, bool) {
	outputs, ok := src.Emitted(path)
	if !ok {
		return "", false
	}
	for _, o := range outputs {
		if !strings.HasSuffix(o.OutputPath, ".map") {
			return o.Text, true
		}
	}
	return "", false
}

// Build rebuilds the bundle and writes its outputs.
func (b *Bundler) Build(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := b.ctx.Rebuild()

	out := &Result{}
	out.Results = append(out.Results, messages(res.Errors, result.SeverityError, b.opts.Root)...)
	out.Results = append(out.Results, messages(res.Warnings, result.SeverityWarning, b.opts.Root)...)

	watch := make(map[string]bool)
	b.mu.Lock()
	maps.Copy(watch, b.loaded)
	b.mu.Unlock()
	inputs, err := metafileInputs(res.Metafile, b.opts.Root)
	if err != nil {
		b.logger.Warn("reading bundle metafile", "error", err)
	}
	for _, in := range inputs {
		watch[in] = true
	}
	out.WatchFiles = slices.Sorted(maps.Keys(watch))

	if len(res.Errors) > 0 {
		return out, nil
	}

	for _, f := range res.OutputFiles {
		written, err := fs.WriteOutput(b.opts.FS, f.Path, f.Contents)
		if err != nil {
			return nil, err
		}
		if written {
			out.Outputs = append(out.Outputs, f.Path)
		}
	}
	if b.opts.Configs != nil {
		data, err := json.MarshalIndent(b.opts.Configs, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", ConfigFile, err)
		}
		p := filepath.Join(b.opts.OutDir, ConfigFile)
		written, err := fs.WriteOutput(b.opts.FS, p, data)
		if err != nil {
			return nil, err
		}
		if written {
			out.Outputs = append(out.Outputs, p)
		}
	}
	slices.Sort(out.Outputs)
	return out, nil
}

// Dispose releases the esbuild context.
func (b *Bundler) Dispose() {
	if b.ctx != nil {
		b.ctx.Dispose()
	}
}

type metafile struct {
	Inputs map[string]json.RawMessage `json:"inputs"`
}

// metafileInputs returns the absolute paths of a metafile's file inputs.
func metafileInputs(data, root string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var m metafile
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, err
	}
	var out []string
	for in := range m.Inputs {
		// namespaced inputs such as "dataurl:..." are not files
		if strings.Contains(in, ":") && !filepath.IsAbs(in) {
			continue
		}
		if !filepath.IsAbs(in) {
			in = filepath.Join(root, in)
		}
		out = append(out, in)
	}
	slices.Sort(out)
	return out, nil
}

func messages(msgs []api.Message, severity result.Severity, root string) []result.Result {
	out := make([]result.Result, 0, len(msgs))
	for _, m := range msgs {
		r := result.Result{
			Severity: severity,
			Message:  m.Text,
			Source:   result.SourceBundle,
		}
		if m.Location != nil {
			r.FilePath = m.Location.File
			if r.FilePath != "" && !filepath.IsAbs(r.FilePath) {
				r.FilePath = filepath.Join(root, r.FilePath)
			}
			r.Line = m.Location.Line
			r.Char = m.Location.Column + 1
		}
		out = append(out, r)
	}
	return out
}
