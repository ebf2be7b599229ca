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
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"bennypowers.dev/monobuild/bundle"
	"bennypowers.dev/monobuild/compiler"
	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/deps"
	"bennypowers.dev/monobuild/fs"
	"bennypowers.dev/monobuild/internal/proc"
	"bennypowers.dev/monobuild/lint"
	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/scan"
	"bennypowers.dev/monobuild/workspace"
)

// Compile worker methods.
const (
	MethodInitialize = "initialize"
	MethodInvalidate = "invalidate"
	MethodBuild      = "build"
	MethodLint       = "lint"
	MethodTypecheck  = "typecheck"
)

// InitOptions selects the package a compile worker builds.
type InitOptions struct {
	Root       string `json:"root"`
	ConfigFile string `json:"configFile,omitempty"`
	Package    string `json:"package"`
	// Lint runs the linter over each build's affected files.
	Lint bool `json:"lint"`
}

// InvalidateParams lists changed files.
type InvalidateParams struct {
	Paths []string `json:"paths"`
}

// LintParams lists files to lint.
type LintParams struct {
	Files []string `json:"files"`
}

// BuildResult is the response to build, lint and typecheck.
type BuildResult struct {
	Package string          `json:"package"`
	Results []result.Result `json:"results"`
	// Affected files were rebuilt by this call.
	Affected   []string `json:"affected,omitempty"`
	Deleted    []string `json:"deleted,omitempty"`
	WatchFiles []string `json:"watchFiles,omitempty"`
	// Outputs are the files written.
	Outputs []string `json:"outputs,omitempty"`
}

// Compiler is the compile worker handler. It owns one package's tracker,
// linter and bundler.
type Compiler struct {
	FS     fs.FileSystem
	Runner proc.Runner
	Logger *slog.Logger
	// LoadWorkspace discovers the workspace named by the init options.
	// The default loads the config file and discovers packages on FS.
	LoadWorkspace func(opts InitOptions) (*workspace.Workspace, error)

	initMu      sync.Mutex
	initialized bool

	// buildMu serializes build calls; lint may run alongside.
	buildMu sync.Mutex
	opts    InitOptions
	ws      *workspace.Workspace
	pkg     *workspace.Package
	program *compiler.Program
	tracker *deps.Tracker
	linter  lint.Linter
	checker *compiler.TypeChecker
	bundler *bundle.Bundler

	bundled       bool
	bundleResults []result.Result
	bundleWatch   []string

	lintMu      sync.Mutex
	lintResults map[string][]result.Result
}

var _ Handler = (*Compiler)(nil)

// Handle implements Handler.
func (c *Compiler) Handle(ctx context.Context, method string, params json.RawMessage, emit Emit) (any, error) {
	if method == MethodInitialize {
		var opts InitOptions
		if err := decode(params, &opts); err != nil {
			return nil, err
		}
		return nil, c.Initialize(opts)
	}

	c.initMu.Lock()
	ready := c.initialized
	c.initMu.Unlock()
	if !ready {
		return nil, ErrNotInitialized
	}

	switch method {
	case MethodInvalidate:
		var p InvalidateParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		c.buildMu.Lock()
		c.program.Forget(p.Paths...)
		c.tracker.Invalidate(p.Paths...)
		c.buildMu.Unlock()
		return nil, nil
	case MethodBuild:
		return c.Build(ctx)
	case MethodLint:
		var p LintParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return c.Lint(ctx, p.Files)
	case MethodTypecheck:
		return c.Typecheck(ctx)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
}

// Initialize sets the worker up for one package. It may be called once.
func (c *Compiler) Initialize(opts InitOptions) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initialized {
		return ErrAlreadyInitialized
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.FS == nil {
		c.FS = fs.NewOSFileSystem()
	}
	if c.Runner == nil {
		c.Runner = proc.Exec{}
	}
	load := c.LoadWorkspace
	if load == nil {
		load = c.loadWorkspace
	}

	ws, err := load(opts)
	if err != nil {
		return err
	}
	pkg, ok := ws.Package(opts.Package)
	if !ok {
		return fmt.Errorf("%w: %s", workspace.ErrUnknownPackage, opts.Package)
	}

	c.opts = opts
	c.ws = ws
	c.pkg = pkg
	c.Logger = c.Logger.With("package", pkg.Name)
	c.lintResults = make(map[string][]result.Result)

	progOpts := compiler.Options{Target: "es2022", SourceMap: true}
	if !pkg.Kind().Bundled() {
		progOpts.SrcDir = filepath.Join(pkg.Root, "src")
		progOpts.OutDir = pkg.OutDir()
	}
	c.program = compiler.NewProgram(c.FS, compiler.NewResolver(c.FS, ws), progOpts)
	c.tracker = deps.New(deps.Options{
		FrontEnd: c.program,
		FS:       c.FS,
		Owns:     c.owns,
		Roots:    c.roots,
		Logger:   c.Logger,
	})

	cfg := ws.Config
	if !cfg.Lint.Disabled && cfg.Lint.Command != "" {
		c.linter = &lint.ESLint{Runner: c.Runner, Command: cfg.Lint.Command, Args: cfg.Lint.Args}
	}
	if !cfg.Typecheck.Disabled && cfg.Typecheck.Command != "" {
		c.checker = &compiler.TypeChecker{Runner: c.Runner, Command: cfg.Typecheck.Command, Args: cfg.Typecheck.Args}
	}

	if pkg.Kind().Bundled() {
		entries, err := c.entries()
		if err != nil {
			return err
		}
		platform := bundle.PlatformBrowser
		if pkg.Kind() == config.KindServer {
			platform = bundle.PlatformNode
		}
		c.bundler, err = bundle.New(bundle.Options{
			Root:     pkg.Root,
			Entries:  entries,
			OutDir:   pkg.OutDir(),
			Platform: platform,
			Source:   c.tracker,
			Configs:  pkg.Config.Configs,
			FS:       c.FS,
			Logger:   c.Logger,
		})
		if err != nil {
			return err
		}
	}

	c.initialized = true
	c.Logger.Debug("compile worker initialized", "kind", pkg.Kind())
	return nil
}

func (c *Compiler) loadWorkspace(opts InitOptions) (*workspace.Workspace, error) {
	cfg, err := config.Load(opts.Root, opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	return workspace.Discover(c.FS, cfg)
}

// owns reports whether a file belongs to this package's sources.
func (c *Compiler) owns(path string) bool {
	if !strings.HasPrefix(path, c.pkg.Root+string(filepath.Separator)) {
		return false
	}
	rel, _ := filepath.Rel(c.pkg.Root, path)
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first != "node_modules" && first != "dist"
}

var sourceExts = []string{".ts", ".tsx", ".mts", ".cts"}

// roots lists the files a collection starts from: every source file for
// libraries and scripts, the entry points for bundled packages.
func (c *Compiler) roots() ([]string, error) {
	if c.pkg.Kind().Bundled() {
		return c.entries()
	}
	src := filepath.Join(c.pkg.Root, "src")
	if !c.FS.Exists(src) {
		return nil, nil
	}
	var roots []string
	err := c.FS.WalkDir(src, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" {
				return iofs.SkipDir
			}
			return nil
		}
		if slices.Contains(sourceExts, filepath.Ext(path)) {
			roots = append(roots, path)
		}
		return nil
	})
	return roots, err
}

// entries returns the bundle entry points: configured entries, the module
// scripts of a client's index.html, or src/index.ts.
func (c *Compiler) entries() ([]string, error) {
	var entries []string
	for _, e := range c.pkg.Config.Entry {
		entries = append(entries, filepath.Join(c.pkg.Root, e))
	}
	if len(entries) == 0 && c.pkg.Kind() == config.KindClient {
		html := filepath.Join(c.pkg.Root, "index.html")
		if content, err := c.FS.ReadFile(html); err == nil {
			srcs, err := scan.ModuleEntries(content)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", html, err)
			}
			for _, s := range srcs {
				entries = append(entries, filepath.Join(c.pkg.Root, s))
			}
		}
	}
	if len(entries) == 0 {
		entries = []string{filepath.Join(c.pkg.Root, "src", "index.ts")}
	}
	return entries, nil
}

// Build runs one incremental build cycle. With nothing invalidated it
// returns the cached results and no affected files.
func (c *Compiler) Build(ctx context.Context) (*BuildResult, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	out := &BuildResult{Package: c.pkg.Name}
	prep, err := c.tracker.Prepare(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		out.Results = []result.Result{result.FromError(result.SourceCompile, "", err)}
		return out, nil
	}
	out.Affected = prep.Affected
	out.Deleted = prep.Deleted

	g, gctx := errgroup.WithContext(ctx)
	if c.opts.Lint && c.linter != nil && len(prep.Affected) > 0 {
		affected := c.ownedFiles(prep.Affected)
		g.Go(func() error {
			_, err := c.lintFiles(gctx, affected, prep.Deleted)
			return err
		})
	} else if len(prep.Deleted) > 0 {
		c.dropLint(prep.Deleted)
	}

	var cycleErr error
	g.Go(func() error {
		var err error
		out.Outputs, err = c.emit(gctx, prep)
		if err != nil {
			var feErr *deps.FrontEndError
			if errors.As(err, &feErr) {
				cycleErr = err
				return nil
			}
		}
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		out.Results = append(out.Results, result.FromError(result.SourceCompile, "", err))
	}
	if cycleErr != nil {
		out.Results = []result.Result{result.FromError(result.SourceCompile, "", cycleErr)}
		return out, nil
	}

	watch := make(map[string]bool)
	for _, f := range prep.WatchFiles {
		watch[f] = true
	}
	for _, f := range c.bundleWatch {
		watch[f] = true
	}
	watch[filepath.Join(c.pkg.Root, "package.json")] = true
	out.WatchFiles = slices.Sorted(maps.Keys(watch))

	out.Results = append(out.Results, c.currentResults()...)
	return out, nil
}

// emit writes library outputs or rebuilds the bundle.
func (c *Compiler) emit(ctx context.Context, prep *deps.Prepared) ([]string, error) {
	if c.pkg.Kind() == config.KindScripts {
		return nil, nil
	}
	built, err := c.tracker.Build(ctx, prep.Affected)
	if err != nil {
		return nil, err
	}

	if c.bundler != nil {
		if c.bundled && len(prep.Affected) == 0 && len(prep.Deleted) == 0 {
			return nil, nil
		}
		res, err := c.bundler.Build(ctx)
		if err != nil {
			return nil, err
		}
		c.bundled = true
		c.bundleResults = res.Results
		c.bundleWatch = res.WatchFiles
		if c.pkg.Kind() == config.KindClient {
			if page, err := c.writeIndexHTML(); err != nil {
				c.bundleResults = append(c.bundleResults, result.FromError(result.SourceBundle, "", err))
			} else if page != "" {
				res.Outputs = append(res.Outputs, page)
			}
		}
		return res.Outputs, nil
	}

	var written []string
	for _, src := range slices.Sorted(maps.Keys(built.Emitted)) {
		for _, o := range built.Emitted[src] {
			if o.OutputPath == "" {
				continue
			}
			changed, err := fs.WriteOutput(c.FS, o.OutputPath, []byte(o.Text))
			if err != nil {
				return nil, err
			}
			if changed {
				written = append(written, o.OutputPath)
			}
		}
	}
	for _, d := range prep.Deleted {
		if p := c.program.OutputPath(d); p != "" {
			_ = c.FS.Remove(p)
			_ = c.FS.Remove(p + ".map")
		}
	}
	return written, nil
}

// writeIndexHTML copies a client's index.html into dist, pointing its
// module scripts at the bundled outputs.
func (c *Compiler) writeIndexHTML() (string, error) {
	src := filepath.Join(c.pkg.Root, "index.html")
	content, err := c.FS.ReadFile(src)
	if err != nil {
		return "", nil
	}
	entries, err := scan.ModuleEntries(content)
	if err != nil {
		return "", err
	}
	page := string(content)
	for _, e := range entries {
		bundled := "./" + strings.TrimSuffix(filepath.Base(e), filepath.Ext(e)) + ".js"
		page = strings.ReplaceAll(page, `"`+e+`"`, `"`+bundled+`"`)
	}
	dst := filepath.Join(c.pkg.OutDir(), "index.html")
	written, err := fs.WriteOutput(c.FS, dst, []byte(page))
	if err != nil || !written {
		return "", err
	}
	return dst, nil
}

// Lint lints files, replacing earlier lint results for them.
func (c *Compiler) Lint(ctx context.Context, files []string) (*BuildResult, error) {
	if c.linter == nil {
		return &BuildResult{Package: c.pkg.Name}, nil
	}
	results, err := c.lintFiles(ctx, files, nil)
	if err != nil {
		return nil, err
	}
	return &BuildResult{Package: c.pkg.Name, Results: results, Affected: files}, nil
}

func (c *Compiler) lintFiles(ctx context.Context, files, deleted []string) ([]result.Result, error) {
	results, err := c.linter.Lint(ctx, c.pkg.Root, files)
	if err != nil {
		var toolErr *lint.ToolError
		if !errors.As(err, &toolErr) {
			return nil, err
		}
		results = []result.Result{result.FromError(result.SourceLint, "", err)}
	}

	c.lintMu.Lock()
	defer c.lintMu.Unlock()
	for _, f := range files {
		delete(c.lintResults, f)
	}
	for _, f := range deleted {
		delete(c.lintResults, f)
	}
	delete(c.lintResults, "")
	for _, r := range results {
		c.lintResults[r.FilePath] = append(c.lintResults[r.FilePath], r)
	}
	return results, nil
}

func (c *Compiler) dropLint(files []string) {
	c.lintMu.Lock()
	defer c.lintMu.Unlock()
	for _, f := range files {
		delete(c.lintResults, f)
	}
}

func (c *Compiler) ownedFiles(files []string) []string {
	var out []string
	for _, f := range files {
		if c.owns(f) {
			out = append(out, f)
		}
	}
	return out
}

// currentResults merges tracker, bundle and lint results.
func (c *Compiler) currentResults() []result.Result {
	results := c.tracker.Results()
	results = append(results, c.bundleResults...)
	c.lintMu.Lock()
	for _, f := range slices.Sorted(maps.Keys(c.lintResults)) {
		results = append(results, c.lintResults[f]...)
	}
	c.lintMu.Unlock()
	result.Sort(results)
	return result.Dedupe(results)
}

// Typecheck runs the type checker over the package.
func (c *Compiler) Typecheck(ctx context.Context) (*BuildResult, error) {
	out := &BuildResult{Package: c.pkg.Name}
	if c.checker == nil {
		return out, nil
	}
	results, err := c.checker.Check(ctx, c.pkg.Root)
	if err != nil {
		var toolErr *compiler.ToolError
		if !errors.As(err, &toolErr) {
			return nil, err
		}
		results = []result.Result{result.FromError(result.SourceCompile, "", err)}
	}
	out.Results = results
	return out, nil
}

// Dispose releases the bundler and tracker.
func (c *Compiler) Dispose() {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	if c.bundler != nil {
		c.bundler.Dispose()
	}
	if c.tracker != nil {
		c.tracker.Dispose()
	}
}
