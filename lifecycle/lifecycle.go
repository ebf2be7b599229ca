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

// Package lifecycle keeps dev servers in step with build batches: it
// restarts server packages that were rebuilt, registers client output
// directories with the server that serves them, and tells connected pages
// to reload.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"bennypowers.dev/monobuild/batch"
	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/fs"
	"bennypowers.dev/monobuild/internal/logging"
	"bennypowers.dev/monobuild/internal/metrics"
	"bennypowers.dev/monobuild/internal/version"
	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/workspace"
)

// NodeModulesPath is the proxy entry serving the workspace node_modules.
const NodeModulesPath = "node_modules"

// Handle is a running dev server.
type Handle interface {
	Port() int
	SetPathProxy(ctx context.Context, proxy map[string]string) error
	Reload(ctx context.Context, files []string) error
	// Stop returns once the server has exited and released its port.
	Stop(ctx context.Context) error
}

// Spec describes a server to launch.
type Spec struct {
	Key string
	Dir string
	// Entry is the backend script; empty serves clients only.
	Entry string
	Port  int
	Env   map[string]string
}

// Launcher starts dev servers.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}

// Runtime is the state of one dev server target: a server package, an
// external port, or a client served on its own.
type Runtime struct {
	Key string
	// Server is the server package, nil for port and ad-hoc runtimes.
	Server *workspace.Package
	Port   int

	Handle     Handle
	HasChanges bool
	// Proxy maps client names to output directories.
	Proxy map[string]string
	// Reload holds changed client files, relative to their client.
	Reload map[string]bool
}

// Manager owns the runtimes. Observe and Pass are called from the batch
// coordinator's goroutine.
type Manager struct {
	ws       *workspace.Workspace
	launcher Launcher
	metrics  *metrics.Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

var _ batch.Observer = (*Manager)(nil)

// New creates a manager.
func New(ws *workspace.Workspace, launcher Launcher, rec *metrics.Recorder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ws:       ws,
		launcher: launcher,
		metrics:  rec,
		logger:   logger,
		runtimes: make(map[string]*Runtime),
	}
}

func (m *Manager) runtime(key string, server *workspace.Package, port int) *Runtime {
	rt, ok := m.runtimes[key]
	if !ok {
		rt = &Runtime{
			Key:    key,
			Server: server,
			Port:   port,
			Proxy:  make(map[string]string),
			Reload: make(map[string]bool),
		}
		m.runtimes[key] = rt
	}
	return rt
}

// Observe records one package build.
func (m *Manager) Observe(c batch.Completion) {
	pkg, ok := m.ws.Package(c.Package)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch pkg.Kind() {
	case config.KindServer:
		rt := m.runtime(pkg.Name, pkg, pkg.Config.Port)
		if result.HasErrors(c.Results) {
			m.logger.Debug("server build has errors, not restarting", logging.KeyServer, pkg.Name)
			return
		}
		rt.HasChanges = true

	case config.KindClient:
		var rt *Runtime
		switch {
		case pkg.Config.Server != "":
			srv, ok := m.ws.Package(pkg.Config.Server)
			if !ok {
				return
			}
			rt = m.runtime(srv.Name, srv, srv.Config.Port)
		case pkg.Config.ServerPort != 0:
			rt = m.runtime(fmt.Sprintf("port:%d", pkg.Config.ServerPort), nil, pkg.Config.ServerPort)
		default:
			rt = m.runtime(pkg.Name, nil, pkg.Config.Port)
		}
		if rt.Server == nil && rt.Handle == nil {
			rt.HasChanges = true
		}
		rt.Proxy[pkg.Name] = pkg.OutDir()
		for _, out := range c.Outputs {
			if strings.HasSuffix(out, ".map") {
				continue
			}
			rel, err := filepath.Rel(pkg.OutDir(), out)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			rt.Reload[filepath.ToSlash(filepath.Join(pkg.Name, rel))] = true
		}

	case config.KindLibrary, config.KindScripts:
	}
}

// Pass restarts changed servers, pushes proxy maps and broadcasts reloads.
// Failures are returned as error results under the runtime's key.
func (m *Manager) Pass(ctx context.Context) []result.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failures []result.Result
	for _, key := range slices.Sorted(maps.Keys(m.runtimes)) {
		rt := m.runtimes[key]
		if err := m.pass(ctx, rt); err != nil {
			m.logger.Error("dev server pass failed", logging.KeyServer, key, "error", err)
			failures = append(failures, result.Result{
				Severity: result.SeverityError,
				FilePath: key,
				Message:  err.Error(),
				Source:   result.SourceBundle,
			})
		}
	}
	m.logURLs()
	return failures
}

func (m *Manager) pass(ctx context.Context, rt *Runtime) error {
	if rt.HasChanges {
		if err := m.restart(ctx, rt); err != nil {
			return err
		}
		rt.HasChanges = false
	}
	if rt.Handle == nil {
		return nil
	}

	proxy := maps.Clone(rt.Proxy)
	proxy[NodeModulesPath] = m.ws.NodeModules()
	if err := rt.Handle.SetPathProxy(ctx, proxy); err != nil {
		return fmt.Errorf("setting path proxy: %w", err)
	}
	if len(rt.Reload) == 0 {
		return nil
	}
	files := slices.Sorted(maps.Keys(rt.Reload))
	clear(rt.Reload)
	if err := rt.Handle.Reload(ctx, files); err != nil {
		return fmt.Errorf("reloading clients: %w", err)
	}
	return nil
}

// restart stops the running handle completely before launching a new one.
// A handle that fails to stop is kept and nothing is launched.
func (m *Manager) restart(ctx context.Context, rt *Runtime) error {
	if rt.Handle != nil {
		if err := rt.Handle.Stop(ctx); err != nil {
			return fmt.Errorf("stopping dev server: %w", err)
		}
		rt.Handle = nil
	}

	spec := Spec{Key: rt.Key, Port: rt.Port}
	if rt.Server != nil {
		env, err := serverEnv(m.ws.FS(), rt.Server)
		if err != nil {
			return err
		}
		spec.Dir = rt.Server.Root
		spec.Entry = serverEntry(rt.Server)
		spec.Env = env
	}

	start := time.Now()
	h, err := m.launcher.Launch(ctx, spec)
	if err != nil {
		return fmt.Errorf("starting dev server: %w", err)
	}
	rt.Handle = h
	m.metrics.IncRestart(rt.Key)
	m.logger.Info("dev server started",
		logging.KeyServer, rt.Key,
		"port", h.Port(),
		logging.KeyDuration, time.Since(start).Milliseconds())
	return nil
}

// serverEnv merges the package's .env file, its configured env, and the
// variables every dev server gets. Later sources win.
func serverEnv(fsys fs.FileSystem, pkg *workspace.Package) (map[string]string, error) {
	env := make(map[string]string)
	if data, err := fsys.ReadFile(filepath.Join(pkg.Root, ".env")); err == nil {
		vals, err := godotenv.UnmarshalBytes(data)
		if err != nil {
			return nil, fmt.Errorf("parsing .env of %s: %w", pkg.Name, err)
		}
		maps.Copy(env, vals)
	}
	configured, err := pkg.Config.Environment()
	if err != nil {
		return nil, fmt.Errorf("parsing env of %s: %w", pkg.Name, err)
	}
	maps.Copy(env, configured)
	env["NODE_ENV"] = "development"
	env["MONOBUILD_VERSION"] = version.GetVersion()
	return env, nil
}

// serverEntry is the bundled script of a server package.
func serverEntry(pkg *workspace.Package) string {
	entry := filepath.Join("src", "index.ts")
	if len(pkg.Config.Entry) > 0 {
		entry = pkg.Config.Entry[0]
	}
	base := strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry))
	return filepath.Join(pkg.OutDir(), base+".js")
}

func (m *Manager) logURLs() {
	for _, key := range slices.Sorted(maps.Keys(m.runtimes)) {
		rt := m.runtimes[key]
		if rt.Handle == nil {
			continue
		}
		for _, client := range slices.Sorted(maps.Keys(rt.Proxy)) {
			m.logger.Info("serving", "client", client, "url", fmt.Sprintf("http://localhost:%d/%s/", rt.Handle.Port(), client))
		}
	}
}

// Runtimes returns a snapshot of the runtime keys and ports.
func (m *Manager) Runtimes() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.runtimes))
	for k, rt := range m.runtimes {
		if rt.Handle != nil {
			out[k] = rt.Handle.Port()
		}
	}
	return out
}

// Close stops every running server.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, key := range slices.Sorted(maps.Keys(m.runtimes)) {
		rt := m.runtimes[key]
		if rt.Handle == nil {
			continue
		}
		if err := rt.Handle.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		rt.Handle = nil
	}
	return errors.Join(errs...)
}
