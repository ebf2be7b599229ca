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

// Package app assembles the collaborators one CLI invocation shares: the
// logger, the loaded workspace, the renderer and the optional metrics and
// event sinks.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/spf13/viper"

	"bennypowers.dev/monobuild/batch"
	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/fs"
	"bennypowers.dev/monobuild/internal/events"
	"bennypowers.dev/monobuild/internal/logging"
	"bennypowers.dev/monobuild/internal/metrics"
	"bennypowers.dev/monobuild/internal/output"
	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/worker"
	"bennypowers.dev/monobuild/workspace"
)

// Viper keys bound to the persistent root flags.
const (
	KeyRoot    = "root"
	KeyConfig  = "config"
	KeyDebug   = "debug"
	KeyLogFile = "log-file"
	KeyFormat  = "format"
)

// EnvDebug is set on spawned workers when the parent runs with --debug.
const EnvDebug = "MONOBUILD_DEBUG"

// ErrBuildFailed is returned by commands whose final report has errors.
// The message has already been rendered, so main only sets the exit code.
var ErrBuildFailed = errors.New("build produced errors")

// Session is one invocation's shared state.
type Session struct {
	Root       string
	ConfigFile string
	Debug      bool
	Config     *config.Config
	Workspace  *workspace.Workspace
	Logger     *slog.Logger
	Output     *output.Renderer
	Metrics    *metrics.Recorder
	Events     events.Publisher

	// NewWorker starts a worker of the given kind. The default re-executes
	// the running binary.
	NewWorker func(ctx context.Context, kind worker.Kind) (*worker.Client, error)

	seq     int
	closers []func() error
}

// Open reads the bound flags, configures logging and loads the workspace.
func Open(ctx context.Context, stdout io.Writer) (*Session, error) {
	s := &Session{
		Root:       viper.GetString(KeyRoot),
		ConfigFile: viper.GetString(KeyConfig),
		Debug:      viper.GetBool(KeyDebug),
	}
	if s.Root == "" {
		s.Root = "."
	}

	logger, closer := logging.Setup(logging.Options{Debug: s.Debug, File: viper.GetString(KeyLogFile)})
	slog.SetDefault(logger)
	s.Logger = logger
	s.closers = append(s.closers, closer.Close)

	format, err := output.ParseFormat(viper.GetString(KeyFormat))
	if err != nil {
		s.Close()
		return nil, err
	}

	cfg, err := config.Load(s.Root, s.ConfigFile)
	if err != nil {
		s.Close()
		return nil, err
	}
	ws, err := workspace.Discover(fs.NewOSFileSystem(), cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Root = cfg.Root
	s.Config = cfg
	s.Workspace = ws
	s.Output = output.New(stdout, format)
	s.Output.Root = cfg.Root

	exe, err := os.Executable()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("locating monobuild binary: %w", err)
	}
	s.NewWorker = func(ctx context.Context, kind worker.Kind) (*worker.Client, error) {
		var env []string
		if s.Debug {
			env = append(env, EnvDebug+"=1")
		}
		return worker.Spawn(ctx, exe, kind, env)
	}

	s.startSinks(ctx)
	return s, nil
}

// startSinks connects the optional metrics endpoint and NATS publisher.
// Neither is required for a build, so failures only warn.
func (s *Session) startSinks(ctx context.Context) {
	if addr := s.Config.Metrics.Addr; addr != "" {
		s.Metrics = metrics.New(nil)
		mctx, cancel := context.WithCancel(ctx)
		s.closers = append(s.closers, func() error { cancel(); return nil })
		go func() {
			if err := s.Metrics.Serve(mctx, addr); err != nil {
				s.Logger.Warn("metrics endpoint stopped", "addr", addr, "error", err)
			}
		}()
		s.Logger.Debug("serving metrics", "addr", addr)
	}
	if url := s.Config.Events.NATSURL; url != "" {
		pub, err := events.Connect(url, s.Config.Events.Subject)
		if err != nil {
			s.Logger.Warn("batch reports will not be published", "error", err)
			return
		}
		s.Events = pub
		s.closers = append(s.closers, func() error { pub.Close(); return nil })
	}
}

// Dial returns a factory for workers of kind.
func (s *Session) Dial(kind worker.Kind) func(ctx context.Context) (*worker.Client, error) {
	return func(ctx context.Context) (*worker.Client, error) {
		return s.NewWorker(ctx, kind)
	}
}

// InitOptions are the compile worker options for pkg.
func (s *Session) InitOptions(pkg string, lint bool) worker.InitOptions {
	return worker.InitOptions{
		Root:       s.Root,
		ConfigFile: s.ConfigFile,
		Package:    pkg,
		Lint:       lint && !s.Config.Lint.Disabled && s.Config.Lint.Command != "",
	}
}

// Select resolves CLI targets to package names. No targets selects every
// package.
func (s *Session) Select(targets []string) ([]string, error) {
	pkgs, err := s.Workspace.Select(targets)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		names = append(names, p.Name)
	}
	return names, nil
}

// RunPool runs method once per package on a pool of fresh compile workers
// and folds the responses into one report. The command tags the metrics.
func (s *Session) RunPool(ctx context.Context, command, method string, pkgs []string, lint bool) (*batch.Report, error) {
	started := time.Now()
	pool := &worker.Pool{
		Size:    worker.PoolSize(s.Config.Workers.Fraction, len(pkgs)),
		Factory: s.Dial(worker.KindCompile),
	}
	s.Logger.Debug("starting worker pool", "workers", pool.Size, "packages", len(pkgs), "method", method)

	out, err := pool.Run(ctx, pkgs, func(ctx context.Context, pkg string, c *worker.Client) (*worker.BuildResult, error) {
		begin := time.Now()
		if err := c.Call(ctx, worker.MethodInitialize, s.InitOptions(pkg, lint), nil); err != nil {
			return nil, err
		}
		res := &worker.BuildResult{Package: pkg}
		if err := c.Call(ctx, method, nil, res); err != nil {
			return nil, err
		}
		s.Metrics.ObservePackageBuild(pkg, command, time.Since(begin))
		s.Logger.Debug("package finished",
			logging.KeyPackage, pkg,
			"results", len(res.Results),
			logging.KeyDuration, time.Since(begin).Milliseconds())
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	var all []result.Result
	names := slices.Sorted(maps.Keys(out))
	for _, name := range names {
		rs := out[name].Results
		result.Sort(rs)
		all = append(all, rs...)
	}
	s.seq++
	return s.finish(ctx, batch.NewReport(s.seq, started, names, all)), nil
}

// finish records a report that did not pass through a coordinator.
func (s *Session) finish(ctx context.Context, rep *batch.Report) *batch.Report {
	counts := make(map[string]int, len(rep.Counts))
	for sev, n := range rep.Counts {
		counts[string(sev)] = n
	}
	s.Metrics.ObserveBatch(rep.Finished.Sub(rep.Started), counts)
	if s.Events != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.Events.Publish(pubCtx, rep); err != nil {
			s.Logger.Warn("publishing batch report", logging.KeyBatch, rep.ID, "error", err)
		}
	}
	return rep
}

// Close releases the sinks and flushes the log file.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
