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

// Package runner drives the builds of one package: an initial build, then,
// in watch mode, a rebuild for every settled batch of file changes.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"time"

	"bennypowers.dev/monobuild/batch"
	"bennypowers.dev/monobuild/internal/logging"
	"bennypowers.dev/monobuild/worker"
	"bennypowers.dev/monobuild/workspace"
)

// Options configures a Runner.
type Options struct {
	Package *workspace.Package
	// Command tags completions, batch.CommandBuild or batch.CommandWatch.
	Command string
	// Dial starts a compile worker.
	Dial func(ctx context.Context) (*worker.Client, error)
	Init worker.InitOptions
	Sink batch.Sink
	// NewWatch creates the change source in watch mode. Nil disables
	// watching.
	NewWatch func() (Watch, error)
	Logger   *slog.Logger
}

// Runner owns one compile worker. Builds never overlap: changes seen while
// a build runs are held and folded into the next one.
type Runner struct {
	opts   Options
	logger *slog.Logger
	client *worker.Client
	done   chan error
}

// New creates a runner.
func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Command == "" {
		opts.Command = batch.CommandBuild
	}
	return &Runner{
		opts:   opts,
		logger: logger.With(logging.KeyPackage, opts.Package.Name),
		done:   make(chan error, 1),
	}
}

// Start announces the first build to the sink before returning, then runs
// in the background until ctx is done or, without watching, the first
// build completes.
func (r *Runner) Start(ctx context.Context) {
	r.opts.Sink.Change()
	go func() {
		r.done <- r.run(ctx)
	}()
}

// Wait returns once the runner has stopped.
func (r *Runner) Wait() error {
	err := <-r.done
	r.done <- err
	return err
}

type outcome struct {
	completion batch.Completion
	watchFiles []string
}

func (r *Runner) run(ctx context.Context) error {
	defer r.closeWorker()

	var watch Watch
	if r.opts.NewWatch != nil {
		var err error
		watch, err = r.opts.NewWatch()
		if err != nil {
			r.opts.Sink.Complete(r.failed(err))
			return err
		}
		defer watch.Close()
	}

	finished := make(chan outcome, 1)
	go func() { finished <- r.build(ctx, nil) }()
	building := true
	pending := make(map[string]bool)

	var changes <-chan []string
	if watch != nil {
		changes = watch.Changes()
	}

	for {
		select {
		case <-ctx.Done():
			if building {
				<-finished
			}
			return nil

		case paths, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			for _, p := range paths {
				pending[p] = true
			}
			if building {
				r.logger.Debug("change held for next build", "files", len(paths))
				continue
			}
			r.opts.Sink.Change()
			next := slices.Sorted(maps.Keys(pending))
			clear(pending)
			building = true
			go func() { finished <- r.build(ctx, next) }()

		case out := <-finished:
			building = false
			if ctx.Err() != nil {
				return nil
			}
			if watch != nil && len(out.watchFiles) > 0 {
				if err := watch.SetFiles(out.watchFiles); err != nil {
					r.logger.Warn("updating watch set", "error", err)
				}
			}
			if len(pending) > 0 {
				// hold the batch open across the hand-off
				r.opts.Sink.Change()
				r.opts.Sink.Complete(out.completion)
				next := slices.Sorted(maps.Keys(pending))
				clear(pending)
				building = true
				go func() { finished <- r.build(ctx, next) }()
				continue
			}
			r.opts.Sink.Complete(out.completion)
			if watch == nil {
				return nil
			}
		}
	}
}

// build invalidates changed files and runs one build on the worker. A lost
// worker becomes an error result; the next build starts a fresh one.
func (r *Runner) build(ctx context.Context, changed []string) outcome {
	start := time.Now()
	res, err := r.call(ctx, changed)
	if err != nil {
		if errors.Is(err, worker.ErrWorkerCrashed) {
			r.logger.Error("compile worker crashed", "error", err)
			r.closeWorker()
		} else {
			r.logger.Error("build failed", "error", err)
		}
		res = worker.CrashResult(r.opts.Package.Name, err)
	}
	comp := batch.Completion{
		Command:  r.opts.Command,
		Package:  r.opts.Package.Name,
		Kind:     r.opts.Package.Kind(),
		Results:  res.Results,
		Affected: res.Affected,
		Deleted:  res.Deleted,
		Outputs:  res.Outputs,
		Duration: time.Since(start),
	}
	r.logger.Debug("build finished",
		"affected", len(res.Affected),
		"results", len(res.Results),
		logging.KeyDuration, comp.Duration.Milliseconds())
	return outcome{completion: comp, watchFiles: res.WatchFiles}
}

func (r *Runner) call(ctx context.Context, changed []string) (*worker.BuildResult, error) {
	if r.client == nil {
		client, err := r.opts.Dial(ctx)
		if err != nil {
			return nil, err
		}
		if err := client.Call(ctx, worker.MethodInitialize, r.opts.Init, nil); err != nil {
			client.Close()
			return nil, err
		}
		r.client = client
	} else if len(changed) > 0 {
		if err := r.client.Call(ctx, worker.MethodInvalidate, worker.InvalidateParams{Paths: changed}, nil); err != nil {
			return nil, err
		}
	}
	var res worker.BuildResult
	if err := r.client.Call(ctx, worker.MethodBuild, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *Runner) failed(err error) batch.Completion {
	res := worker.CrashResult(r.opts.Package.Name, err)
	return batch.Completion{
		Command: r.opts.Command,
		Package: r.opts.Package.Name,
		Kind:    r.opts.Package.Kind(),
		Results: res.Results,
	}
}

func (r *Runner) closeWorker() {
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}
