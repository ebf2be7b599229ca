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
	"errors"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"bennypowers.dev/monobuild/result"
)

// Factory creates a fresh worker connection.
type Factory func(ctx context.Context) (*Client, error)

// PoolSize is the number of workers for tasks outstanding tasks: fraction of
// the CPUs, at least one, never more than there are tasks.
func PoolSize(fraction float64, tasks int) int {
	n := int(math.Floor(float64(runtime.NumCPU()) * fraction))
	n = max(n, 1)
	if tasks > 0 {
		n = min(n, tasks)
	}
	return n
}

// Task runs against a worker dedicated to one package.
type Task func(ctx context.Context, pkg string, c *Client) (*BuildResult, error)

// Pool runs per-package tasks on at most Size workers at a time. Workers
// are initialized once, so every package gets its own.
type Pool struct {
	Size    int
	Factory Factory
}

// Run executes task for every package and returns the results keyed by
// package. A worker that crashes yields a synthetic error result for its
// package; other failures abort the run.
func (p *Pool) Run(ctx context.Context, pkgs []string, task Task) (map[string]*BuildResult, error) {
	out := make(map[string]*BuildResult, len(pkgs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.Size, 1))
	for _, pkg := range pkgs {
		g.Go(func() error {
			res, err := p.runOne(gctx, pkg, task)
			if err != nil {
				return err
			}
			mu.Lock()
			out[pkg] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func (p *Pool) runOne(ctx context.Context, pkg string, task Task) (*BuildResult, error) {
	c, err := p.Factory(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	res, err := task(ctx, pkg, c)
	if errors.Is(err, ErrWorkerCrashed) {
		return CrashResult(pkg, err), nil
	}
	return res, err
}

// CrashResult reports a lost worker as an error result for pkg.
func CrashResult(pkg string, err error) *BuildResult {
	return &BuildResult{
		Package: pkg,
		Results: []result.Result{result.FromError(result.SourceCompile, "", err)},
	}
}
