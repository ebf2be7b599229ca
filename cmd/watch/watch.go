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

// Package watch provides the watch command.
package watch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bennypowers.dev/monobuild/batch"
	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/internal/app"
	"bennypowers.dev/monobuild/lifecycle"
	"bennypowers.dev/monobuild/runner"
	"bennypowers.dev/monobuild/worker"
	"bennypowers.dev/monobuild/workspace"
)

// shutdownTimeout bounds stopping dev servers on exit.
const shutdownTimeout = 10 * time.Second

// Cmd is the watch command.
var Cmd = &cobra.Command{
	Use:   "watch [targets..]",
	Short: "Rebuild packages as they change and run their dev servers",
	Long: `Watch builds the named packages, or every package, then rebuilds each
one as its files change. A report is printed whenever all builds settle.
Server packages and the clients they serve are restarted and reloaded
after each batch.`,
	RunE: run,
}

func init() {
	Cmd.Flags().Bool("no-lint", false, "Skip linting")
}

func run(cmd *cobra.Command, args []string) error {
	noLint, err := cmd.Flags().GetBool("no-lint")
	if err != nil {
		return fmt.Errorf("error reading no-lint flag: %w", err)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := app.Open(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.Close()

	selected, err := s.Workspace.Select(args)
	if err != nil {
		return err
	}
	pkgs := withServers(s.Workspace, selected)

	mgr := lifecycle.New(s.Workspace, &lifecycle.WorkerLauncher{
		Dial:   s.Dial(worker.KindServer),
		Logger: s.Logger,
	}, s.Metrics, s.Logger)
	coord := batch.New(batch.Options{
		Debounce:  s.Config.Debounce,
		Observer:  mgr,
		Publisher: s.Events,
		Metrics:   s.Metrics,
		Logger:    s.Logger,
	})
	go func() { _ = coord.Run(ctx) }()

	ign := runner.LoadIgnore(s.Root)
	runners := make([]*runner.Runner, 0, len(pkgs))
	for _, pkg := range pkgs {
		r := runner.New(runner.Options{
			Package: pkg,
			Command: batch.CommandWatch,
			Dial:    s.Dial(worker.KindCompile),
			Init:    s.InitOptions(pkg.Name, !noLint),
			Sink:    coord.RegisterRunner(pkg.Name),
			NewWatch: func() (runner.Watch, error) {
				w, err := runner.NewWatcher(s.Root, ign, s.Logger)
				if err != nil {
					return nil, err
				}
				if err := w.AddTree(pkg.Root); err != nil {
					w.Close()
					return nil, err
				}
				return w, nil
			},
			Logger: s.Logger,
		})
		r.Start(ctx)
		runners = append(runners, r)
	}
	s.Logger.Info("watching", "packages", len(pkgs))

	var last *batch.Report
	for rep := range coord.Reports() {
		last = rep
		if err := s.Output.Batch(rep); err != nil {
			s.Logger.Warn("rendering report", "error", err)
		}
	}

	for _, r := range runners {
		_ = r.Wait()
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.Close(closeCtx); err != nil {
		s.Logger.Warn("stopping dev servers", "error", err)
	}
	if last != nil && last.HasErrors() {
		return app.ErrBuildFailed
	}
	return nil
}

// withServers adds the server packages that selected clients are served by.
func withServers(ws *workspace.Workspace, selected []*workspace.Package) []*workspace.Package {
	seen := make(map[string]bool, len(selected))
	out := make([]*workspace.Package, 0, len(selected))
	add := func(p *workspace.Package) {
		if !seen[p.Name] {
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	for _, p := range selected {
		add(p)
		if p.Kind() != config.KindClient || p.Config.Server == "" {
			continue
		}
		if srv, ok := ws.Package(p.Config.Server); ok {
			add(srv)
		}
	}
	return out
}
