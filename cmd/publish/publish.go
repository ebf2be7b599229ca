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

// Package publish provides the publish command.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"bennypowers.dev/monobuild/batch"
	"bennypowers.dev/monobuild/internal/app"
	pipeline "bennypowers.dev/monobuild/publish"
	"bennypowers.dev/monobuild/registry"
	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/vcs"
	"bennypowers.dev/monobuild/worker"
)

// Cmd is the publish command.
var Cmd = &cobra.Command{
	Use:   "publish [targets..]",
	Short: "Version, build and publish packages in dependency order",
	Long: `Publish bumps the version of the named packages, or of every package
with a publish configuration, builds them, commits and tags the release,
then publishes them level by level so that dependencies go out first.

Failed publishes are retried. When a package still fails, the packages
already published are listed so the release can be completed by hand.`,
	RunE: run,
}

func init() {
	Cmd.Flags().Bool("dry-run", false, "Simulate every step without changing anything")
	Cmd.Flags().Bool("no-build", false, "Publish the current version without bumping, building or tagging")
}

func run(cmd *cobra.Command, args []string) error {
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return fmt.Errorf("error reading dry-run flag: %w", err)
	}
	noBuild, err := cmd.Flags().GetBool("no-build")
	if err != nil {
		return fmt.Errorf("error reading no-build flag: %w", err)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := app.Open(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.Close()

	opts := pipeline.Options{
		Workspace: s.Workspace,
		Targets:   args,
		DryRun:    dryRun,
		NoBuild:   noBuild,
		Registry:  registry.New(registry.HTTPFetcher{}, s.Config.Publish.Registry),
		Build: func(ctx context.Context, pkgs []string) ([]result.Result, error) {
			rep, err := s.RunPool(ctx, batch.CommandBuild, worker.MethodBuild, pkgs, false)
			if err != nil {
				return nil, err
			}
			if err := s.Output.Batch(rep); err != nil {
				s.Logger.Warn("rendering report", "error", err)
			}
			return rep.Results, nil
		},
		Metrics: s.Metrics,
		Logger:  s.Logger,
	}
	switch git, err := vcs.Open(s.Root, nil); {
	case err == nil:
		opts.VCS = git
	case errors.Is(err, vcs.ErrNotRepository):
		s.Logger.Warn("workspace is not in a git repository; release will not be committed or tagged")
	default:
		return err
	}

	rep, err := pipeline.New(opts).Run(ctx)
	if rep != nil {
		if rerr := s.Output.Publish(rep); rerr != nil {
			s.Logger.Warn("rendering publish report", "error", rerr)
		}
	}
	if err != nil {
		return err
	}
	if rep.HasErrors() {
		return app.ErrBuildFailed
	}
	return nil
}
