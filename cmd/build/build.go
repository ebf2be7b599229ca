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

// Package build provides the one-shot build command.
package build

import (
	"fmt"

	"github.com/spf13/cobra"

	"bennypowers.dev/monobuild/batch"
	"bennypowers.dev/monobuild/internal/app"
	"bennypowers.dev/monobuild/worker"
)

// Cmd is the build command.
var Cmd = &cobra.Command{
	Use:   "build [targets..]",
	Short: "Build packages once",
	Long: `Build compiles and bundles the named packages, or every package, on a
pool of compile workers and prints one report. The exit code is non-zero
when any package has errors.`,
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
	ctx := cmd.Context()
	s, err := app.Open(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.Close()

	pkgs, err := s.Select(args)
	if err != nil {
		return err
	}
	rep, err := s.RunPool(ctx, batch.CommandBuild, worker.MethodBuild, pkgs, !noLint)
	if err != nil {
		return err
	}
	if err := s.Output.Batch(rep); err != nil {
		return err
	}
	if rep.HasErrors() {
		return app.ErrBuildFailed
	}
	return nil
}
