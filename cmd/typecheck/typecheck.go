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

// Package typecheck provides the typecheck command.
package typecheck

import (
	"github.com/spf13/cobra"

	"bennypowers.dev/monobuild/batch"
	"bennypowers.dev/monobuild/internal/app"
	"bennypowers.dev/monobuild/worker"
)

// Cmd is the typecheck command.
var Cmd = &cobra.Command{
	Use:   "typecheck [targets..]",
	Short: "Type check packages with tsc",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
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
	rep, err := s.RunPool(ctx, batch.CommandTypecheck, worker.MethodTypecheck, pkgs, false)
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
