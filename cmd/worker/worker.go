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

// Package worker provides the hidden worker command the build processes
// re-execute the binary with.
package worker

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/monobuild/internal/app"
	"bennypowers.dev/monobuild/internal/logging"
	"bennypowers.dev/monobuild/worker"
)

const stopTimeout = 5 * time.Second

// Cmd is the worker command.
var Cmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a worker process over stdin and stdout",
	Hidden: true,
}

var compileCmd = &cobra.Command{
	Use:   string(worker.KindCompile),
	Short: "Compile, lint and bundle one package",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := &worker.Compiler{Logger: logger()}
		return serve(cmd, c, func(context.Context) { c.Dispose() })
	},
}

var serverCmd = &cobra.Command{
	Use:   string(worker.KindServer),
	Short: "Host a dev server and its backend process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := &worker.ServerHost{Logger: logger(), Node: "node"}
		return serve(cmd, h, func(ctx context.Context) { _ = h.Stop(ctx) })
	},
}

func init() {
	Cmd.AddCommand(compileCmd)
	Cmd.AddCommand(serverCmd)
}

// logger writes to stderr only; stdout carries the protocol.
func logger() *slog.Logger {
	l, _ := logging.Setup(logging.Options{Debug: viper.GetBool(app.KeyDebug)})
	return l
}

// serve runs h until the parent closes stdin, then runs cleanup.
func serve(cmd *cobra.Command, h worker.Handler, cleanup func(context.Context)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()
	// the parent owns interrupts and closes stdin to stop us
	signal.Ignore(os.Interrupt)
	err := worker.Serve(ctx, os.Stdin, os.Stdout, h)
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	cleanup(stopCtx)
	return err
}
