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

// Command monobuild builds, watches and publishes the packages of a
// TypeScript monorepo.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/monobuild/cmd/build"
	"bennypowers.dev/monobuild/cmd/publish"
	"bennypowers.dev/monobuild/cmd/typecheck"
	"bennypowers.dev/monobuild/cmd/version"
	"bennypowers.dev/monobuild/cmd/watch"
	"bennypowers.dev/monobuild/cmd/worker"
	"bennypowers.dev/monobuild/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "monobuild",
	Short: "Incremental builds for TypeScript monorepos",
	Long: `monobuild compiles, lints, bundles and watches the packages of a
TypeScript monorepo, restarts dev servers when their inputs change, and
publishes packages in dependency order.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String(app.KeyRoot, ".", "Workspace root directory")
	rootCmd.PersistentFlags().StringP(app.KeyConfig, "c", "", "Config file (default: monobuild.{yaml,toml,json} in the root)")
	rootCmd.PersistentFlags().BoolP(app.KeyDebug, "d", false, "Verbose logging")
	rootCmd.PersistentFlags().String(app.KeyLogFile, "", "Also write JSON logs to this rotating file")
	rootCmd.PersistentFlags().StringP(app.KeyFormat, "f", "text", "Output format (text, json)")

	_ = viper.BindPFlag(app.KeyRoot, rootCmd.PersistentFlags().Lookup(app.KeyRoot))
	_ = viper.BindPFlag(app.KeyConfig, rootCmd.PersistentFlags().Lookup(app.KeyConfig))
	_ = viper.BindPFlag(app.KeyDebug, rootCmd.PersistentFlags().Lookup(app.KeyDebug))
	_ = viper.BindPFlag(app.KeyLogFile, rootCmd.PersistentFlags().Lookup(app.KeyLogFile))
	_ = viper.BindPFlag(app.KeyFormat, rootCmd.PersistentFlags().Lookup(app.KeyFormat))

	// workers inherit --debug as MONOBUILD_DEBUG
	viper.SetEnvPrefix("monobuild")
	_ = viper.BindEnv(app.KeyDebug)

	rootCmd.AddCommand(build.Cmd)
	rootCmd.AddCommand(watch.Cmd)
	rootCmd.AddCommand(typecheck.Cmd)
	rootCmd.AddCommand(publish.Cmd)
	rootCmd.AddCommand(version.Cmd)
	rootCmd.AddCommand(worker.Cmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, app.ErrBuildFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
