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

// Package config loads the monobuild project configuration.
//
// The configuration lives next to the workspace root package.json as
// monobuild.yaml (TOML and JSON are accepted too). It declares the kind of
// every workspace package that takes part in builds, how client packages
// reach their dev server, and where packages are published.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Kind is the declared role of a workspace package.
type Kind string

const (
	KindLibrary Kind = "library"
	KindServer  Kind = "server"
	KindClient  Kind = "client"
	KindScripts Kind = "scripts"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLibrary, KindServer, KindClient, KindScripts:
		return true
	}
	return false
}

// Bundled reports whether packages of this kind are bundled rather than
// emitted file by file.
func (k Kind) Bundled() bool {
	switch k {
	case KindServer, KindClient:
		return true
	case KindLibrary, KindScripts:
		return false
	}
	return false
}

// PublishKind selects a publish target.
type PublishKind string

const (
	PublishNPM            PublishKind = "npm"
	PublishLocalDirectory PublishKind = "local-directory"
	PublishSCP            PublishKind = "scp"
)

// Publish describes where a package is published.
type Publish struct {
	Type PublishKind `mapstructure:"type"`
	// Path is the destination directory for local-directory and scp
	// targets. %VER% and %PROJECT% are substituted, any other %NAME% is
	// read from the environment.
	Path string `mapstructure:"path"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	User string `mapstructure:"user"`
}

// Package is the per-package configuration.
type Package struct {
	Kind Kind `mapstructure:"kind"`

	// Server names the server package a client is served by.
	Server string `mapstructure:"server"`
	// ServerPort points a client at an externally running dev server port
	// instead of a server package.
	ServerPort int `mapstructure:"serverPort"`

	// Port is the dev server port for server packages and standalone clients.
	// Zero picks a free port.
	Port int `mapstructure:"port"`

	// Entry lists bundle entry points relative to the package root.
	Entry []string `mapstructure:"entry"`

	// Env lists KEY=VALUE pairs passed to the running server.
	Env []string `mapstructure:"env"`

	// Configs is written to dist/.config.json for server and client bundles.
	Configs map[string]any `mapstructure:"configs"`

	Publish *Publish `mapstructure:"publish"`
}

// Environment parses Env into a map. Later entries win.
func (p Package) Environment() (map[string]string, error) {
	if len(p.Env) == 0 {
		return map[string]string{}, nil
	}
	return godotenv.Unmarshal(strings.Join(p.Env, "\n"))
}

// Script is an external command run after a successful publish.
type Script struct {
	Cmd  string   `mapstructure:"cmd"`
	Args []string `mapstructure:"args"`
}

// Tool configures an external command the engine shells out to.
type Tool struct {
	Disabled bool     `mapstructure:"disabled"`
	Command  string   `mapstructure:"command"`
	Args     []string `mapstructure:"args"`
}

// Debounce configures batch completion windows.
type Debounce struct {
	Initial time.Duration `mapstructure:"initial"`
	Steady  time.Duration `mapstructure:"steady"`
}

// Workers configures the compile worker pool.
type Workers struct {
	Fraction float64 `mapstructure:"fraction"`
}

// PublishSettings configures the publish pipeline.
type PublishSettings struct {
	AllowCycles bool          `mapstructure:"allowCycles"`
	Attempts    int           `mapstructure:"attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Registry    string        `mapstructure:"registry"`
}

// Events configures the optional NATS batch report sink.
type Events struct {
	NATSURL string `mapstructure:"natsURL"`
	Subject string `mapstructure:"subject"`
}

// Metrics configures the optional Prometheus endpoint.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// Config is the root configuration document.
type Config struct {
	// Root is the workspace root directory. Not read from the file.
	Root string `mapstructure:"-"`

	Packages    map[string]Package `mapstructure:"packages"`
	PostPublish []Script           `mapstructure:"postPublish"`
	Debounce    Debounce           `mapstructure:"debounce"`
	Workers     Workers            `mapstructure:"workers"`
	Lint        Tool               `mapstructure:"lint"`
	Typecheck   Tool               `mapstructure:"typecheck"`
	Publish     PublishSettings    `mapstructure:"publish"`
	Events      Events             `mapstructure:"events"`
	Metrics     Metrics            `mapstructure:"metrics"`
}

// ErrNotFound is returned when no configuration file exists.
var ErrNotFound = errors.New("monobuild configuration not found")

func setDefaults(v *viper.Viper) {
	v.SetDefault("debounce.initial", time.Second)
	v.SetDefault("debounce.steady", 300*time.Millisecond)
	v.SetDefault("workers.fraction", 0.5)
	v.SetDefault("lint.command", "eslint")
	v.SetDefault("lint.args", []string{"--format", "json"})
	v.SetDefault("typecheck.command", "tsc")
	v.SetDefault("typecheck.args", []string{"--noEmit", "--pretty", "false", "-p"})
	v.SetDefault("publish.attempts", 3)
	v.SetDefault("publish.backoff", 5*time.Second)
	v.SetDefault("publish.registry", "https://registry.npmjs.org")
	v.SetDefault("events.subject", "monobuild.batch")
}

// Load reads the configuration for the workspace rooted at root. When file
// is empty, monobuild.{yaml,yml,toml,json} is looked up in root.
func Load(root, file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("monobuild")
		v.AddConfigPath(root)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w in %s", ErrNotFound, root)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", v.ConfigFileUsed(), err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	cfg.Root = abs
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", v.ConfigFileUsed(), err)
	}
	return &cfg, nil
}

// Validate checks references between packages and closed enum values.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.PackageNames() {
		pkg := c.Packages[name]
		if !pkg.Kind.Valid() {
			errs = append(errs, fmt.Errorf("package %s: unknown kind %q", name, pkg.Kind))
			continue
		}
		if pkg.Server != "" {
			if pkg.Kind != KindClient {
				errs = append(errs, fmt.Errorf("package %s: only client packages may reference a server", name))
			}
			srv, ok := c.Packages[pkg.Server]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("package %s: unknown server package %q", name, pkg.Server))
			case srv.Kind != KindServer:
				errs = append(errs, fmt.Errorf("package %s: %q is not a server package", name, pkg.Server))
			}
			if pkg.ServerPort != 0 {
				errs = append(errs, fmt.Errorf("package %s: server and serverPort are mutually exclusive", name))
			}
		}
		if _, err := pkg.Environment(); err != nil {
			errs = append(errs, fmt.Errorf("package %s: parsing env: %w", name, err))
		}
		if pkg.Publish != nil {
			switch pkg.Publish.Type {
			case PublishNPM:
			case PublishLocalDirectory:
				if pkg.Publish.Path == "" {
					errs = append(errs, fmt.Errorf("package %s: local-directory publish needs a path", name))
				}
			case PublishSCP:
				if pkg.Publish.Host == "" || pkg.Publish.Path == "" {
					errs = append(errs, fmt.Errorf("package %s: scp publish needs host and path", name))
				}
			default:
				errs = append(errs, fmt.Errorf("package %s: unknown publish type %q", name, pkg.Publish.Type))
			}
		}
	}
	if c.Publish.Attempts < 1 {
		errs = append(errs, fmt.Errorf("publish.attempts must be at least 1"))
	}
	if c.Workers.Fraction <= 0 || c.Workers.Fraction > 1 {
		errs = append(errs, fmt.Errorf("workers.fraction must be in (0, 1]"))
	}
	return errors.Join(errs...)
}

// PackageNames returns configured package names in sorted order.
func (c *Config) PackageNames() []string {
	names := make([]string, 0, len(c.Packages))
	for name := range c.Packages {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Package returns the configuration for a package.
func (c *Config) Package(name string) (Package, bool) {
	pkg, ok := c.Packages[name]
	return pkg, ok
}
