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
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/fs"
	"bennypowers.dev/monobuild/internal/proc"
	"bennypowers.dev/monobuild/registry"
	"bennypowers.dev/monobuild/workspace"
)

// CommandError is an external publish command that exited non-zero.
type CommandError = proc.CommandError

// ErrAlreadyPublished is returned by a target when the version is already
// present at the destination.
var ErrAlreadyPublished = errors.New("version already published")

// Request is one package publish.
type Request struct {
	Package *workspace.Package
	Version string
	// Project is the workspace root, substituted for %PROJECT%.
	Project string
	DryRun  bool
}

// Target uploads a built package.
type Target interface {
	Publish(ctx context.Context, req Request) error
}

// Env holds the collaborators targets share.
type Env struct {
	FS       fs.FileSystem
	Runner   proc.Runner
	Registry *registry.Client
	// Lookup reads environment variables for path substitution.
	Lookup func(string) (string, bool)
	Logger *slog.Logger
}

// NewTarget builds the target for a package's publish configuration.
func NewTarget(cfg config.Publish, env Env) (Target, error) {
	if env.Lookup == nil {
		env.Lookup = os.LookupEnv
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	switch cfg.Type {
	case config.PublishNPM:
		return &NPM{Runner: env.Runner, Registry: env.Registry, Logger: env.Logger}, nil
	case config.PublishLocalDirectory:
		return &LocalDirectory{FS: env.FS, Path: cfg.Path, Lookup: env.Lookup, Logger: env.Logger}, nil
	case config.PublishSCP:
		return &SCP{Runner: env.Runner, Config: cfg, Lookup: env.Lookup, Logger: env.Logger}, nil
	}
	return nil, fmt.Errorf("unknown publish type %q", cfg.Type)
}

var placeholder = regexp.MustCompile(`%([^%]+)%`)

// Substitute replaces %VER% with version, %PROJECT% with project and any
// other %NAME% with the environment variable NAME. A placeholder left
// unresolved is an error.
func Substitute(s, version, project string, lookup func(string) (string, bool)) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1 : len(m)-1]
		switch name {
		case "VER":
			return version
		case "PROJECT":
			return project
		}
		if v, ok := lookup(name); ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved placeholders in %q: %s", s, strings.Join(missing, ", "))
	}
	return out, nil
}

// NPM publishes to the npm registry with the npm CLI.
type NPM struct {
	Runner   proc.Runner
	Registry *registry.Client
	Logger   *slog.Logger
}

// Args returns the npm arguments for publishing version.
func (t *NPM) Args(version string, dryRun bool) []string {
	args := []string{"publish", "--access", "public"}
	if tag := DistTag(version); tag != "" {
		args = append(args, "--tag", tag)
	}
	if dryRun {
		args = append(args, "--dry-run")
	}
	return args
}

func (t *NPM) Publish(ctx context.Context, req Request) error {
	pkg := req.Package
	if t.Registry != nil {
		published, err := t.Registry.Published(ctx, pkg.ManifestName, req.Version)
		if err != nil {
			t.Logger.Warn("registry lookup failed, publishing anyway", "package", pkg.Name, "error", err)
		} else if published {
			return ErrAlreadyPublished
		}
	}
	cmd := proc.Cmd{Name: "npm", Args: t.Args(req.Version, req.DryRun), Dir: pkg.Root}
	t.Logger.Debug("publishing", "package", pkg.Name, "command", cmd.String())
	if _, err := proc.Check(ctx, t.Runner, cmd); err != nil {
		return err
	}
	if t.Registry != nil {
		t.Registry.Forget(pkg.ManifestName)
	}
	return nil
}

// LocalDirectory copies the package output into a directory.
type LocalDirectory struct {
	FS     fs.FileSystem
	Path   string
	Lookup func(string) (string, bool)
	Logger *slog.Logger
}

func (t *LocalDirectory) Publish(ctx context.Context, req Request) error {
	dest, err := Substitute(t.Path, req.Version, req.Project, t.Lookup)
	if err != nil {
		return err
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(req.Project, dest)
	}
	src := req.Package.OutDir()
	if req.DryRun {
		t.Logger.Info("would copy", "package", req.Package.Name, "from", src, "to", dest)
		return nil
	}
	copied, err := fs.CopyDir(t.FS, src, dest)
	if err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dest, err)
	}
	t.Logger.Debug("copied", "package", req.Package.Name, "files", len(copied), "to", dest)
	return nil
}

// SCP uploads the package output to a remote host with scp.
type SCP struct {
	Runner proc.Runner
	Config config.Publish
	Lookup func(string) (string, bool)
	Logger *slog.Logger
}

// Cmd returns the scp invocation for req.
func (t *SCP) Cmd(req Request) (proc.Cmd, error) {
	dest, err := Substitute(t.Config.Path, req.Version, req.Project, t.Lookup)
	if err != nil {
		return proc.Cmd{}, err
	}
	host := t.Config.Host
	if t.Config.User != "" {
		host = t.Config.User + "@" + host
	}
	args := []string{"-r", "-B"}
	if t.Config.Port != 0 {
		args = append(args, "-P", strconv.Itoa(t.Config.Port))
	}
	args = append(args, req.Package.OutDir()+string(filepath.Separator)+".", host+":"+dest)
	return proc.Cmd{Name: "scp", Args: args, Dir: req.Package.Root}, nil
}

func (t *SCP) Publish(ctx context.Context, req Request) error {
	cmd, err := t.Cmd(req)
	if err != nil {
		return err
	}
	if req.DryRun {
		t.Logger.Info("would upload", "package", req.Package.Name, "command", cmd.String())
		return nil
	}
	_, err = proc.Check(ctx, t.Runner, cmd)
	return err
}
