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

// Package vcs wraps the git operations used by the publish pipeline.
//
// Worktree status is read in-process with go-git. Anything that changes the
// repository or talks to a remote shells out to the git CLI so that the
// user's hooks, signing and credentials apply.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/go-git/go-git/v5"

	"bennypowers.dev/monobuild/internal/proc"
)

// ErrNotRepository is returned when the directory is not inside a git
// worktree.
var ErrNotRepository = errors.New("not a git repository")

// PushOptions configures a push.
type PushOptions struct {
	Tags   bool
	DryRun bool
}

// Git operates on the repository containing Dir.
type Git struct {
	Dir    string
	Runner proc.Runner

	repo *git.Repository
	top  string
}

// Open finds the repository containing dir, searching parent directories.
func Open(dir string, runner proc.Runner) (*Git, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return nil, fmt.Errorf("opening repository at %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	if runner == nil {
		runner = proc.Exec{}
	}
	return &Git{Dir: dir, Runner: runner, repo: repo, top: wt.Filesystem.Root()}, nil
}

// Root is the top level of the worktree.
func (g *Git) Root() string {
	return g.top
}

// Dirty lists tracked files with staged or unstaged modifications, relative
// to the worktree root. Untracked files are not reported.
func (g *Git) Dirty() ([]string, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	var dirty []string
	for path, st := range status {
		if st.Staging == git.Untracked && st.Worktree == git.Untracked {
			continue
		}
		if st.Staging == git.Unmodified && st.Worktree == git.Unmodified {
			continue
		}
		dirty = append(dirty, path)
	}
	slices.Sort(dirty)
	return dirty, nil
}

// Head returns the current commit hash.
func (g *Git) Head() (string, error) {
	ref, err := g.repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// Add stages paths.
func (g *Git) Add(ctx context.Context, paths ...string) error {
	return g.run(ctx, append([]string{"add", "--"}, g.relative(paths)...)...)
}

// Commit records the staged changes.
func (g *Git) Commit(ctx context.Context, message string) error {
	return g.run(ctx, "commit", "-m", message)
}

// Tag creates an annotated tag at HEAD.
func (g *Git) Tag(ctx context.Context, name, message string) error {
	return g.run(ctx, "tag", "-a", name, "-m", message)
}

// Push pushes the current branch, or every tag with opts.Tags.
func (g *Git) Push(ctx context.Context, opts PushOptions) error {
	args := []string{"push"}
	if opts.Tags {
		args = append(args, "--tags")
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	return g.run(ctx, args...)
}

// Restore discards worktree modifications of paths.
func (g *Git) Restore(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	return g.run(ctx, append([]string{"checkout", "--"}, g.relative(paths)...)...)
}

func (g *Git) run(ctx context.Context, args ...string) error {
	_, err := proc.Check(ctx, g.Runner, proc.Cmd{Name: "git", Args: args, Dir: g.top})
	return err
}

func (g *Git) relative(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if rel, err := filepath.Rel(g.top, p); err == nil && filepath.IsAbs(p) {
			p = rel
		}
		out = append(out, filepath.ToSlash(p))
	}
	return out
}
