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

// Package publish releases workspace packages.
//
// A run moves through fixed phases: Validate, VersionBump, Build, TagPush,
// Publish and PostPublish. Only a failed build is rolled back, by restoring
// the bumped manifests. Once a tag is pushed recovery is forward-only: a
// failed package stops later dependency levels, and the ledger records what
// was already published.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/fs"
	"bennypowers.dev/monobuild/internal/logging"
	"bennypowers.dev/monobuild/internal/metrics"
	"bennypowers.dev/monobuild/internal/proc"
	"bennypowers.dev/monobuild/internal/retry"
	"bennypowers.dev/monobuild/registry"
	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/vcs"
	"bennypowers.dev/monobuild/workspace"
)

// Phase is a step of a publish run.
type Phase int

const (
	PhaseValidate Phase = iota
	PhaseVersionBump
	PhaseBuild
	PhaseTagPush
	PhasePublish
	PhasePostPublish
)

func (p Phase) String() string {
	switch p {
	case PhaseValidate:
		return "validate"
	case PhaseVersionBump:
		return "version bump"
	case PhaseBuild:
		return "build"
	case PhaseTagPush:
		return "tag and push"
	case PhasePublish:
		return "publish"
	case PhasePostPublish:
		return "post-publish"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// PhaseError is a run that stopped in Phase.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ErrBuildFailed is returned when the pre-publish build reports errors.
var ErrBuildFailed = errors.New("build failed")

// FailureError lists failed packages alongside those already published,
// which are not undone.
type FailureError struct {
	Published []string
	Failed    map[string]error
}

func (e *FailureError) Error() string {
	failed := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	msg := "failed to publish " + strings.Join(failed, ", ")
	if len(e.Published) > 0 {
		msg += "; already published: " + strings.Join(e.Published, ", ")
	}
	return msg
}

func (e *FailureError) Unwrap() []error {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, e.Failed[name])
	}
	return errs
}

// VCS is the version control the pipeline commits, tags and rolls back
// through. *vcs.Git implements it.
type VCS interface {
	Dirty() ([]string, error)
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) error
	Tag(ctx context.Context, name, message string) error
	Push(ctx context.Context, opts vcs.PushOptions) error
	Restore(ctx context.Context, paths ...string) error
}

var _ VCS = (*vcs.Git)(nil)

// BuildFunc builds the named packages for release.
type BuildFunc func(ctx context.Context, pkgs []string) ([]result.Result, error)

// Options configures a Pipeline.
type Options struct {
	Workspace *workspace.Workspace
	// Targets restricts the run to these packages; empty means every
	// package with a publish configuration.
	Targets []string
	DryRun  bool
	// NoBuild publishes the current version without bumping, building or
	// tagging.
	NoBuild bool

	// VCS is nil when the workspace is not in a repository.
	VCS      VCS
	Runner   proc.Runner
	Registry *registry.Client
	Build    BuildFunc
	Policy   retry.Policy
	Metrics  *metrics.Recorder
	Logger   *slog.Logger

	// NewTarget overrides target construction.
	NewTarget func(config.Publish) (Target, error)
}

// Report is the outcome of a run.
type Report struct {
	Version    string          `json:"version"`
	Levels     [][]string      `json:"levels"`
	Ledger     *Ledger         `json:"ledger,omitempty"`
	LedgerPath string          `json:"ledgerPath,omitempty"`
	Results    []result.Result `json:"results"`
}

// HasErrors reports whether the run produced error results.
func (r *Report) HasErrors() bool {
	return result.HasErrors(r.Results)
}

// Pipeline runs one publish.
type Pipeline struct {
	opts   Options
	ws     *workspace.Workspace
	fs     fs.FileSystem
	logger *slog.Logger

	mu     sync.Mutex
	report *Report
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DryRun {
		logger = logger.With("dry_run", true)
	}
	if opts.Runner == nil {
		opts.Runner = proc.Exec{}
	}
	if opts.Policy.Attempts == 0 {
		opts.Policy = retry.NewPolicy(opts.Workspace.Config.Publish.Attempts, opts.Workspace.Config.Publish.Backoff)
	}
	return &Pipeline{
		opts:   opts,
		ws:     opts.Workspace,
		fs:     opts.Workspace.FS(),
		logger: logger,
		report: &Report{},
	}
}

type job struct {
	pkg    *workspace.Package
	target Target
}

// Run executes every phase. The report is returned even when err is set.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	jobs, leveling, err := p.validate(ctx)
	if err != nil {
		return p.report, &PhaseError{Phase: PhaseValidate, Err: err}
	}
	if len(jobs) == 0 {
		p.logger.Info("nothing to publish")
		return p.report, nil
	}
	p.report.Levels = leveling.Levels

	version := p.ws.Manifest.Version
	if p.opts.NoBuild {
		p.logger.Warn("publishing without a build", "version", version)
	} else {
		next, err := p.prepare(ctx, version, jobs)
		if err != nil {
			return p.report, err
		}
		version = next
	}
	p.report.Version = version

	ledger := &Ledger{Version: version, DryRun: p.opts.DryRun, Started: time.Now()}
	p.report.Ledger = ledger
	publishErr := p.publishLevels(ctx, leveling.Levels, jobs, version, ledger)
	if publishErr == nil {
		p.postPublish(ctx, version)
	}
	ledger.Finished = time.Now()

	if !p.opts.DryRun {
		path, err := ledger.Save(p.fs, p.ws.Root)
		if err != nil {
			p.logger.Error("writing publish ledger", "error", err)
		} else {
			p.report.LedgerPath = path
		}
	}
	if publishErr != nil {
		return p.report, &PhaseError{Phase: PhasePublish, Err: publishErr}
	}
	p.logger.Info("published", "version", version, "packages", len(jobs))
	return p.report, nil
}

func (p *Pipeline) validate(ctx context.Context) (map[string]job, Leveling, error) {
	selected, err := p.ws.Select(p.opts.Targets)
	if err != nil {
		return nil, Leveling{}, err
	}
	jobs := make(map[string]job)
	var names []string
	npm := false
	for _, pkg := range selected {
		if pkg.Config.Publish == nil || pkg.Kind() == config.KindScripts {
			continue
		}
		if pkg.Config.Publish.Type == config.PublishNPM && pkg.Manifest != nil && pkg.Manifest.Private {
			return nil, Leveling{}, fmt.Errorf("package %s: private packages cannot be published to npm", pkg.Name)
		}
		target, err := p.newTarget(*pkg.Config.Publish)
		if err != nil {
			return nil, Leveling{}, fmt.Errorf("package %s: %w", pkg.Name, err)
		}
		jobs[pkg.Name] = job{pkg: pkg, target: target}
		names = append(names, pkg.Name)
		npm = npm || pkg.Config.Publish.Type == config.PublishNPM
	}
	if len(jobs) == 0 {
		return nil, Leveling{}, nil
	}

	leveling := Levels(p.ws.Graph, names)
	if err := leveling.CycleError(); err != nil {
		if !p.ws.Config.Publish.AllowCycles {
			return nil, Leveling{}, err
		}
		p.logger.Warn("publishing cyclic packages in a shared level", "error", err)
	}

	if npm {
		out, err := proc.Check(ctx, p.opts.Runner, proc.Cmd{Name: "npm", Args: []string{"whoami"}, Dir: p.ws.Root})
		if err != nil {
			return nil, Leveling{}, fmt.Errorf("checking npm login: %w", err)
		}
		user := strings.TrimSpace(string(out.Stdout))
		if user == "" {
			return nil, Leveling{}, errors.New("npm is not logged in")
		}
		p.logger.Debug("npm login", "user", user)
	}

	if !p.opts.NoBuild && p.opts.VCS != nil {
		dirty, err := p.opts.VCS.Dirty()
		if err != nil {
			return nil, Leveling{}, err
		}
		if len(dirty) > 0 {
			return nil, Leveling{}, fmt.Errorf("worktree has uncommitted changes: %s", strings.Join(dirty, ", "))
		}
	}
	return jobs, leveling, nil
}

func (p *Pipeline) newTarget(cfg config.Publish) (Target, error) {
	if p.opts.NewTarget != nil {
		return p.opts.NewTarget(cfg)
	}
	return NewTarget(cfg, Env{FS: p.fs, Runner: p.opts.Runner, Registry: p.opts.Registry, Logger: p.logger})
}

// prepare bumps the version, builds and tags. A failure before tagging
// restores the bumped manifests.
func (p *Pipeline) prepare(ctx context.Context, current string, jobs map[string]job) (string, error) {
	next, err := Bump(current)
	if err != nil {
		return "", &PhaseError{Phase: PhaseVersionBump, Err: err}
	}
	var changed []string
	if p.opts.DryRun {
		p.logger.Info("would bump version", "from", current, "to", next)
	} else {
		changed, err = WriteVersion(p.fs, p.ws, next)
		if err != nil {
			return "", p.rollback(ctx, changed, &PhaseError{Phase: PhaseVersionBump, Err: err})
		}
		p.logger.Info("bumped version", "from", current, "to", next)
	}

	if p.opts.Build != nil {
		names := make([]string, 0, len(jobs))
		for name := range jobs {
			names = append(names, name)
		}
		sort.Strings(names)
		start := time.Now()
		results, err := p.opts.Build(ctx, names)
		p.addResults(results...)
		if err == nil && result.HasErrors(results) {
			err = ErrBuildFailed
		}
		if err != nil {
			return "", p.rollback(ctx, changed, &PhaseError{Phase: PhaseBuild, Err: err})
		}
		p.logger.Debug("built", "packages", len(names), logging.KeyDuration, time.Since(start).Milliseconds())
	}

	if p.opts.VCS != nil {
		if err := p.tagPush(ctx, changed, next); err != nil {
			p.logger.Error("tagging failed after the version bump; commit, tag and push by hand before publishing again",
				"version", next, "error", err)
			return "", &PhaseError{Phase: PhaseTagPush, Err: err}
		}
	}
	return next, nil
}

func (p *Pipeline) rollback(ctx context.Context, changed []string, cause error) error {
	if p.opts.DryRun || len(changed) == 0 {
		return cause
	}
	if p.opts.VCS == nil {
		p.logger.Error("cannot roll back without a repository; restore the manifests by hand", "files", changed)
		return cause
	}
	if err := p.opts.VCS.Restore(ctx, changed...); err != nil {
		p.logger.Error("rollback failed; run git checkout -- . to restore the manifests", "error", err)
		return errors.Join(cause, fmt.Errorf("rolling back: %w", err))
	}
	p.logger.Info("rolled back version bump", "files", len(changed))
	return cause
}

func (p *Pipeline) tagPush(ctx context.Context, changed []string, version string) error {
	tag := "v" + version
	git := p.opts.VCS
	if p.opts.DryRun {
		p.logger.Info("would commit and tag", "tag", tag)
		if err := git.Push(ctx, vcs.PushOptions{DryRun: true}); err != nil {
			return err
		}
		return git.Push(ctx, vcs.PushOptions{Tags: true, DryRun: true})
	}
	if err := git.Add(ctx, changed...); err != nil {
		return err
	}
	if err := git.Commit(ctx, tag); err != nil {
		return err
	}
	if err := git.Tag(ctx, tag, tag); err != nil {
		return err
	}
	if err := git.Push(ctx, vcs.PushOptions{}); err != nil {
		return err
	}
	return git.Push(ctx, vcs.PushOptions{Tags: true})
}

func (p *Pipeline) publishLevels(ctx context.Context, levels [][]string, jobs map[string]job, version string, ledger *Ledger) error {
	for i, level := range levels {
		p.logger.Debug("publishing level", "level", i+1, "of", len(levels), "packages", level)

		var mu sync.Mutex
		failed := make(map[string]error)
		var g errgroup.Group
		for _, name := range level {
			j := jobs[name]
			g.Go(func() error {
				entry, err := p.publishOne(ctx, i, j, version)
				mu.Lock()
				defer mu.Unlock()
				ledger.Record(entry)
				if err != nil {
					failed[name] = err
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(failed) > 0 {
			for k, later := range levels[i+1:] {
				for _, name := range later {
					ledger.Record(Entry{Name: name, Target: string(jobs[name].pkg.Config.Publish.Type), Level: i + 1 + k, Status: StatusSkipped})
				}
			}
			published := append(ledger.With(StatusPublished), ledger.With(StatusAlreadyPublished)...)
			sort.Strings(published)
			failure := &FailureError{Published: published, Failed: failed}
			if len(published) > 0 {
				p.logger.Error("publish stopped with packages already released; these are not undone and may need manual recovery",
					"published", published)
			}
			return failure
		}
	}
	return nil
}

func (p *Pipeline) publishOne(ctx context.Context, level int, j job, version string) (Entry, error) {
	name := j.pkg.Name
	logger := p.logger.With(logging.KeyPackage, name)
	entry := Entry{Name: name, Target: string(j.pkg.Config.Publish.Type), Level: level, Status: StatusPublished}
	req := Request{Package: j.pkg, Version: version, Project: p.ws.Root, DryRun: p.opts.DryRun}
	attempts := p.opts.Policy.Attempts

	logger.Info("publishing", "version", version, "target", entry.Target)
	err := p.opts.Policy.Do(ctx, func(attempt int) error {
		entry.Attempts = attempt
		err := j.target.Publish(ctx, req)
		if errors.Is(err, ErrAlreadyPublished) {
			entry.Status = StatusAlreadyPublished
			err = nil
		}
		p.opts.Metrics.IncPublishAttempt(name, err == nil)
		return err
	}, func(attempt int, err error, delay time.Duration) {
		p.opts.Metrics.IncPublishRetry(name)
		logger.Warn("publish failed, retrying", logging.KeyAttempt, attempt, "delay", delay, "error", err)
		p.addResults(result.Result{
			Severity: result.SeverityWarning,
			Source:   result.SourcePublish,
			FilePath: name,
			Message:  fmt.Sprintf("attempt %d/%d failed, retrying in %s: %v", attempt, attempts, delay, err),
		})
	})
	if err != nil {
		entry.Status = StatusFailed
		entry.Error = err.Error()
		logger.Error("publish failed", logging.KeyAttempt, entry.Attempts, "error", err)
		p.addResults(result.Result{
			Severity: result.SeverityError,
			Source:   result.SourcePublish,
			FilePath: name,
			Message:  fmt.Sprintf("publish failed after %d attempts: %v", entry.Attempts, err),
		})
		return entry, err
	}
	if entry.Status == StatusAlreadyPublished {
		logger.Info("already published", "version", version)
	} else {
		logger.Info("published", "version", version)
	}
	return entry, nil
}

// postPublish runs the configured scripts in order. Failures are warnings.
func (p *Pipeline) postPublish(ctx context.Context, version string) {
	for _, script := range p.ws.Config.PostPublish {
		cmd, err := p.scriptCmd(script, version)
		if err == nil {
			if p.opts.DryRun {
				p.logger.Info("would run", "command", cmd.String())
				continue
			}
			p.logger.Debug("running", "command", cmd.String())
			_, err = proc.Check(ctx, p.opts.Runner, cmd)
		}
		if err != nil {
			p.logger.Warn("post-publish script failed", "command", script.Cmd, "error", err)
			p.addResults(result.Result{
				Severity: result.SeverityWarning,
				Source:   result.SourcePublish,
				Message:  fmt.Sprintf("post-publish %s: %v", script.Cmd, err),
			})
		}
	}
}

func (p *Pipeline) scriptCmd(script config.Script, version string) (proc.Cmd, error) {
	lookup := os.LookupEnv
	name, err := Substitute(script.Cmd, version, p.ws.Root, lookup)
	if err != nil {
		return proc.Cmd{}, err
	}
	args := make([]string, 0, len(script.Args))
	for _, a := range script.Args {
		arg, err := Substitute(a, version, p.ws.Root, lookup)
		if err != nil {
			return proc.Cmd{}, err
		}
		args = append(args, arg)
	}
	return proc.Cmd{Name: name, Args: args, Dir: p.ws.Root}, nil
}

func (p *Pipeline) addResults(rs ...result.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report.Results = append(p.report.Results, rs...)
}
