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

// Package batch coalesces build signals from many package runners into
// debounced build batches.
//
// Every runner reports a change when it starts building and a completion
// when it finishes. The coordinator counts outstanding builds, and a batch
// closes exactly when that count returns to zero and stays there for the
// debounce window. At close the dependent-process pass runs and one report
// is emitted with every result currently known.
package batch

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/internal/events"
	"bennypowers.dev/monobuild/internal/logging"
	"bennypowers.dev/monobuild/internal/metrics"
	"bennypowers.dev/monobuild/result"
)

// Commands a completion can come from.
const (
	CommandBuild     = "build"
	CommandWatch     = "watch"
	CommandTypecheck = "typecheck"
)

// Completion is one finished package build.
type Completion struct {
	Command string
	Package string
	Kind    config.Kind
	Results []result.Result
	// Affected files were rebuilt; Outputs were written.
	Affected []string
	Deleted  []string
	Outputs  []string
	Duration time.Duration
}

// Sink receives the signals of one runner.
type Sink interface {
	// Change reports that a build is starting.
	Change()
	// Complete reports the end of the build announced by Change.
	Complete(Completion)
}

// Observer sees every completion and runs once per closed batch.
type Observer interface {
	Observe(Completion)
	// Pass returns orchestration failures as results.
	Pass(ctx context.Context) []result.Result
}

// State is the coordinator's phase.
type State int32

const (
	// Idle has no outstanding builds.
	Idle State = iota
	// Accumulating has outstanding builds.
	Accumulating
	// Draining waits out the debounce window before releasing completions.
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Draining:
		return "draining"
	}
	return "unknown"
}

// Key identifies a slice of the result cache.
type Key struct {
	Command string
	Target  string
	// File is a file path, or the package name for package-level results.
	File string
}

// Report summarizes one closed batch.
type Report struct {
	ID       string                  `json:"id"`
	Seq      int                     `json:"seq"`
	Started  time.Time               `json:"started"`
	Finished time.Time               `json:"finished"`
	Packages []string                `json:"packages"`
	Results  []result.Result         `json:"results"`
	Counts   map[result.Severity]int `json:"counts"`
}

// NewReport builds a report finished now with a fresh ID.
func NewReport(seq int, started time.Time, pkgs []string, results []result.Result) *Report {
	return &Report{
		ID:       uuid.NewString(),
		Seq:      seq,
		Started:  started,
		Finished: time.Now(),
		Packages: pkgs,
		Results:  results,
		Counts:   result.Count(results),
	}
}

// HasErrors reports whether any result in the report is an error.
func (r *Report) HasErrors() bool {
	return result.HasErrors(r.Results)
}

// Options configures a Coordinator.
type Options struct {
	Debounce  config.Debounce
	Observer  Observer
	Publisher events.Publisher
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

type signal struct {
	pkg        string
	change     bool
	completion Completion
}

// Coordinator owns the busy counter and the result cache. All state is
// confined to the goroutine running Run.
type Coordinator struct {
	opts   Options
	logger *slog.Logger

	signals chan signal
	reports chan *Report
	done    chan struct{}
	state   atomic.Int32

	// loop state
	busy    int
	owed    int
	cache   map[Key][]result.Result
	started time.Time
	rebuilt map[string]bool
	deleted map[string]bool
	seq     int
	timer   *time.Timer
	timerC  <-chan time.Time
}

// New creates a coordinator. Run must be called to process signals.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Debounce.Initial <= 0 {
		opts.Debounce.Initial = time.Second
	}
	if opts.Debounce.Steady <= 0 {
		opts.Debounce.Steady = 300 * time.Millisecond
	}
	return &Coordinator{
		opts:    opts,
		logger:  logger,
		signals: make(chan signal),
		reports: make(chan *Report, 16),
		done:    make(chan struct{}),
		cache:   make(map[Key][]result.Result),
		rebuilt: make(map[string]bool),
		deleted: make(map[string]bool),
	}
}

type sink struct {
	c   *Coordinator
	pkg string
}

func (s sink) Change() {
	s.c.send(signal{pkg: s.pkg, change: true})
}

func (s sink) Complete(comp Completion) {
	comp.Package = s.pkg
	s.c.send(signal{pkg: s.pkg, completion: comp})
}

func (c *Coordinator) send(sig signal) {
	select {
	case c.signals <- sig:
	case <-c.done:
	}
}

// RegisterRunner returns the sink for one package's runner.
func (c *Coordinator) RegisterRunner(pkg string) Sink {
	return sink{c: c, pkg: pkg}
}

// Reports delivers one report per closed batch. It is closed when Run
// returns.
func (c *Coordinator) Reports() <-chan *Report {
	return c.reports
}

// State returns the current phase.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Run processes signals until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.reports)
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.stopTimer()
			return ctx.Err()
		case sig := <-c.signals:
			if sig.change {
				c.change()
			} else {
				c.complete(sig.completion)
			}
		case <-c.timerC:
			c.timer, c.timerC = nil, nil
			c.drain(ctx)
		}
	}
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Coordinator) change() {
	if c.State() == Idle {
		c.started = time.Now()
	}
	c.busy++
	c.opts.Metrics.SetBusy(c.busy)
	// a change while draining holds the batch open
	c.stopTimer()
	c.setState(Accumulating)
}

func (c *Coordinator) complete(comp Completion) {
	c.merge(comp)
	c.rebuilt[comp.Package] = true
	c.opts.Metrics.ObservePackageBuild(comp.Package, comp.Command, comp.Duration)
	if c.opts.Observer != nil {
		c.opts.Observer.Observe(comp)
	}
	c.owed++
	c.stopTimer()
	c.timer = time.NewTimer(c.debounce())
	c.timerC = c.timer.C
	c.setState(Draining)
}

func (c *Coordinator) debounce() time.Duration {
	if c.seq == 0 {
		return c.opts.Debounce.Initial
	}
	return c.opts.Debounce.Steady
}

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer, c.timerC = nil, nil
	}
}

// drain releases the completions seen so far and closes the batch if no
// builds remain.
func (c *Coordinator) drain(ctx context.Context) {
	c.busy = max(c.busy-c.owed, 0)
	c.owed = 0
	c.opts.Metrics.SetBusy(c.busy)
	if c.busy > 0 {
		c.setState(Accumulating)
		return
	}
	c.close(ctx)
	c.setState(Idle)
}

// merge replaces every cache entry of the completed package with its fresh
// results. A completion carries the package's whole current result set.
func (c *Coordinator) merge(comp Completion) {
	maps.DeleteFunc(c.cache, func(k Key, _ []result.Result) bool {
		return k.Command == comp.Command && k.Target == comp.Package
	})
	for _, f := range comp.Deleted {
		c.deleted[f] = true
	}

	fresh := make(map[Key][]result.Result)
	for _, r := range comp.Results {
		file := r.FilePath
		if file == "" {
			file = comp.Package
		}
		k := Key{comp.Command, comp.Package, file}
		fresh[k] = append(fresh[k], r)
	}
	for k, rs := range fresh {
		result.Sort(rs)
		c.cache[k] = result.Dedupe(rs)
	}
}

func (c *Coordinator) close(ctx context.Context) {
	var extra []result.Result
	if c.opts.Observer != nil {
		extra = c.opts.Observer.Pass(ctx)
	}

	var all []result.Result
	keys := slices.SortedFunc(maps.Keys(c.cache), compareKeys)
	for _, k := range keys {
		all = append(all, c.cache[k]...)
	}
	all = append(all, extra...)

	c.seq++
	report := NewReport(c.seq, c.started, slices.Sorted(maps.Keys(c.rebuilt)), all)

	for k := range c.cache {
		if c.deleted[k.File] {
			delete(c.cache, k)
		}
	}
	clear(c.rebuilt)
	clear(c.deleted)

	counts := make(map[string]int, len(report.Counts))
	for s, n := range report.Counts {
		counts[string(s)] = n
	}
	c.opts.Metrics.ObserveBatch(report.Finished.Sub(report.Started), counts)
	c.logger.Debug("batch closed",
		logging.KeyBatch, report.ID,
		"seq", report.Seq,
		"packages", len(report.Packages),
		logging.KeyDuration, report.Finished.Sub(report.Started).Milliseconds())

	if c.opts.Publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := c.opts.Publisher.Publish(pubCtx, report); err != nil {
			c.logger.Warn("publishing batch report", logging.KeyBatch, report.ID, "error", err)
		}
		cancel()
	}

	select {
	case c.reports <- report:
	case <-ctx.Done():
	}
}

func compareKeys(a, b Key) int {
	return cmp.Or(
		cmp.Compare(a.Target, b.Target),
		cmp.Compare(a.Command, b.Command),
		cmp.Compare(a.File, b.File),
	)
}
