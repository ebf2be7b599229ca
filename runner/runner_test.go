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
package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"bennypowers.dev/monobuild/batch"
	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/internal/logging"
	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/worker"
	"bennypowers.dev/monobuild/workspace"
)

type recordingSink struct {
	mu      sync.Mutex
	events  []string
	done    []batch.Completion
	changed chan struct{}
}

func newSink() *recordingSink {
	return &recordingSink{changed: make(chan struct{}, 64)}
}

func (s *recordingSink) Change() {
	s.mu.Lock()
	s.events = append(s.events, "change")
	s.mu.Unlock()
	s.changed <- struct{}{}
}

func (s *recordingSink) Complete(c batch.Completion) {
	s.mu.Lock()
	s.events = append(s.events, "complete")
	s.done = append(s.done, c)
	s.mu.Unlock()
	s.changed <- struct{}{}
}

func (s *recordingSink) snapshot() ([]string, []batch.Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events), slices.Clone(s.done)
}

func (s *recordingSink) waitFor(t *testing.T, n int) []batch.Completion {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if _, done := s.snapshot(); len(done) >= n {
			return done
		}
		select {
		case <-s.changed:
		case <-deadline:
			t.Fatalf("Timed out waiting for %d completions", n)
		}
	}
}

type fakeWatch struct {
	ch    chan []string
	mu    sync.Mutex
	files []string
}

func (f *fakeWatch) Changes() <-chan []string { return f.ch }

func (f *fakeWatch) SetFiles(files []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = files
	return nil
}

func (f *fakeWatch) Close() error { return nil }

// fakeCompiler answers build calls, blocking on gate when set.
type fakeCompiler struct {
	mu          sync.Mutex
	gate        chan struct{}
	builds      int
	invalidated [][]string
	crashOn     int
}

func (f *fakeCompiler) Handle(ctx context.Context, method string, params json.RawMessage, emit worker.Emit) (any, error) {
	switch method {
	case worker.MethodInitialize:
		return nil, nil
	case worker.MethodInvalidate:
		var p worker.InvalidateParams
		_ = json.Unmarshal(params, &p)
		f.mu.Lock()
		f.invalidated = append(f.invalidated, p.Paths)
		f.mu.Unlock()
		return nil, nil
	case worker.MethodBuild:
		f.mu.Lock()
		f.builds++
		n := f.builds
		gate := f.gate
		f.mu.Unlock()
		if gate != nil {
			<-gate
		}
		return &worker.BuildResult{
			Package:    "core",
			Affected:   []string{"/repo/packages/core/src/index.ts"},
			WatchFiles: []string{"/repo/packages/core/src/index.ts"},
			Results:    []result.Result{{Severity: result.SeverityWarning, Message: "build", Code: string(rune('0' + n))}},
		}, nil
	}
	return nil, worker.ErrUnknownMethod
}

func corePackage() *workspace.Package {
	return &workspace.Package{Name: "core", Root: "/repo/packages/core", Config: config.Package{Kind: config.KindLibrary}}
}

func TestOneShotBuild(t *testing.T) {
	sink := newSink()
	fc := &fakeCompiler{}
	r := New(Options{
		Package: corePackage(),
		Dial: func(ctx context.Context) (*worker.Client, error) {
			return worker.NewPipe(ctx, fc), nil
		},
		Sink:   sink,
		Logger: logging.Discard(),
	})
	r.Start(context.Background())
	if err := r.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	events, done := sink.snapshot()
	if !slices.Equal(events, []string{"change", "complete"}) {
		t.Errorf("events = %v", events)
	}
	if done[0].Package != "core" || done[0].Command != batch.CommandBuild || done[0].Kind != config.KindLibrary {
		t.Errorf("Unexpected completion %+v", done[0])
	}
}

func TestChangesDuringBuildFoldIntoNextBuild(t *testing.T) {
	sink := newSink()
	fc := &fakeCompiler{gate: make(chan struct{})}
	watch := &fakeWatch{ch: make(chan []string, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(Options{
		Package: corePackage(),
		Command: batch.CommandWatch,
		Dial: func(ctx context.Context) (*worker.Client, error) {
			return worker.NewPipe(ctx, fc), nil
		},
		Sink:     sink,
		NewWatch: func() (Watch, error) { return watch, nil },
		Logger:   logging.Discard(),
	})
	r.Start(ctx)

	// first build is blocked; two change batches arrive meanwhile
	watch.ch <- []string{"/repo/packages/core/src/a.ts"}
	watch.ch <- []string{"/repo/packages/core/src/b.ts", "/repo/packages/core/src/a.ts"}
	time.Sleep(50 * time.Millisecond)
	fc.gate <- struct{}{}
	fc.gate <- struct{}{}
	done := sink.waitFor(t, 2)

	fc.mu.Lock()
	builds, invalidated := fc.builds, fc.invalidated
	fc.mu.Unlock()
	if builds != 2 {
		t.Errorf("Expected the held changes to produce exactly one more build, got %d builds", builds)
	}
	want := [][]string{{"/repo/packages/core/src/a.ts", "/repo/packages/core/src/b.ts"}}
	if len(invalidated) != 1 || !slices.Equal(invalidated[0], want[0]) {
		t.Errorf("invalidated = %v, want %v", invalidated, want)
	}
	events, _ := sink.snapshot()
	if !slices.Equal(events, []string{"change", "change", "complete", "complete"}) {
		t.Errorf("Expected the next change before the hand-off completion, got %v", events)
	}
	if done[1].Command != batch.CommandWatch {
		t.Errorf("Command = %q", done[1].Command)
	}
	watch.mu.Lock()
	files := watch.files
	watch.mu.Unlock()
	if len(files) != 1 {
		t.Errorf("Expected the watch set to be updated, got %v", files)
	}
}

func TestCrashBecomesErrorResult(t *testing.T) {
	sink := newSink()
	crashing := worker.HandlerFunc(func(ctx context.Context, method string, params json.RawMessage, emit worker.Emit) (any, error) {
		return nil, &worker.CrashError{}
	})
	r := New(Options{
		Package: corePackage(),
		Dial: func(ctx context.Context) (*worker.Client, error) {
			return worker.NewPipe(ctx, crashing), nil
		},
		Sink:   sink,
		Logger: logging.Discard(),
	})
	r.Start(context.Background())
	_ = r.Wait()
	_, done := sink.snapshot()
	if len(done) != 1 || !result.HasErrors(done[0].Results) {
		t.Fatalf("Expected one synthetic error result, got %+v", done)
	}
}

func TestWatcherReportsSettledChanges(t *testing.T) {
	root := t.TempDir()
	pkg := filepath.Join(root, "packages", "core")
	for _, dir := range []string{filepath.Join(pkg, "src"), filepath.Join(pkg, "dist")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	w, err := NewWatcher(root, nil, logging.Discard())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()
	if err := w.AddTree(pkg); err != nil {
		t.Fatalf("AddTree failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(pkg, "dist", "index.js"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(pkg, "src", "index.ts")
	if err := os.WriteFile(src, []byte("export {};\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case paths := <-w.Changes():
		if !slices.Equal(paths, []string{src}) {
			t.Errorf("Changes = %v, want only the source file", paths)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a change batch")
	}
}
