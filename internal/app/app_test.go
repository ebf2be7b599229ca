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
package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/internal/events"
	"bennypowers.dev/monobuild/internal/logging"
	"bennypowers.dev/monobuild/internal/output"
	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/testutil"
	"bennypowers.dev/monobuild/worker"
	"bennypowers.dev/monobuild/workspace"
)

func newSession(t *testing.T, buf *bytes.Buffer) *Session {
	t.Helper()
	mfs, cfg := testutil.NewWorkspace(t, "/repo",
		testutil.PackageSpec{Name: "core", Files: map[string]string{
			"src/index.ts":  "export const core = 1;\n",
			"src/broken.ts": "export const = ;\n",
		}},
		testutil.PackageSpec{Name: "app", Deps: []string{"core"}, Files: map[string]string{
			"src/index.ts": "export const app = 1;\n",
		}},
	)
	ws, err := workspace.Discover(mfs, cfg)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	return &Session{
		Root:      "/repo",
		Config:    cfg,
		Workspace: ws,
		Logger:    logging.Discard(),
		Output:    output.New(buf, output.FormatText),
		NewWorker: func(ctx context.Context, kind worker.Kind) (*worker.Client, error) {
			return worker.NewPipe(ctx, &worker.Compiler{
				FS:     mfs,
				Logger: logging.Discard(),
				LoadWorkspace: func(worker.InitOptions) (*workspace.Workspace, error) {
					return workspace.Discover(mfs, cfg)
				},
			}), nil
		},
	}
}

func TestRunPoolBuild(t *testing.T) {
	var buf bytes.Buffer
	s := newSession(t, &buf)
	mem := &events.Memory{}
	s.Events = mem

	pkgs, err := s.Select(nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	rep, err := s.RunPool(context.Background(), "build", worker.MethodBuild, pkgs, false)
	if err != nil {
		t.Fatalf("RunPool failed: %v", err)
	}
	if strings.Join(rep.Packages, ",") != "app,core" {
		t.Errorf("Packages = %v", rep.Packages)
	}
	if !rep.HasErrors() {
		t.Fatal("Expected the broken module to produce an error")
	}
	for _, r := range rep.Results {
		if r.Severity == result.SeverityError && !strings.HasSuffix(r.FilePath, "broken.ts") {
			t.Errorf("Unexpected error %+v", r)
		}
	}
	if rep.Seq != 1 || rep.ID == "" {
		t.Errorf("Unexpected report identity seq=%d id=%q", rep.Seq, rep.ID)
	}
	if len(mem.Published()) != 1 {
		t.Errorf("Expected the report to be published once, got %d", len(mem.Published()))
	}

	rep, err = s.RunPool(context.Background(), "build", worker.MethodBuild, []string{"app"}, false)
	if err != nil {
		t.Fatalf("RunPool failed: %v", err)
	}
	if rep.Seq != 2 || rep.HasErrors() {
		t.Errorf("Expected a clean second report, got seq=%d errors=%v", rep.Seq, rep.HasErrors())
	}
}

func TestSelectUnknown(t *testing.T) {
	s := newSession(t, &bytes.Buffer{})
	if _, err := s.Select([]string{"nope"}); err == nil {
		t.Error("Expected an error for an unknown target")
	}
}

func TestInitOptionsLint(t *testing.T) {
	s := newSession(t, &bytes.Buffer{})
	s.ConfigFile = "/repo/monobuild.yaml"
	s.Config.Lint = config.Tool{Command: "eslint"}
	opts := s.InitOptions("core", true)
	if !opts.Lint || opts.Package != "core" || opts.Root != "/repo" || opts.ConfigFile != "/repo/monobuild.yaml" {
		t.Errorf("Unexpected options %+v", opts)
	}
	s.Config.Lint.Disabled = true
	if s.InitOptions("core", true).Lint {
		t.Error("Disabled lint should not be requested")
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("package.json", `{"name":"root","private":true,"workspaces":["packages/*"]}`)
	write("packages/core/package.json", `{"name":"@test/core","version":"1.0.0"}`)
	write("monobuild.yaml", "packages:\n  core:\n    kind: library\n")

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set(KeyRoot, dir)
	viper.Set(KeyFormat, "json")
	viper.Set(KeyLogFile, filepath.Join(dir, "monobuild.log"))

	s, err := Open(context.Background(), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.Workspace.Package("core"); !ok {
		t.Error("Expected core to be discovered")
	}
	if s.NewWorker == nil || s.Metrics != nil || s.Events != nil {
		t.Error("Unexpected session collaborators")
	}

	viper.Set(KeyFormat, "yaml")
	if _, err := Open(context.Background(), &bytes.Buffer{}); err == nil {
		t.Error("Expected an unknown format to fail")
	}
}
