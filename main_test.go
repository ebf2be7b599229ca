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
package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestMain(m *testing.M) {
	// Build the binary before running tests
	wd := mustGetwd()
	cmd := exec.Command("go", "build", "-o", "monobuild_test", ".")
	cmd.Dir = wd
	if out, err := cmd.CombinedOutput(); err != nil {
		panic("failed to build test binary: " + err.Error() + "\n" + string(out))
	}
	code := m.Run()
	_ = os.Remove(filepath.Join(wd, "monobuild_test"))
	os.Exit(code)
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return wd
}

func runCLI(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()
	binary := filepath.Join(mustGetwd(), "monobuild_test")
	cmd := exec.Command(binary, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			t.Fatalf("Failed to run CLI: %v", err)
		}
	}

	return stdout, stderr, exitCode
}

// writeWorkspace lays out a one-package workspace with linting disabled.
func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	base := map[string]string{
		"package.json":               `{"name":"root","private":true,"workspaces":["packages/*"]}`,
		"packages/core/package.json": `{"name":"@test/core","version":"1.0.0"}`,
		"monobuild.yaml":             "packages:\n  core:\n    kind: library\nlint:\n  disabled: true\n",
	}
	for rel, content := range files {
		base[rel] = content
	}
	for rel, content := range base {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestBuild(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"packages/core/src/index.ts": "export const n: number = 1;\n",
	})

	stdout, stderr, code := runCLI(t, "build", "--root", dir, "--format", "json")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}

	var report struct {
		Packages []string `json:"packages"`
		Results  []any    `json:"results"`
	}
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("Failed to parse JSON output: %v\nstdout: %s", err, stdout)
	}
	if len(report.Packages) != 1 || report.Packages[0] != "core" {
		t.Errorf("Unexpected packages %v", report.Packages)
	}

	out, err := os.ReadFile(filepath.Join(dir, "packages", "core", "dist", "index.js"))
	if err != nil {
		t.Fatalf("Expected emitted output: %v", err)
	}
	if strings.Contains(string(out), "number") {
		t.Errorf("Expected types to be stripped, got %q", out)
	}
}

func TestBuildErrorsExitNonZero(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"packages/core/src/index.ts": "export const = ;\n",
	})

	stdout, _, code := runCLI(t, "build", "--root", dir)
	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if !strings.Contains(stdout, "index.ts") {
		t.Errorf("Expected the failing file in the report, got: %s", stdout)
	}
}

func TestBuildUnknownTarget(t *testing.T) {
	dir := writeWorkspace(t, nil)
	_, stderr, code := runCLI(t, "build", "--root", dir, "nope")
	if code == 0 {
		t.Error("Expected non-zero exit code for an unknown package")
	}
	if !strings.Contains(stderr, "nope") {
		t.Errorf("Expected the unknown package in the error, got: %s", stderr)
	}
}

func TestMissingConfig(t *testing.T) {
	_, stderr, code := runCLI(t, "build", "--root", t.TempDir())
	if code == 0 {
		t.Error("Expected non-zero exit code without a config file")
	}
	if !strings.Contains(stderr, "configuration not found") {
		t.Errorf("Expected missing config error, got: %s", stderr)
	}
}

func TestVersion(t *testing.T) {
	stdout, _, code := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}
	if !strings.HasPrefix(stdout, "monobuild ") {
		t.Errorf("Unexpected version output %q", stdout)
	}

	stdout, _, code = runCLI(t, "version", "--format", "json")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}
	var info map[string]any
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}
	if info["version"] == nil || info["goVersion"] == nil {
		t.Errorf("Unexpected version info %v", info)
	}
}

func TestHelp(t *testing.T) {
	stdout, _, code := runCLI(t, "--help")
	if code != 0 {
		t.Fatalf("Expected exit code 0 for help, got %d", code)
	}

	expectedStrings := []string{
		"monobuild",
		"build",
		"watch",
		"typecheck",
		"publish",
		"--root",
		"--log-file",
	}

	for _, s := range expectedStrings {
		if !strings.Contains(stdout, s) {
			t.Errorf("Expected %q in help output", s)
		}
	}
	if strings.Contains(stdout, "worker") {
		t.Error("The worker command should be hidden")
	}
}

func TestPublishHelp(t *testing.T) {
	stdout, _, code := runCLI(t, "publish", "--help")
	if code != 0 {
		t.Fatalf("Expected exit code 0 for help, got %d", code)
	}
	for _, s := range []string{"--dry-run", "--no-build"} {
		if !strings.Contains(stdout, s) {
			t.Errorf("Expected %q in publish help output", s)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, stderr, code := runCLI(t, "unknown")
	if code == 0 {
		t.Error("Expected non-zero exit code for unknown command")
	}

	if !strings.Contains(stderr, "unknown command") {
		t.Errorf("Expected 'unknown command' error, got: %s", stderr)
	}
}
