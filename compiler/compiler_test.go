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
package compiler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"bennypowers.dev/monobuild/deps"
	"bennypowers.dev/monobuild/internal/proc"
	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/testutil"
	"bennypowers.dev/monobuild/workspace"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	mfs, cfg := testutil.NewWorkspace(t, "/repo",
		testutil.PackageSpec{
			Name: "core",
			Files: map[string]string{
				"src/index.ts":      "export const core = 1;\n",
				"src/util/index.ts": "export {};\n",
				"src/legacy.d.ts":   "export declare const x: number;\n",
				"src/comp.tsx":      "export const C = () => null;\n",
				"src/plain.js":      "export const plain = 1;\n",
			},
		},
		testutil.PackageSpec{Name: "app", Deps: []string{"core"}},
	)
	mfs.AddFile("/repo/packages/core/package.json", `{
  "name": "@test/core",
  "version": "1.0.0",
  "exports": {
    ".": { "source": "./src/index.ts", "default": "./dist/index.js" },
    "./comp.js": { "source": "./src/comp.tsx" }
  }
}`, 0644)
	mfs.AddFile("/repo/node_modules/lit/package.json", `{"name":"lit","version":"3.0.0"}`, 0644)
	ws, err := workspace.Discover(mfs, cfg)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	return NewResolver(mfs, ws)
}

func TestResolve(t *testing.T) {
	r := newResolver(t)
	from := "/repo/packages/core/src/index.ts"

	tests := []struct {
		name      string
		specifier string
		expected  string
	}{
		{"js extension maps to ts", "./index.js", "/repo/packages/core/src/index.ts"},
		{"directory index", "./util", "/repo/packages/core/src/util/index.ts"},
		{"declaration for js", "./legacy.js", "/repo/packages/core/src/legacy.d.ts"},
		{"jsx maps to tsx", "./comp.js", "/repo/packages/core/src/comp.tsx"},
		{"plain js", "./plain.js", "/repo/packages/core/src/plain.js"},
		{"workspace package", "@test/core", "/repo/packages/core/src/index.ts"},
		{"workspace subpath", "@test/core/comp.js", "/repo/packages/core/src/comp.tsx"},
		{"node_modules is external", "lit", ""},
		{"node builtin", "node:fs", ""},
		{"bare builtin", "path", ""},
		{"url", "https://esm.sh/x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.specifier, from)
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.specifier, err)
			}
			if got != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.specifier, got, tt.expected)
			}
		})
	}
}

func TestResolveUnresolved(t *testing.T) {
	r := newResolver(t)
	from := "/repo/packages/core/src/index.ts"
	for _, spec := range []string{"./missing.js", "not-installed", "@test/core/private.js"} {
		if _, err := r.Resolve(spec, from); !errors.Is(err, deps.ErrUnresolved) {
			t.Errorf("Resolve(%q) error = %v, want ErrUnresolved", spec, err)
		}
	}
}

func TestGetPackageName(t *testing.T) {
	tests := map[string]string{
		"lit":                    "lit",
		"lit/decorators.js":      "lit",
		"@scope/pkg":             "@scope/pkg",
		"@scope/pkg/sub/path.js": "@scope/pkg",
	}
	for spec, want := range tests {
		if got := getPackageName(spec); got != want {
			t.Errorf("getPackageName(%q) = %q, want %q", spec, got, want)
		}
	}
}

func TestEmit(t *testing.T) {
	mfs := testutil.NewFS(t, map[string]string{
		"/pkg/src/index.ts":  "export const n: number = 1;\nexport type T = string;\n",
		"/pkg/src/broken.ts": "export const = ;\n",
	})
	p := NewProgram(mfs, NewResolver(mfs, nil), Options{
		SrcDir:    "/pkg/src",
		OutDir:    "/pkg/dist",
		SourceMap: true,
	})

	outputs, diags, err := p.Emit("/pkg/src/index.ts")
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(diags) != 0 {
		t.Errorf("Unexpected diagnostics %v", diags)
	}
	if len(outputs) != 2 {
		t.Fatalf("Expected code and map outputs, got %d", len(outputs))
	}
	if outputs[0].OutputPath != "/pkg/dist/index.js" || outputs[1].OutputPath != "/pkg/dist/index.js.map" {
		t.Errorf("Unexpected output paths %q %q", outputs[0].OutputPath, outputs[1].OutputPath)
	}
	if strings.Contains(outputs[0].Text, "number") || !strings.Contains(outputs[0].Text, "sourceMappingURL=index.js.map") {
		t.Errorf("Unexpected emitted code %q", outputs[0].Text)
	}

	outputs, diags, err = p.Emit("/pkg/src/broken.ts")
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if outputs != nil {
		t.Error("Expected no outputs for a file with errors")
	}
	if !result.HasErrors(diags) || diags[0].Line != 1 {
		t.Errorf("Expected a located compile error, got %v", diags)
	}
}

func TestOutputPath(t *testing.T) {
	p := NewProgram(nil, nil, Options{SrcDir: "/pkg/src", OutDir: "/pkg/dist"})
	tests := map[string]string{
		"/pkg/src/a/b.ts":    "/pkg/dist/a/b.js",
		"/pkg/src/mod.mts":   "/pkg/dist/mod.mjs",
		"/pkg/src/c.tsx":     "/pkg/dist/c.js",
		"/elsewhere/file.ts": "",
	}
	for in, want := range tests {
		if got := p.OutputPath(in); got != want {
			t.Errorf("OutputPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTSC(t *testing.T) {
	output := []byte(`src/index.ts(3,7): error TS2322: Type 'string' is not assignable to type 'number'.
  The expected type comes from property 'n'.
/abs/other.ts(10,1): error TS2304: Cannot find name 'foo'.
Found 2 errors.
`)
	results := ParseTSC(output, "/pkg")
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	first := results[0]
	if first.FilePath != "/pkg/src/index.ts" || first.Line != 3 || first.Char != 7 || first.Code != "TS2322" {
		t.Errorf("Unexpected first result %+v", first)
	}
	if !strings.Contains(first.Message, "expected type comes from") {
		t.Errorf("Expected continuation line in message, got %q", first.Message)
	}
	if results[1].FilePath != "/abs/other.ts" {
		t.Errorf("Unexpected path %q", results[1].FilePath)
	}
}

func TestTypeCheckerToolError(t *testing.T) {
	tc := &TypeChecker{
		Command: "tsc",
		Args:    []string{"--noEmit", "-p"},
		Runner: proc.RunnerFunc(func(ctx context.Context, cmd proc.Cmd) (*proc.Output, error) {
			if got := cmd.String(); got != "tsc --noEmit -p /pkg" {
				t.Errorf("Unexpected command %q", got)
			}
			return &proc.Output{ExitCode: 1, Stderr: []byte("error TS5058: The specified path does not exist")}, nil
		}),
	}
	_, err := tc.Check(context.Background(), "/pkg")
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("Expected ToolError, got %v", err)
	}
	if toolErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d", toolErr.ExitCode)
	}
}

func TestTypeCheckerDiagnostics(t *testing.T) {
	tc := &TypeChecker{
		Command: "tsc",
		Runner: proc.RunnerFunc(func(ctx context.Context, cmd proc.Cmd) (*proc.Output, error) {
			return &proc.Output{ExitCode: 2, Stdout: []byte("a.ts(1,1): error TS1005: ';' expected.\n")}, nil
		}),
	}
	results, err := tc.Check(context.Background(), "/pkg")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(results) != 1 || results[0].Severity != result.SeverityError {
		t.Errorf("Unexpected results %v", results)
	}
}
