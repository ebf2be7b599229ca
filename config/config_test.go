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
package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bennypowers.dev/monobuild/config"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return dir
}

func TestLoadYAML(t *testing.T) {
	dir := writeConfig(t, "monobuild.yaml", `
packages:
  core:
    kind: library
    publish:
      type: npm
  api:
    kind: server
    port: 50080
    env:
      - TZ=Asia/Seoul
      - API_KEY="quoted value"
  admin:
    kind: client
    server: api
debounce:
  steady: 150ms
postPublish:
  - cmd: echo
    args: ["done", "%VER%"]
`)

	cfg, err := config.Load(dir, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.PackageNames(); strings.Join(got, ",") != "admin,api,core" {
		t.Errorf("PackageNames() = %v", got)
	}
	if cfg.Debounce.Initial != time.Second {
		t.Errorf("Expected default initial debounce of 1s, got %v", cfg.Debounce.Initial)
	}
	if cfg.Debounce.Steady != 150*time.Millisecond {
		t.Errorf("Expected steady debounce of 150ms, got %v", cfg.Debounce.Steady)
	}
	if cfg.Publish.Attempts != 3 || cfg.Publish.Backoff != 5*time.Second {
		t.Errorf("Unexpected publish defaults: %+v", cfg.Publish)
	}

	admin, _ := cfg.Package("admin")
	if admin.Kind != config.KindClient || admin.Server != "api" {
		t.Errorf("Unexpected admin config: %+v", admin)
	}

	api, _ := cfg.Package("api")
	env, err := api.Environment()
	if err != nil {
		t.Fatalf("Environment failed: %v", err)
	}
	if env["TZ"] != "Asia/Seoul" || env["API_KEY"] != "quoted value" {
		t.Errorf("Unexpected env: %v", env)
	}
	if len(cfg.PostPublish) != 1 || cfg.PostPublish[0].Cmd != "echo" {
		t.Errorf("Unexpected postPublish: %+v", cfg.PostPublish)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := writeConfig(t, "monobuild.toml", `
[packages.core]
kind = "library"

[publish]
allowCycles = true
`)
	cfg, err := config.Load(dir, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Publish.AllowCycles {
		t.Error("Expected allowCycles to be true")
	}
}

func TestLoadNotFound(t *testing.T) {
	_, err := config.Load(t.TempDir(), "")
	if !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown kind",
			yaml:    "packages:\n  a:\n    kind: widget\n",
			wantErr: `unknown kind "widget"`,
		},
		{
			name:    "unknown server",
			yaml:    "packages:\n  a:\n    kind: client\n    server: nope\n",
			wantErr: `unknown server package "nope"`,
		},
		{
			name:    "server is not a server",
			yaml:    "packages:\n  lib:\n    kind: library\n  a:\n    kind: client\n    server: lib\n",
			wantErr: `"lib" is not a server package`,
		},
		{
			name:    "publish path required",
			yaml:    "packages:\n  a:\n    kind: library\n    publish:\n      type: local-directory\n",
			wantErr: "local-directory publish needs a path",
		},
		{
			name:    "unknown publish type",
			yaml:    "packages:\n  a:\n    kind: library\n    publish:\n      type: ftp\n",
			wantErr: `unknown publish type "ftp"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, "monobuild.yaml", tt.yaml)
			_, err := config.Load(dir, "")
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestKindBundled(t *testing.T) {
	for kind, want := range map[config.Kind]bool{
		config.KindLibrary: false,
		config.KindScripts: false,
		config.KindServer:  true,
		config.KindClient:  true,
	} {
		if got := kind.Bundled(); got != want {
			t.Errorf("%s.Bundled() = %v, want %v", kind, got, want)
		}
	}
}
