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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/internal/logging"
	"bennypowers.dev/monobuild/internal/proc"
	"bennypowers.dev/monobuild/registry"
	"bennypowers.dev/monobuild/testutil"
	"bennypowers.dev/monobuild/workspace"
)

func TestBump(t *testing.T) {
	tests := map[string]string{
		"1.0.0":          "1.0.1",
		"2.3.9":          "2.3.10",
		"1.2.3-beta.1":   "1.2.3-beta.2",
		"1.0.0-beta":     "1.0.0-beta.0",
		"1.0.0-rc.1.pre": "1.0.0-rc.2.pre",
		"1.0.0-7":        "1.0.0-8",
		"1.0.0+build.5":  "1.0.1",
	}
	for in, want := range tests {
		got, err := Bump(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := Bump("not-a-version")
	assert.Error(t, err)
}

func TestDistTag(t *testing.T) {
	assert.Equal(t, "beta", DistTag("1.0.0-beta.1"))
	assert.Equal(t, "", DistTag("1.0.0-1"))
	assert.Equal(t, "", DistTag("1.0.0"))
}

func TestSubstitute(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "DEPLOY_ROOT" {
			return "/srv", true
		}
		return "", false
	}
	got, err := Substitute("%DEPLOY_ROOT%/app-%VER%/%PROJECT%", "1.2.0", "/repo", lookup)
	require.NoError(t, err)
	assert.Equal(t, "/srv/app-1.2.0//repo", got)

	_, err = Substitute("%MISSING%/x", "1.2.0", "/repo", lookup)
	assert.ErrorContains(t, err, "MISSING")
}

func TestWriteVersion(t *testing.T) {
	mfs, cfg := testutil.NewWorkspace(t, "/repo",
		testutil.PackageSpec{Name: "core"},
		testutil.PackageSpec{Name: "app", Deps: []string{"core"}},
	)
	mfs.AddFile("/repo/packages/docs/package.json", `{"name":"@test/docs","version":"1.0.0"}`, 0644)
	ws, err := workspace.Discover(mfs, cfg)
	require.NoError(t, err)

	written, err := WriteVersion(mfs, ws, "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/repo/package.json",
		"/repo/packages/app/package.json",
		"/repo/packages/core/package.json",
		"/repo/packages/docs/package.json",
	}, written)

	app, err := mfs.ReadFile("/repo/packages/app/package.json")
	require.NoError(t, err)
	assert.Contains(t, string(app), `"version": "1.0.1"`)
	assert.Contains(t, string(app), `"@test/core": "^1.0.1"`)
}

type fakeFetcher map[string]string

func (f fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if body, ok := f[url]; ok {
		return []byte(body), nil
	}
	return nil, &registry.FetchError{URL: url, StatusCode: 404}
}

func corePackage() *workspace.Package {
	return &workspace.Package{Name: "core", ManifestName: "@test/core", Root: "/repo/packages/core"}
}

func TestNPMSkipsPublishedVersion(t *testing.T) {
	reg := registry.New(fakeFetcher{
		"https://npm.example/@test%2fcore": `{"name":"@test/core","versions":{"1.0.1":{"version":"1.0.1"}}}`,
	}, "https://npm.example")
	var commands []string
	runner := proc.RunnerFunc(func(ctx context.Context, cmd proc.Cmd) (*proc.Output, error) {
		commands = append(commands, cmd.String())
		return &proc.Output{}, nil
	})
	target, err := NewTarget(config.Publish{Type: config.PublishNPM}, Env{Runner: runner, Registry: reg, Logger: logging.Discard()})
	require.NoError(t, err)

	err = target.Publish(context.Background(), Request{Package: corePackage(), Version: "1.0.1"})
	assert.True(t, errors.Is(err, ErrAlreadyPublished))
	assert.Empty(t, commands)

	require.NoError(t, target.Publish(context.Background(), Request{Package: corePackage(), Version: "1.0.2-beta.0"}))
	assert.Equal(t, []string{"npm publish --access public --tag beta"}, commands)
}

func TestNPMFailureIsCommandError(t *testing.T) {
	runner := proc.RunnerFunc(func(ctx context.Context, cmd proc.Cmd) (*proc.Output, error) {
		return &proc.Output{ExitCode: 1, Stderr: []byte("E403 forbidden")}, nil
	})
	target := &NPM{Runner: runner, Logger: logging.Discard()}
	err := target.Publish(context.Background(), Request{Package: corePackage(), Version: "1.0.1", DryRun: true})
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "npm publish --access public --dry-run", cmdErr.Command)
}

func TestLocalDirectoryCopiesOutput(t *testing.T) {
	mfs := testutil.NewFS(t, map[string]string{
		"/repo/packages/core/dist/index.js": "export {};\n",
		"/repo/packages/core/dist/lib/a.js": "export const a = 1;\n",
		"/repo/packages/core/src/index.ts":  "export {};\n",
	})
	target, err := NewTarget(config.Publish{Type: config.PublishLocalDirectory, Path: "out/%VER%"}, Env{FS: mfs, Logger: logging.Discard()})
	require.NoError(t, err)

	require.NoError(t, target.Publish(context.Background(), Request{Package: corePackage(), Version: "2.0.0", Project: "/repo", DryRun: true}))
	assert.False(t, mfs.Exists("/repo/out/2.0.0/index.js"))

	require.NoError(t, target.Publish(context.Background(), Request{Package: corePackage(), Version: "2.0.0", Project: "/repo"}))
	assert.True(t, mfs.Exists("/repo/out/2.0.0/index.js"))
	assert.True(t, mfs.Exists("/repo/out/2.0.0/lib/a.js"))
	assert.False(t, mfs.Exists("/repo/out/2.0.0/src/index.ts"))
}

func TestSCPCommand(t *testing.T) {
	target := &SCP{
		Config: config.Publish{Type: config.PublishSCP, Host: "deploy.example", User: "ci", Port: 2222, Path: "/var/www/%VER%"},
		Lookup: func(string) (string, bool) { return "", false },
	}
	cmd, err := target.Cmd(Request{Package: corePackage(), Version: "1.4.0"})
	require.NoError(t, err)
	assert.Equal(t, "scp -r -B -P 2222 /repo/packages/core/dist/. ci@deploy.example:/var/www/1.4.0", cmd.String())
}
