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
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bennypowers.dev/monobuild/batch"
	"bennypowers.dev/monobuild/config"
	"bennypowers.dev/monobuild/internal/logging"
	"bennypowers.dev/monobuild/result"
	"bennypowers.dev/monobuild/testutil"
	"bennypowers.dev/monobuild/workspace"
)

// clock orders lifecycle steps.
type clock struct {
	mu  sync.Mutex
	now int
}

func (c *clock) tick() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

type fakeHandle struct {
	clock   *clock
	port    int
	proxies []map[string]string
	reloads [][]string
	stopped int
	stopErr error
}

func (h *fakeHandle) Port() int { return h.port }

func (h *fakeHandle) SetPathProxy(_ context.Context, proxy map[string]string) error {
	h.proxies = append(h.proxies, proxy)
	return nil
}

func (h *fakeHandle) Reload(_ context.Context, files []string) error {
	h.reloads = append(h.reloads, files)
	return nil
}

func (h *fakeHandle) Stop(context.Context) error {
	h.stopped = h.clock.tick()
	return h.stopErr
}

type fakeLauncher struct {
	clock   *clock
	specs   []Spec
	starts  []int
	handles []*fakeHandle
	fail    bool
}

func (l *fakeLauncher) Launch(_ context.Context, spec Spec) (Handle, error) {
	l.starts = append(l.starts, l.clock.tick())
	l.specs = append(l.specs, spec)
	if l.fail {
		return nil, errors.New("port in use")
	}
	h := &fakeHandle{clock: l.clock, port: 50080 + len(l.handles)}
	l.handles = append(l.handles, h)
	return h, nil
}

func newManager(t *testing.T) (*Manager, *fakeLauncher, *workspace.Workspace) {
	t.Helper()
	mfs, cfg := testutil.NewWorkspace(t, "/repo",
		testutil.PackageSpec{Name: "api", Kind: config.KindServer, Config: config.Package{
			Port: 50080,
			Env:  []string{"TZ=UTC"},
		}, Files: map[string]string{".env": "SECRET=from-dotenv\nTZ=Asia/Seoul\n"}},
		testutil.PackageSpec{Name: "admin", Kind: config.KindClient, Config: config.Package{Server: "api"}},
		testutil.PackageSpec{Name: "shop", Kind: config.KindClient, Config: config.Package{Server: "api"}},
		testutil.PackageSpec{Name: "kiosk", Kind: config.KindClient},
		testutil.PackageSpec{Name: "portal", Kind: config.KindClient, Config: config.Package{ServerPort: 40000}},
		testutil.PackageSpec{Name: "core"},
	)
	ws, err := workspace.Discover(mfs, cfg)
	require.NoError(t, err)
	l := &fakeLauncher{clock: &clock{}}
	return New(ws, l, nil, logging.Discard()), l, ws
}

func built(pkg string, outputs ...string) batch.Completion {
	return batch.Completion{Command: batch.CommandWatch, Package: pkg, Outputs: outputs}
}

func TestServerRestartStopsBeforeStarting(t *testing.T) {
	m, l, _ := newManager(t)
	ctx := context.Background()

	m.Observe(built("api"))
	require.Empty(t, m.Pass(ctx))
	require.Len(t, l.handles, 1)

	m.Observe(built("api"))
	require.Empty(t, m.Pass(ctx))
	require.Len(t, l.handles, 2)

	first := l.handles[0]
	assert.NotZero(t, first.stopped, "old server must be stopped")
	assert.Less(t, first.stopped, l.starts[1], "stop must complete before the next start")
}

func TestServerEnvironment(t *testing.T) {
	m, l, ws := newManager(t)
	m.Observe(built("api"))
	m.Pass(context.Background())

	require.Len(t, l.specs, 1)
	spec := l.specs[0]
	api, _ := ws.Package("api")
	assert.Equal(t, api.Root, spec.Dir)
	assert.Equal(t, "/repo/packages/api/dist/index.js", spec.Entry)
	assert.Equal(t, 50080, spec.Port)
	assert.Equal(t, "UTC", spec.Env["TZ"], "configured env wins over .env")
	assert.Equal(t, "from-dotenv", spec.Env["SECRET"])
	assert.Equal(t, "development", spec.Env["NODE_ENV"])
	assert.NotEmpty(t, spec.Env["MONOBUILD_VERSION"])
}

func TestErroredServerBuildDoesNotRestart(t *testing.T) {
	m, l, _ := newManager(t)
	m.Observe(batch.Completion{Package: "api", Results: []result.Result{
		{Severity: result.SeverityError, Message: "bad", Source: result.SourceCompile},
	}})
	m.Pass(context.Background())
	assert.Empty(t, l.starts)
}

func TestClientsMergeProxiesAndReloadOnlyOnChange(t *testing.T) {
	m, l, ws := newManager(t)
	ctx := context.Background()

	m.Observe(built("api"))
	m.Observe(built("admin", "/repo/packages/admin/dist/index.js", "/repo/packages/admin/dist/index.js.map"))
	m.Observe(built("shop"))
	m.Pass(ctx)

	require.Len(t, l.handles, 1, "clients behind a server share it")
	h := l.handles[0]
	require.Len(t, h.proxies, 1)
	assert.Equal(t, map[string]string{
		"admin":         "/repo/packages/admin/dist",
		"shop":          "/repo/packages/shop/dist",
		NodeModulesPath: ws.NodeModules(),
	}, h.proxies[0])
	require.Len(t, h.reloads, 1)
	assert.Equal(t, []string{"admin/index.js"}, h.reloads[0])

	m.Observe(built("shop"))
	m.Pass(ctx)
	assert.Len(t, h.proxies, 2, "proxy map is pushed every pass")
	assert.Len(t, h.reloads, 1, "no reload without new client output")
	assert.Len(t, l.handles, 1, "client builds do not restart the server")
}

func TestAdHocAndPortRuntimes(t *testing.T) {
	m, l, _ := newManager(t)
	ctx := context.Background()

	m.Observe(built("kiosk", "/repo/packages/kiosk/dist/index.js"))
	m.Observe(built("portal"))
	m.Observe(built("core"))
	m.Pass(ctx)

	require.Len(t, l.specs, 2)
	assert.Equal(t, "kiosk", l.specs[0].Key)
	assert.Empty(t, l.specs[0].Entry, "ad-hoc runtimes serve the client only")
	assert.Equal(t, "port:40000", l.specs[1].Key)
	assert.Equal(t, 40000, l.specs[1].Port)

	m.Observe(built("kiosk", "/repo/packages/kiosk/dist/index.js"))
	m.Pass(ctx)
	assert.Len(t, l.specs, 2, "client-only runtimes start once")
	assert.Len(t, l.handles[0].reloads, 2)

	assert.Len(t, m.Runtimes(), 2)
	require.NoError(t, m.Close(ctx))
	assert.NotZero(t, l.handles[0].stopped)
	assert.NotZero(t, l.handles[1].stopped)
}

func TestLaunchFailureIsReported(t *testing.T) {
	m, l, _ := newManager(t)
	l.fail = true
	m.Observe(built("api"))
	failures := m.Pass(context.Background())
	require.Len(t, failures, 1)
	assert.Equal(t, "api", failures[0].FilePath)
	assert.Equal(t, result.SourceBundle, failures[0].Source)
	assert.Equal(t, result.SeverityError, failures[0].Severity)
}

func TestStopFailureHoldsRestart(t *testing.T) {
	m, l, _ := newManager(t)
	ctx := context.Background()

	m.Observe(built("api"))
	require.Empty(t, m.Pass(ctx))
	require.Len(t, l.handles, 1)

	l.handles[0].stopErr = errors.New("still listening")
	m.Observe(built("api"))
	failures := m.Pass(ctx)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Message, "still listening")
	assert.Len(t, l.starts, 1, "nothing may start while the old server is up")

	l.handles[0].stopErr = nil
	require.Empty(t, m.Pass(ctx))
	require.Len(t, l.handles, 2, "the pending restart runs on the next pass")
	assert.Less(t, l.handles[0].stopped, l.starts[1])
}
