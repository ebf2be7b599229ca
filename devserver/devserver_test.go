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
package devserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bennypowers.dev/monobuild/testutil"
)

func newTestServer(t *testing.T, backend string) (*Server, *httptest.Server) {
	t.Helper()
	mfs := testutil.NewFS(t, map[string]string{
		"/repo/packages/app/dist/index.html": "<!doctype html><html><head></head><body><h1>app</h1></body></html>",
		"/repo/packages/app/dist/main.js":    "console.log(1);\n",
	})
	s, err := New(Options{FS: mfs, Backend: backend})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s.SetPathProxy(map[string]string{"app": "/repo/packages/app/dist"})
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServeStaticInjectsReload(t *testing.T) {
	_, ts := newTestServer(t, "")

	status, body := get(t, ts.URL+"/app/")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !strings.Contains(body, "<h1>app</h1>") || !strings.Contains(body, ReloadPath) {
		t.Errorf("Expected page with reload script, got %s", body)
	}

	status, body = get(t, ts.URL+"/app/main.js")
	if status != http.StatusOK || body != "console.log(1);\n" {
		t.Errorf("GET main.js = %d %q", status, body)
	}

	if status, _ := get(t, ts.URL+"/app/../../secret"); status != http.StatusNotFound {
		t.Errorf("Expected traversal to be contained, got %d", status)
	}
	if status, _ := get(t, ts.URL+"/other/"); status != http.StatusNotFound {
		t.Errorf("Expected 404 without backend, got %d", status)
	}
}

func TestBackendProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "backend:"+r.URL.Path)
	}))
	defer backend.Close()
	_, ts := newTestServer(t, backend.URL)

	status, body := get(t, ts.URL+"/api/users")
	if status != http.StatusOK || body != "backend:/api/users" {
		t.Errorf("GET /api/users = %d %q", status, body)
	}
	if _, body := get(t, ts.URL+"/app/main.js"); body != "console.log(1);\n" {
		t.Errorf("Proxy map should win over backend, got %q", body)
	}
}

func TestReloadBroadcast(t *testing.T) {
	s, ts := newTestServer(t, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + ReloadPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := s.Reload([]string{"main.js"}); n != 1 {
		t.Fatalf("Reload reached %d pages, want 1", n)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ReloadMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Type != "reload" || !slices.Equal(msg.Files, []string{"main.js"}) {
		t.Errorf("Unexpected message %+v", msg)
	}
}

func TestStartAndClose(t *testing.T) {
	s, err := New(Options{FS: testutil.NewFS(t, nil)})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	port := s.Port()
	if port == 0 {
		t.Fatal("Expected an assigned port")
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// the port is free again once Close returns
	again, _ := New(Options{Port: port, FS: testutil.NewFS(t, nil)})
	if err := again.Start(); err != nil {
		t.Fatalf("Port %d not released: %v", port, err)
	}
	_ = again.Close(context.Background())
}

func TestInjectReloadWithoutBody(t *testing.T) {
	out, err := InjectReload([]byte("<p>fragment</p>"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `data-monobuild="reload"`) {
		t.Errorf("Expected reload script, got %s", out)
	}
}
