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
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"bennypowers.dev/monobuild/devserver"
	"bennypowers.dev/monobuild/fs"
)

// Server worker methods.
const (
	MethodStart        = "start"
	MethodSetPathProxy = "setPathProxy"
	MethodReload       = "reload"
	MethodStop         = "stop"
)

// StartParams configures a dev server. An empty Entry serves clients only.
type StartParams struct {
	Dir   string            `json:"dir,omitempty"`
	Entry string            `json:"entry,omitempty"`
	Port  int               `json:"port,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
}

// StartResult reports the listening port.
type StartResult struct {
	Port int `json:"port"`
}

// PathProxyParams maps client names to output directories.
type PathProxyParams struct {
	Proxy map[string]string `json:"proxy"`
}

// ReloadParams lists changed client files.
type ReloadParams struct {
	Files []string `json:"files"`
}

// ReloadResult reports how many pages were told to reload.
type ReloadResult struct {
	Clients int `json:"clients"`
}

// ServerHost is the server worker handler: a dev server in front of an
// optional node backend process.
type ServerHost struct {
	FS     fs.FileSystem
	Logger *slog.Logger
	// Node is the runtime used for the backend entry.
	Node string
	// ReadyTimeout bounds the wait for the backend port to accept.
	ReadyTimeout time.Duration

	mu      sync.Mutex
	dev     *devserver.Server
	backend *exec.Cmd
	exited  chan struct{}
	proxy   map[string]string
}

var _ Handler = (*ServerHost)(nil)

// Handle implements Handler.
func (s *ServerHost) Handle(ctx context.Context, method string, params json.RawMessage, emit Emit) (any, error) {
	switch method {
	case MethodStart:
		var p StartParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return s.Start(ctx, p, emit)
	case MethodSetPathProxy:
		var p PathProxyParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		s.SetPathProxy(p.Proxy)
		return nil, nil
	case MethodReload:
		var p ReloadParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return s.Reload(p.Files), nil
	case MethodStop:
		return nil, s.Stop(ctx)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
}

// Start launches the backend, if any, and the dev server.
func (s *ServerHost) Start(ctx context.Context, p StartParams, emit Emit) (*StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		return nil, errors.New("server already running")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var backendURL string
	if p.Entry != "" {
		port, err := freePort()
		if err != nil {
			return nil, err
		}
		node := s.Node
		if node == "" {
			node = "node"
		}
		// the backend outlives the start request, so it is not bound to ctx
		cmd := exec.Command(node, "--enable-source-maps", p.Entry)
		cmd.Dir = p.Dir
		cmd.Env = os.Environ()
		for _, k := range slices.Sorted(maps.Keys(p.Env)) {
			cmd.Env = append(cmd.Env, k+"="+p.Env[k])
		}
		cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", port))
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("starting backend: %w", err)
		}
		exited := make(chan struct{})
		go func() {
			err := cmd.Wait()
			close(exited)
			s.mu.Lock()
			current := s.backend == cmd
			s.mu.Unlock()
			if current {
				emit(EventError, map[string]string{"message": fmt.Sprintf("backend exited: %v", err)})
			}
		}()
		s.backend = cmd
		s.exited = exited
		backendURL = fmt.Sprintf("http://127.0.0.1:%d", port)
		if err := waitListening(ctx, port, s.readyTimeout(), exited); err != nil {
			s.stopBackendLocked()
			return nil, err
		}
	}

	dev, err := devserver.New(devserver.Options{Port: p.Port, Backend: backendURL, FS: s.FS, Logger: logger})
	if err != nil {
		s.stopBackendLocked()
		return nil, err
	}
	if err := dev.Start(); err != nil {
		s.stopBackendLocked()
		return nil, err
	}
	if s.proxy != nil {
		dev.SetPathProxy(s.proxy)
	}
	s.dev = dev
	res := &StartResult{Port: dev.Port()}
	emit(EventServerReady, res)
	return res, nil
}

func (s *ServerHost) readyTimeout() time.Duration {
	if s.ReadyTimeout > 0 {
		return s.ReadyTimeout
	}
	return 10 * time.Second
}

// SetPathProxy replaces the client path map.
func (s *ServerHost) SetPathProxy(proxy map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxy = maps.Clone(proxy)
	if s.dev != nil {
		s.dev.SetPathProxy(proxy)
	}
}

// Reload broadcasts changed files to connected pages.
func (s *ServerHost) Reload(files []string) *ReloadResult {
	s.mu.Lock()
	dev := s.dev
	s.mu.Unlock()
	if dev == nil {
		return &ReloadResult{}
	}
	return &ReloadResult{Clients: dev.Reload(files)}
}

// Stop shuts down the dev server and backend and returns once both have
// released their ports.
func (s *ServerHost) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.dev != nil {
		err = s.dev.Close(ctx)
		s.dev = nil
	}
	s.stopBackendLocked()
	return err
}

func (s *ServerHost) stopBackendLocked() {
	cmd, exited := s.backend, s.exited
	s.backend, s.exited = nil, nil
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
	}
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-exited
	}
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding a free port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// waitListening polls until port accepts connections.
func waitListening(ctx context.Context, port int, timeout time.Duration, exited <-chan struct{}) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return errors.New("backend exited before listening")
		case <-deadline:
			return fmt.Errorf("backend did not listen on %s within %s", addr, timeout)
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
			if err == nil {
				conn.Close()
				return nil
			}
		}
	}
}
