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

// Package devserver serves client bundles during watch builds.
//
// The first path segment of a request selects a client from the path-proxy
// map and is served from that client's output directory, with a reload
// script injected into HTML pages. Everything else is forwarded to the
// backend server process when there is one.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bennypowers.dev/monobuild/fs"
)

// Options configures a Server.
type Options struct {
	// Port to listen on; zero picks a free port.
	Port int
	// Backend is the URL requests outside the proxy map are forwarded to.
	Backend string
	FS      fs.FileSystem
	Logger  *slog.Logger
}

// Server is the dev HTTP server.
type Server struct {
	opts    Options
	logger  *slog.Logger
	hub     *Hub
	backend *httputil.ReverseProxy

	mu      sync.RWMutex
	proxies map[string]string

	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// New creates a server that is not yet listening.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FS == nil {
		opts.FS = fs.NewOSFileSystem()
	}
	s := &Server{
		opts:    opts,
		logger:  logger,
		hub:     NewHub(logger),
		proxies: make(map[string]string),
	}
	if opts.Backend != "" {
		target, err := url.Parse(opts.Backend)
		if err != nil {
			return nil, fmt.Errorf("parsing backend url: %w", err)
		}
		s.backend = httputil.NewSingleHostReverseProxy(target)
		s.backend.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Debug("backend unavailable", "path", r.URL.Path, "error", err)
			http.Error(w, "backend unavailable", http.StatusBadGateway)
		}
	}
	return s, nil
}

// Start begins listening.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.opts.Port, err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dev server stopped", "error", err)
		}
	}()
	return nil
}

// Port is the port the server listens on.
func (s *Server) Port() int {
	if s.ln == nil {
		return s.opts.Port
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// SetPathProxy replaces the client path map: name to output directory.
func (s *Server) SetPathProxy(proxies map[string]string) {
	next := make(map[string]string, len(proxies))
	for k, v := range proxies {
		next[strings.Trim(k, "/")] = v
	}
	s.mu.Lock()
	s.proxies = next
	s.mu.Unlock()
}

// Reload tells connected pages that files changed.
func (s *Server) Reload(files []string) int {
	return s.hub.Broadcast(files)
}

// Close shuts the server down and returns once the port is released.
func (s *Server) Close(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.hub.Close()
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == ReloadPath {
		s.hub.ServeHTTP(w, r)
		return
	}

	name, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	s.mu.RLock()
	dir, ok := s.proxies[name]
	s.mu.RUnlock()
	if ok {
		s.serveStatic(w, r, dir, rest)
		return
	}
	if s.backend != nil {
		s.backend.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, dir, rel string) {
	clean := path.Clean("/" + rel)
	file := filepath.Join(dir, filepath.FromSlash(clean))
	if info, err := s.opts.FS.Stat(file); err == nil && info.IsDir() {
		file = filepath.Join(file, "index.html")
	}
	data, err := s.opts.FS.ReadFile(file)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	ext := filepath.Ext(file)
	if ext == ".html" {
		if injected, err := InjectReload(data); err == nil {
			data = injected
		}
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}
