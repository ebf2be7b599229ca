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
	"log/slog"

	"bennypowers.dev/monobuild/internal/logging"
	"bennypowers.dev/monobuild/worker"
)

// WorkerLauncher runs each dev server in its own server worker.
type WorkerLauncher struct {
	Dial   func(ctx context.Context) (*worker.Client, error)
	Logger *slog.Logger
}

var _ Launcher = (*WorkerLauncher)(nil)

// Launch starts a server worker and waits for it to listen.
func (l *WorkerLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client, err := l.Dial(ctx)
	if err != nil {
		return nil, err
	}
	var res worker.StartResult
	params := worker.StartParams{Dir: spec.Dir, Entry: spec.Entry, Port: spec.Port, Env: spec.Env}
	if err := client.Call(ctx, worker.MethodStart, params, &res); err != nil {
		client.Close()
		return nil, err
	}
	go func() {
		for ev := range client.Events() {
			if ev.Name != worker.EventError {
				continue
			}
			var data map[string]string
			_ = ev.Decode(&data)
			logger.Error("dev server error", logging.KeyServer, spec.Key, "message", data["message"])
		}
	}()
	return &workerHandle{client: client, port: res.Port}, nil
}

type workerHandle struct {
	client *worker.Client
	port   int
}

func (h *workerHandle) Port() int {
	return h.port
}

func (h *workerHandle) SetPathProxy(ctx context.Context, proxy map[string]string) error {
	return h.client.Call(ctx, worker.MethodSetPathProxy, worker.PathProxyParams{Proxy: proxy}, nil)
}

func (h *workerHandle) Reload(ctx context.Context, files []string) error {
	return h.client.Call(ctx, worker.MethodReload, worker.ReloadParams{Files: files}, nil)
}

// Stop waits for the server to stop, then for the worker to exit.
func (h *workerHandle) Stop(ctx context.Context) error {
	err := h.client.Call(ctx, worker.MethodStop, nil, nil)
	if closeErr := h.client.Close(); err == nil {
		err = closeErr
	}
	return err
}
