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
package runner

import (
	"bufio"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"
)

// debounce is how long a path must stay quiet before it is reported.
const debounce = 100 * time.Millisecond

// Watch reports settled file changes.
type Watch interface {
	// Changes delivers batches of changed paths.
	Changes() <-chan []string
	// SetFiles replaces the set of individually watched files.
	SetFiles(files []string) error
	Close() error
}

// Watcher watches package trees recursively plus individual files, such as
// sources of other packages reached through imports.
type Watcher struct {
	root    string
	ignore  *ignore.GitIgnore
	fw      *fsnotify.Watcher
	logger  *slog.Logger
	changes chan []string
	stop    chan struct{}
	done    chan struct{}

	mu    sync.Mutex
	trees []string
	files map[string]bool
	dirs  map[string]bool
}

var _ Watch = (*Watcher)(nil)

// NewWatcher creates a watcher. root is the workspace root that relative
// ignore rules apply to; ign may be nil.
func NewWatcher(root string, ign *ignore.GitIgnore, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		root:    root,
		ignore:  ign,
		fw:      fw,
		logger:  logger,
		changes: make(chan []string, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		files:   make(map[string]bool),
		dirs:    make(map[string]bool),
	}
	go w.loop()
	return w, nil
}

// LoadIgnore reads root/.gitignore. A missing file yields nil rules.
func LoadIgnore(root string) *ignore.GitIgnore {
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(lines...)
}

// AddTree watches every directory under dir that is not excluded.
func (w *Watcher) AddTree(dir string) error {
	w.mu.Lock()
	w.trees = append(w.trees, dir)
	w.mu.Unlock()
	return w.addDirs(dir)
}

func (w *Watcher) addDirs(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.excluded(path) {
			return filepath.SkipDir
		}
		return w.addDir(path)
	})
}

func (w *Watcher) addDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return nil
	}
	if err := w.fw.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	return nil
}

// SetFiles implements Watch. Parent directories are watched as needed.
func (w *Watcher) SetFiles(files []string) error {
	next := make(map[string]bool, len(files))
	for _, f := range files {
		next[f] = true
	}
	w.mu.Lock()
	w.files = next
	w.mu.Unlock()
	for _, f := range files {
		if err := w.addDir(filepath.Dir(f)); err != nil && !os.IsNotExist(err) {
			w.logger.Debug("cannot watch directory", "dir", filepath.Dir(f), "error", err)
		}
	}
	return nil
}

// Changes implements Watch.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

// Close stops watching and closes Changes.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.fw.Close()
	<-w.done
	return err
}

// excluded reports whether path lies in an output, dependency or ignored
// directory.
func (w *Watcher) excluded(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "node_modules", "dist", ".git", ".monobuild":
			return true
		}
	}
	return w.ignore != nil && w.ignore.MatchesPath(rel)
}

func (w *Watcher) relevant(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[path] {
		return true
	}
	for _, t := range w.trees {
		if strings.HasPrefix(path, t+string(filepath.Separator)) {
			return !w.excluded(path)
		}
	}
	return false
}

func (w *Watcher) loop() {
	defer close(w.done)
	defer close(w.changes)

	// Debounce: track last event time per file.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && w.relevant(event.Name) {
					_ = w.addDirs(event.Name)
					continue
				}
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[event.Name] = time.Now()
			}

		case now := <-ticker.C:
			w.flush(pending, now)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watch error", "error", err)
		}
	}
}

// flush emits the paths that have been quiet for the debounce window.
func (w *Watcher) flush(pending map[string]time.Time, now time.Time) {
	var settled []string
	for file, t := range pending {
		if now.Sub(t) >= debounce {
			settled = append(settled, file)
			delete(pending, file)
		}
	}
	if len(settled) == 0 {
		return
	}
	slices.Sort(settled)
	select {
	case w.changes <- settled:
	case <-w.stop:
	}
}
