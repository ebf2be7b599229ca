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
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"bennypowers.dev/monobuild/fs"
)

// LedgerDir holds publish ledgers, relative to the workspace root.
const LedgerDir = ".monobuild"

// Status is the outcome of one package publish.
type Status string

const (
	StatusPublished        Status = "published"
	StatusAlreadyPublished Status = "already-published"
	StatusFailed           Status = "failed"
	StatusSkipped          Status = "skipped"
)

// Entry records one package in a ledger.
type Entry struct {
	Name     string `toml:"name" json:"name"`
	Target   string `toml:"target" json:"target"`
	Level    int    `toml:"level" json:"level"`
	Status   Status `toml:"status" json:"status"`
	Attempts int    `toml:"attempts,omitempty" json:"attempts,omitempty"`
	Error    string `toml:"error,omitempty" json:"error,omitempty"`
}

// Ledger records what a publish run did, so a partial failure can be
// reconciled by hand.
type Ledger struct {
	Version  string    `toml:"version" json:"version"`
	DryRun   bool      `toml:"dry_run" json:"dryRun"`
	Started  time.Time `toml:"started" json:"started"`
	Finished time.Time `toml:"finished" json:"finished"`
	Packages []Entry   `toml:"packages" json:"packages"`
}

// LedgerPath is where the ledger for version is written.
func LedgerPath(root, version string) string {
	return filepath.Join(root, LedgerDir, "publish-"+version+".toml")
}

// Record adds or replaces the entry for e.Name.
func (l *Ledger) Record(e Entry) {
	if i := slices.IndexFunc(l.Packages, func(x Entry) bool { return x.Name == e.Name }); i >= 0 {
		l.Packages[i] = e
		return
	}
	l.Packages = append(l.Packages, e)
}

// With returns the names of packages with status s.
func (l *Ledger) With(s Status) []string {
	var out []string
	for _, e := range l.Packages {
		if e.Status == s {
			out = append(out, e.Name)
		}
	}
	return out
}

// Save writes the ledger under root.
func (l *Ledger) Save(fsys fs.FileSystem, root string) (string, error) {
	slices.SortStableFunc(l.Packages, func(a, b Entry) int {
		if a.Level != b.Level {
			return a.Level - b.Level
		}
		return strings.Compare(a.Name, b.Name)
	})
	data, err := toml.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("marshaling ledger: %w", err)
	}
	path := LedgerPath(root, l.Version)
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := fsys.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing ledger: %w", err)
	}
	return path, nil
}

// LoadLedger reads the ledger for version. A missing ledger is a nil
// ledger without error.
func LoadLedger(fsys fs.FileSystem, root, version string) (*Ledger, error) {
	data, err := fsys.ReadFile(LedgerPath(root, version))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var l Ledger
	if err := toml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing ledger: %w", err)
	}
	return &l, nil
}
