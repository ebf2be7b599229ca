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
package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup(Options{Stderr: &buf})
	defer closer.Close()
	logger.Debug("hidden")
	logger.Info("shown", KeyPackage, "core")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Debug record logged without --debug")
	}
	if !strings.Contains(out, "package=core") {
		t.Errorf("Expected package attribute, got %q", out)
	}

	buf.Reset()
	logger, _ = Setup(Options{Stderr: &buf, Debug: true})
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("Debug record missing with --debug")
	}
}

func TestSetupTeesToFile(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "monobuild.log")
	logger, closer := Setup(Options{Stderr: &buf, File: file})
	logger.With(KeyBatch, "b1").Debug("batch closed", KeyDuration, 12)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("Reading log file failed: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("Log file is not JSON: %v: %s", err, data)
	}
	if rec["batch"] != "b1" || rec["msg"] != "batch closed" {
		t.Errorf("Unexpected record %v", rec)
	}
	if strings.Contains(buf.String(), "batch closed") {
		t.Error("Debug record reached stderr at info level")
	}
}
