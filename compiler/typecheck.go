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
package compiler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"bennypowers.dev/monobuild/internal/proc"
	"bennypowers.dev/monobuild/result"
)

// ToolError is a type checker run that failed without diagnostics.
type ToolError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no output"
	}
	return fmt.Sprintf("%s exited %d: %s", e.Command, e.ExitCode, msg)
}

// TypeChecker runs tsc for a package.
type TypeChecker struct {
	Runner  proc.Runner
	Command string
	Args    []string
}

// tsc --pretty false: path(line,col): error TS2322: message
var tscLine = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\): (error|warning|message) (TS\d+): (.*)$`)

// Check type checks the project rooted at dir.
func (tc *TypeChecker) Check(ctx context.Context, dir string) ([]result.Result, error) {
	cmd := proc.Cmd{
		Name: tc.Command,
		Args: append(append([]string{}, tc.Args...), dir),
		Dir:  dir,
	}
	out, err := tc.Runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", cmd, err)
	}
	results := ParseTSC(out.Stdout, dir)
	if !out.Success() && len(results) == 0 {
		return nil, &ToolError{Command: cmd.String(), ExitCode: out.ExitCode, Stderr: string(out.Stderr) + string(out.Stdout)}
	}
	return results, nil
}

// ParseTSC reads tsc diagnostics. Relative paths are resolved against dir.
// Continuation lines are appended to the preceding message.
func ParseTSC(output []byte, dir string) []result.Result {
	var results []result.Result
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		m := tscLine.FindStringSubmatch(line)
		if m == nil {
			if len(results) > 0 && strings.HasPrefix(line, "  ") {
				last := &results[len(results)-1]
				last.Message += "\n" + strings.TrimSpace(line)
			}
			continue
		}
		file := m[1]
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		lineNo, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		results = append(results, result.Result{
			Severity: result.Severity(m[4]),
			FilePath: file,
			Line:     lineNo,
			Char:     col,
			Code:     m[5],
			Message:  m[6],
			Source:   result.SourceCompile,
		})
	}
	return results
}
