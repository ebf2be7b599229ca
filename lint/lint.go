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

// Package lint runs ESLint over affected files.
package lint

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"bennypowers.dev/monobuild/internal/proc"
	"bennypowers.dev/monobuild/result"
)

// ToolError is an ESLint run that failed to produce a report.
type ToolError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s exited %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Linter is the lint collaborator.
type Linter interface {
	Lint(ctx context.Context, cwd string, files []string) ([]result.Result, error)
}

// ESLint runs the eslint command line with the JSON formatter.
type ESLint struct {
	Runner  proc.Runner
	Command string
	Args    []string
}

var lintable = []string{".ts", ".tsx", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"}

// Lint lints the lintable files among files. Declaration files are skipped.
func (l *ESLint) Lint(ctx context.Context, cwd string, files []string) ([]result.Result, error) {
	var targets []string
	for _, f := range files {
		if strings.HasSuffix(f, ".d.ts") || !slices.Contains(lintable, filepath.Ext(f)) {
			continue
		}
		targets = append(targets, f)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	cmd := proc.Cmd{
		Name: l.Command,
		Args: append(slices.Clone(l.Args), targets...),
		Dir:  cwd,
	}
	out, err := l.Runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", l.Command, err)
	}
	// eslint exits 1 when it found problems and 2 when it could not run
	if out.ExitCode > 1 {
		return nil, &ToolError{Command: cmd.String(), ExitCode: out.ExitCode, Stderr: string(out.Stderr)}
	}
	return ParseReport(out.Stdout)
}

type fileReport struct {
	FilePath string    `json:"filePath"`
	Messages []message `json:"messages"`
}

type message struct {
	RuleID   string `json:"ruleId"`
	Severity int    `json:"severity"`
	Message  string `json:"message"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Fatal    bool   `json:"fatal"`
}

// ParseReport converts eslint's JSON formatter output to results.
func ParseReport(data []byte) ([]result.Result, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var reports []fileReport
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("parsing eslint report: %w", err)
	}
	var results []result.Result
	for _, f := range reports {
		for _, m := range f.Messages {
			sev := result.SeverityWarning
			if m.Severity == 2 || m.Fatal {
				sev = result.SeverityError
			}
			results = append(results, result.Result{
				Severity: sev,
				FilePath: f.FilePath,
				Line:     m.Line,
				Char:     m.Column,
				Code:     m.RuleID,
				Message:  m.Message,
				Source:   result.SourceLint,
			})
		}
	}
	return results, nil
}
