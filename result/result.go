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

// Package result defines the diagnostics produced by builds.
package result

import (
	"fmt"
	"slices"
	"strings"
)

// Severity of a build result.
type Severity string

const (
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeveritySuggestion Severity = "suggestion"
	SeverityMessage    Severity = "message"
)

// rank orders severities from most to least severe.
func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	case SeveritySuggestion:
		return 2
	case SeverityMessage:
		return 3
	}
	return 4
}

// Source identifies the subsystem that produced a result.
type Source string

const (
	SourceCompile Source = "compile"
	SourceLint    Source = "lint"
	SourceBundle  Source = "bundle"
	SourceDeps    Source = "deps"
	SourcePublish Source = "publish"
)

// Result is one diagnostic. FilePath, Line, Char and Code are optional.
type Result struct {
	Severity Severity `json:"severity"`
	FilePath string   `json:"filePath,omitempty"`
	Line     int      `json:"line,omitempty"`
	Char     int      `json:"char,omitempty"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
	Source   Source   `json:"source"`
}

func (r Result) String() string {
	var b strings.Builder
	if r.FilePath != "" {
		b.WriteString(r.FilePath)
		if r.Line > 0 {
			fmt.Fprintf(&b, ":%d", r.Line)
			if r.Char > 0 {
				fmt.Fprintf(&b, ":%d", r.Char)
			}
		}
		b.WriteString(": ")
	}
	b.WriteString(string(r.Severity))
	if r.Code != "" {
		fmt.Fprintf(&b, " %s", r.Code)
	}
	fmt.Fprintf(&b, ": %s", r.Message)
	return b.String()
}

// Errorf builds an error result with no file location.
func Errorf(source Source, format string, args ...any) Result {
	return Result{Severity: SeverityError, Source: source, Message: fmt.Sprintf(format, args...)}
}

// FromError converts a tool or orchestration failure into an error result.
func FromError(source Source, filePath string, err error) Result {
	return Result{Severity: SeverityError, Source: source, FilePath: filePath, Message: err.Error()}
}

// HasErrors reports whether any result is error severity.
func HasErrors(results []Result) bool {
	return slices.ContainsFunc(results, func(r Result) bool { return r.Severity == SeverityError })
}

// Count tallies results by severity.
func Count(results []Result) map[Severity]int {
	counts := make(map[Severity]int)
	for _, r := range results {
		counts[r.Severity]++
	}
	return counts
}

// Sort orders results by file, position, then severity, in place.
func Sort(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		if c := strings.Compare(a.FilePath, b.FilePath); c != 0 {
			return c
		}
		if a.Line != b.Line {
			return a.Line - b.Line
		}
		if a.Char != b.Char {
			return a.Char - b.Char
		}
		return a.Severity.rank() - b.Severity.rank()
	})
}

// Dedupe removes exact duplicates while keeping first occurrences.
func Dedupe(results []Result) []Result {
	seen := make(map[Result]bool, len(results))
	out := results[:0:0]
	for _, r := range results {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
