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

// Package output renders build and publish reports for the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"bennypowers.dev/monobuild/batch"
	"bennypowers.dev/monobuild/publish"
	"bennypowers.dev/monobuild/result"
)

// Format selects text or JSON rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown format %q (text, json)", s)
}

var (
	colorDanger  = lipgloss.Color("#FF5252")
	colorAccent  = lipgloss.Color("#FFD700")
	colorPrimary = lipgloss.Color("#00BFFF")
	colorSuccess = lipgloss.Color("#00E676")
	colorMuted   = lipgloss.Color("#8C8C8C")
)

const (
	iconDone   = "✓"
	iconFailed = "✗"
)

// Renderer writes reports to one writer. Colors are dropped when the
// writer is not a terminal.
type Renderer struct {
	w      io.Writer
	format Format
	// Root makes file paths relative in text output.
	Root string

	severity map[result.Severity]lipgloss.Style
	location lipgloss.Style
	ok       lipgloss.Style
	failed   lipgloss.Style
	muted    lipgloss.Style
}

// New creates a renderer for w.
func New(w io.Writer, format Format) *Renderer {
	lr := lipgloss.NewRenderer(w)
	return &Renderer{
		w:      w,
		format: format,
		severity: map[result.Severity]lipgloss.Style{
			result.SeverityError:      lr.NewStyle().Foreground(colorDanger).Bold(true),
			result.SeverityWarning:    lr.NewStyle().Foreground(colorAccent),
			result.SeveritySuggestion: lr.NewStyle().Foreground(colorPrimary),
			result.SeverityMessage:    lr.NewStyle().Foreground(colorMuted),
		},
		location: lr.NewStyle().Underline(true),
		ok:       lr.NewStyle().Foreground(colorSuccess).Bold(true),
		failed:   lr.NewStyle().Foreground(colorDanger).Bold(true),
		muted:    lr.NewStyle().Foreground(colorMuted),
	}
}

// Batch renders one batch report. JSON output is one object per line.
func (r *Renderer) Batch(rep *batch.Report) error {
	if r.format == FormatJSON {
		return json.NewEncoder(r.w).Encode(rep)
	}
	var b strings.Builder
	for _, res := range rep.Results {
		b.WriteString(r.result(res))
		b.WriteByte('\n')
	}
	icon, style := iconDone, r.ok
	if rep.HasErrors() {
		icon, style = iconFailed, r.failed
	}
	fmt.Fprintf(&b, "%s %s %s\n",
		style.Render(icon),
		fmt.Sprintf("batch %d: %s, %s", rep.Seq, plural(len(rep.Packages), "package"), r.counts(rep.Counts)),
		r.muted.Render(fmt.Sprintf("(%s)", rep.Finished.Sub(rep.Started).Round(time.Millisecond))),
	)
	_, err := io.WriteString(r.w, b.String())
	return err
}

// Publish renders a publish report.
func (r *Renderer) Publish(rep *publish.Report) error {
	if r.format == FormatJSON {
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	var b strings.Builder
	for _, res := range rep.Results {
		b.WriteString(r.result(res))
		b.WriteByte('\n')
	}
	if rep.Ledger != nil {
		for _, e := range rep.Ledger.Packages {
			switch e.Status {
			case publish.StatusPublished, publish.StatusAlreadyPublished:
				fmt.Fprintf(&b, "%s %s@%s %s\n", r.ok.Render(iconDone), e.Name, rep.Version, r.muted.Render(string(e.Status)))
			case publish.StatusFailed:
				fmt.Fprintf(&b, "%s %s@%s %s\n", r.failed.Render(iconFailed), e.Name, rep.Version, e.Error)
			case publish.StatusSkipped:
				fmt.Fprintf(&b, "%s %s %s\n", r.muted.Render("-"), e.Name, r.muted.Render("skipped"))
			}
		}
	}
	if rep.LedgerPath != "" {
		fmt.Fprintf(&b, "%s\n", r.muted.Render("ledger: "+r.path(rep.LedgerPath)))
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

// Results renders bare results, used by one-shot commands.
func (r *Renderer) Results(results []result.Result) error {
	if r.format == FormatJSON {
		return json.NewEncoder(r.w).Encode(results)
	}
	var b strings.Builder
	for _, res := range results {
		b.WriteString(r.result(res))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) result(res result.Result) string {
	var b strings.Builder
	if res.FilePath != "" {
		loc := r.path(res.FilePath)
		if res.Line > 0 {
			loc += fmt.Sprintf(":%d", res.Line)
			if res.Char > 0 {
				loc += fmt.Sprintf(":%d", res.Char)
			}
		}
		b.WriteString(r.location.Render(loc))
		b.WriteString(" ")
	}
	style, ok := r.severity[res.Severity]
	if !ok {
		style = r.muted
	}
	b.WriteString(style.Render(string(res.Severity)))
	if res.Code != "" {
		b.WriteString(" " + r.muted.Render(res.Code))
	}
	b.WriteString(" " + res.Message)
	if res.Source != "" {
		b.WriteString(" " + r.muted.Render("["+string(res.Source)+"]"))
	}
	return b.String()
}

func (r *Renderer) counts(counts map[result.Severity]int) string {
	parts := []string{
		plural(counts[result.SeverityError], "error"),
		plural(counts[result.SeverityWarning], "warning"),
	}
	if n := counts[result.SeveritySuggestion]; n > 0 {
		parts = append(parts, plural(n, "suggestion"))
	}
	return strings.Join(parts, ", ")
}

func (r *Renderer) path(p string) string {
	if r.Root == "" || !filepath.IsAbs(p) {
		return p
	}
	if rel, err := filepath.Rel(r.Root, p); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return p
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
