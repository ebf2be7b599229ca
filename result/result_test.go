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
package result

import (
	"errors"
	"testing"
)

func TestString(t *testing.T) {
	tests := []struct {
		r    Result
		want string
	}{
		{
			Result{Severity: SeverityError, FilePath: "/a.ts", Line: 3, Char: 7, Code: "TS2304", Message: "Cannot find name 'x'."},
			"/a.ts:3:7: error TS2304: Cannot find name 'x'.",
		},
		{
			Result{Severity: SeverityWarning, Message: "slow"},
			"warning: slow",
		},
		{
			Result{Severity: SeverityMessage, FilePath: "/b.ts", Code: "deps", Message: "unresolved"},
			"/b.ts: message deps: unresolved",
		},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSortAndCount(t *testing.T) {
	results := []Result{
		{Severity: SeverityWarning, FilePath: "/b.ts", Line: 1},
		{Severity: SeverityError, FilePath: "/a.ts", Line: 9},
		{Severity: SeverityWarning, FilePath: "/a.ts", Line: 2},
		{Severity: SeverityError, FilePath: "/a.ts", Line: 2},
	}
	Sort(results)
	if results[0].FilePath != "/a.ts" || results[0].Line != 2 || results[0].Severity != SeverityError {
		t.Errorf("Unexpected first result after sort: %+v", results[0])
	}
	if results[3].FilePath != "/b.ts" {
		t.Errorf("Unexpected last result after sort: %+v", results[3])
	}

	counts := Count(results)
	if counts[SeverityError] != 2 || counts[SeverityWarning] != 2 {
		t.Errorf("Count() = %v", counts)
	}
	if !HasErrors(results) {
		t.Error("Expected HasErrors to be true")
	}
	if HasErrors(results[2:3]) {
		t.Error("Expected warnings alone not to count as errors")
	}
}

func TestDedupe(t *testing.T) {
	r := FromError(SourceCompile, "/a.ts", errors.New("boom"))
	got := Dedupe([]Result{r, r, Errorf(SourceLint, "x")})
	if len(got) != 2 {
		t.Errorf("Expected 2 results, got %d", len(got))
	}
}
