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
package proc

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func TestExecCapturesOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out, err := Exec{}.Run(context.Background(), Cmd{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2; echo $MONOBUILD_TEST; exit 3"},
		Env:  []string{"MONOBUILD_TEST=value"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.ExitCode != 3 || out.Success() {
		t.Errorf("ExitCode = %d, want 3", out.ExitCode)
	}
	if got := string(out.Stdout); got != "out\nvalue\n" {
		t.Errorf("Stdout = %q", got)
	}
	if strings.TrimSpace(string(out.Stderr)) != "err" {
		t.Errorf("Stderr = %q", out.Stderr)
	}
}

func TestExecMissingCommand(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), Cmd{Name: "monobuild-definitely-missing"})
	if err == nil {
		t.Fatal("Expected start failure")
	}
}

func TestCmdString(t *testing.T) {
	c := Cmd{Name: "npm", Args: []string{"publish", "--access", "public"}}
	if c.String() != "npm publish --access public" {
		t.Errorf("String() = %q", c.String())
	}
}

func TestCheckConvertsExitCodes(t *testing.T) {
	failing := RunnerFunc(func(ctx context.Context, cmd Cmd) (*Output, error) {
		return &Output{ExitCode: 1, Stderr: []byte("npm ERR! 403\n")}, nil
	})
	_, err := Check(context.Background(), failing, Cmd{Name: "npm", Args: []string{"publish"}})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 1 || cmdErr.Error() != "npm publish exited 1: npm ERR! 403" {
		t.Errorf("Unexpected error %q", cmdErr.Error())
	}

	ok := RunnerFunc(func(ctx context.Context, cmd Cmd) (*Output, error) {
		return &Output{Stdout: []byte("done")}, nil
	})
	out, err := Check(context.Background(), ok, Cmd{Name: "true"})
	if err != nil || string(out.Stdout) != "done" {
		t.Errorf("Check = %v, %v", out, err)
	}
}
