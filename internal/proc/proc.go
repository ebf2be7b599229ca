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

// Package proc runs external commands with captured output.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Cmd describes one external command invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the current process environment.
	Env []string
}

func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Output is what a finished command produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Success reports whether the command exited zero.
func (o *Output) Success() bool {
	return o.ExitCode == 0
}

// Runner runs commands. A non-zero exit is not an error; an error means the
// command could not be started or was cancelled.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (*Output, error)
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, cmd Cmd) (*Output, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Cmd) (*Output, error) {
	return f(ctx, cmd)
}

// Exec runs commands on the host with os/exec.
type Exec struct{}

func (Exec) Run(ctx context.Context, c Cmd) (*Output, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		return out, err
	}
	return out, nil
}

// CommandError is a command that exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited %d: %s", e.Command, e.ExitCode, msg)
}

// Check runs cmd and converts a non-zero exit into a *CommandError.
func Check(ctx context.Context, r Runner, cmd Cmd) (*Output, error) {
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return out, fmt.Errorf("running %s: %w", cmd, err)
	}
	if !out.Success() {
		return out, &CommandError{Command: cmd.String(), ExitCode: out.ExitCode, Stderr: string(out.Stderr)}
	}
	return out, nil
}
