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
	"slices"
	"strings"

	"bennypowers.dev/monobuild/workspace"
)

// ErrCyclicDependencies is returned when the packages to publish depend on
// each other in a cycle and cycles are not allowed.
var ErrCyclicDependencies = errors.New("cyclic dependencies between published packages")

// Leveling is the publish order of a set of packages.
type Leveling struct {
	// Levels are published in order. Every package's in-set dependencies are
	// in earlier levels, except for members of a shared cycle.
	Levels [][]string
	// Cycles lists the strongly connected components that had to be placed
	// together.
	Cycles [][]string
}

// CycleError names the packages of each cycle.
func (l Leveling) CycleError() error {
	if len(l.Cycles) == 0 {
		return nil
	}
	parts := make([]string, 0, len(l.Cycles))
	for _, c := range l.Cycles {
		parts = append(parts, "{"+strings.Join(c, ", ")+"}")
	}
	return fmt.Errorf("%w: %s", ErrCyclicDependencies, strings.Join(parts, "; "))
}

// Levels orders pkgs by their in-workspace dependencies. Packages outside
// pkgs are ignored. When no package is ready, every strongly connected
// component whose outside dependencies are already placed goes into one
// shared level, and leveling continues after it.
func Levels(g *workspace.Graph, pkgs []string) Leveling {
	sub := g.Subgraph(pkgs)
	remaining := make(map[string]bool)
	for _, p := range sub.Packages() {
		remaining[p] = true
	}
	placed := make(map[string]bool, len(remaining))
	var out Leveling

	ready := func(members []string) bool {
		inGroup := make(map[string]bool, len(members))
		for _, m := range members {
			inGroup[m] = true
		}
		for _, m := range members {
			for _, dep := range sub.Dependencies(m) {
				if !placed[dep] && !inGroup[dep] {
					return false
				}
			}
		}
		return true
	}

	for len(remaining) > 0 {
		var level []string
		for _, p := range sortedKeys(remaining) {
			if ready([]string{p}) {
				level = append(level, p)
			}
		}

		if len(level) == 0 {
			for _, scc := range components(sub, remaining) {
				if len(scc) > 1 && ready(scc) {
					out.Cycles = append(out.Cycles, scc)
					level = append(level, scc...)
				}
			}
			if len(level) == 0 {
				// Unreachable for a finite graph; place everything left.
				level = sortedKeys(remaining)
			}
			slices.Sort(level)
		}

		for _, p := range level {
			placed[p] = true
			delete(remaining, p)
		}
		out.Levels = append(out.Levels, level)
	}
	return out
}

// components returns the strongly connected components among nodes using
// Tarjan's algorithm. Each component is sorted.
func components(g *workspace.Graph, nodes map[string]bool) [][]string {
	index := 0
	indices := make(map[string]int)
	low := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var out [][]string

	var connect func(v string)
	connect = func(v string) {
		indices[v] = index
		low[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.Dependencies(v) {
			if !nodes[w] {
				continue
			}
			if _, seen := indices[w]; !seen {
				connect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], indices[w])
			}
		}

		if low[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			out = append(out, scc)
		}
	}

	for _, v := range sortedKeys(nodes) {
		if _, seen := indices[v]; !seen {
			connect(v)
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
