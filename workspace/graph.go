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
package workspace

import (
	"maps"
	"slices"
	"sync"
)

// Graph tracks in-workspace package dependencies.
type Graph struct {
	mu sync.RWMutex

	// dependsOn maps package name -> set of workspace packages it depends on
	dependsOn map[string]map[string]bool

	// dependents maps package name -> set of workspace packages depending on it
	dependents map[string]map[string]bool

	nodes map[string]bool
}

// NewGraph creates a new empty package graph.
func NewGraph() *Graph {
	return &Graph{
		dependsOn:  make(map[string]map[string]bool),
		dependents: make(map[string]map[string]bool),
		nodes:      make(map[string]bool),
	}
}

// AddPackage registers a package with no edges.
func (g *Graph) AddPackage(pkg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[pkg] = true
}

// AddDependency records that pkg depends on dep.
func (g *Graph) AddDependency(pkg, dep string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[pkg] = true
	g.nodes[dep] = true

	if g.dependsOn[pkg] == nil {
		g.dependsOn[pkg] = make(map[string]bool)
	}
	g.dependsOn[pkg][dep] = true

	if g.dependents[dep] == nil {
		g.dependents[dep] = make(map[string]bool)
	}
	g.dependents[dep][pkg] = true
}

// Packages returns every package in the graph, sorted.
func (g *Graph) Packages() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Sorted(maps.Keys(g.nodes))
}

// Dependencies returns the packages pkg directly depends on.
func (g *Graph) Dependencies(pkg string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Sorted(maps.Keys(g.dependsOn[pkg]))
}

// Dependents returns all packages that directly depend on pkg.
func (g *Graph) Dependents(pkg string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Sorted(maps.Keys(g.dependents[pkg]))
}

// TransitiveDependents returns all packages that directly or indirectly depend on pkg.
func (g *Graph) TransitiveDependents(pkg string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return closure(g.dependents, pkg)
}

// TransitiveDependencies returns all packages pkg directly or indirectly depends on.
func (g *Graph) TransitiveDependencies(pkg string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return closure(g.dependsOn, pkg)
}

// closure walks edges breadth-first from pkg. The visited set keeps cycles finite.
func closure(edges map[string]map[string]bool, pkg string) []string {
	visited := map[string]bool{pkg: true}
	queue := []string{pkg}
	var result []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for next := range edges[current] {
			if !visited[next] {
				visited[next] = true
				result = append(result, next)
				queue = append(queue, next)
			}
		}
	}

	slices.Sort(result)
	return result
}

// Subgraph returns a copy restricted to the given packages. Edges to
// packages outside the set are dropped.
func (g *Graph) Subgraph(pkgs []string) *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	keep := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		keep[p] = true
	}

	sub := NewGraph()
	for _, p := range pkgs {
		if !g.nodes[p] {
			continue
		}
		sub.nodes[p] = true
		for dep := range g.dependsOn[p] {
			if keep[dep] {
				sub.addEdgeLocked(p, dep)
			}
		}
	}
	return sub
}

func (g *Graph) addEdgeLocked(pkg, dep string) {
	if g.dependsOn[pkg] == nil {
		g.dependsOn[pkg] = make(map[string]bool)
	}
	g.dependsOn[pkg][dep] = true
	if g.dependents[dep] == nil {
		g.dependents[dep] = make(map[string]bool)
	}
	g.dependents[dep][pkg] = true
}
