/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

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

package graph

// Graph is the collection of Modules reached from an entry. It is owned
// exclusively by the Graph Builder's coordinator goroutine; nothing else
// mutates it directly, so it carries no internal locking (see §5 of the
// build model: single-threaded coordinator, parallel transform workers).
type Graph struct {
	Entry string

	modules map[string]*Module
	// order records the sequence in which paths were first passed to Add.
	// The Graph Builder assigns IDs from its own enqueue order; the
	// Incremental Builder assigns IDs to newly added modules by walking
	// this slice.
	order []string
}

// NewGraph creates an empty graph for the given entry path.
func NewGraph(entry string) *Graph {
	return &Graph{
		Entry:   entry,
		modules: make(map[string]*Module),
	}
}

// Add registers a module, recording its path in first-seen order the first
// time it is observed. Calling Add again for an already-present path
// replaces the module record but does not change its position in the order.
func (g *Graph) Add(m *Module) {
	if _, exists := g.modules[m.Path]; !exists {
		g.order = append(g.order, m.Path)
	}
	g.modules[m.Path] = m
}

// Get returns the module at path, if present.
func (g *Graph) Get(path string) (*Module, bool) {
	m, ok := g.modules[path]
	return m, ok
}

// Has reports whether path is already in the graph.
func (g *Graph) Has(path string) bool {
	_, ok := g.modules[path]
	return ok
}

// Remove deletes a module from the graph and scrubs it from every
// remaining module's inverse-dependency set. It does not touch the
// first-seen order slice, nor any Module ID mapping: IDs are retained for
// the lifetime of the BuildState per I6.
func (g *Graph) Remove(path string) {
	delete(g.modules, path)
	for _, m := range g.modules {
		m.InverseDependencies.Remove(path)
	}
}

// AddEdge records that `from` imports `to`, maintaining I2: from must be a
// member of to's inverse-dependency set.
func (g *Graph) AddEdge(from, to string) {
	if target, ok := g.modules[to]; ok {
		target.InverseDependencies.Add(from)
	}
}

// RemoveEdge undoes AddEdge, used during incremental rebuilds when a
// dependency is dropped by a re-transform.
func (g *Graph) RemoveEdge(from, to string) {
	if target, ok := g.modules[to]; ok {
		target.InverseDependencies.Remove(from)
	}
}

// Len returns the number of modules currently in the graph.
func (g *Graph) Len() int {
	return len(g.modules)
}

// RequestOrder returns the paths in the order they were first added to the
// graph with Add.
func (g *Graph) RequestOrder() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Clone returns a deep copy of the graph: every Module is itself cloned,
// so mutating the copy (as the Incremental Builder does while computing a
// Delta) never touches the original BuildState.
func (g *Graph) Clone() *Graph {
	clone := &Graph{
		Entry:   g.Entry,
		modules: make(map[string]*Module, len(g.modules)),
		order:   append([]string(nil), g.order...),
	}
	for path, m := range g.modules {
		clone.modules[path] = m.Clone()
	}
	return clone
}

// Modules returns every module currently in the graph, order unspecified.
// Callers that need ID order should combine this with a ModuleIDFactory.
func (g *Graph) Modules() map[string]*Module {
	return g.modules
}

// Validate checks invariants I1 and I4 across every module in the graph.
// It returns the first violation found, or nil if the graph is consistent.
func (g *Graph) Validate() error {
	for path, m := range g.modules {
		if len(m.OriginalSpecifiers) != len(m.ResolvedDependencies) {
			return &InvariantError{
				Invariant: "I4",
				Detail:    path + ": original_specifiers and resolved_dependencies length mismatch",
			}
		}
		for _, dep := range m.ResolvedDependencies {
			if !g.Has(dep) {
				return &InvariantError{
					Invariant: "I1",
					Detail:    path + ": resolved dependency " + dep + " missing from graph",
				}
			}
		}
	}
	return nil
}

// InvariantError reports a violated graph invariant. It should never occur
// in production; its presence signals a bug in the resolver, transformer,
// or graph builder rather than user-facing input error.
type InvariantError struct {
	Invariant string
	Detail    string
}

func (e *InvariantError) Error() string {
	return e.Invariant + " violated: " + e.Detail
}
