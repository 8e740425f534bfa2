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

// Package graph holds the dependency-graph data model: Module, Graph, the
// Module ID factory, and the per-platform BuildState that a dev server
// retains across rebuilds.
package graph

import "bungae.dev/bungae/set"

// ModuleType mirrors Metro's module type tags. js/script and
// js/script/virtual modules are never wrapped in __d().
type ModuleType string

const (
	TypeModule         ModuleType = "js/module"
	TypeScript         ModuleType = "js/script"
	TypeScriptVirtual  ModuleType = "js/script/virtual"
)

// IsScript reports whether modules of this type are emitted unwrapped.
func (t ModuleType) IsScript() bool {
	return t == TypeScript || t == TypeScriptVirtual
}

// Module is one entry in the dependency graph, keyed by absolute path.
type Module struct {
	Path                 string
	Type                 ModuleType
	OriginalSpecifiers   []string // order as they appear in source
	ResolvedDependencies []string // 1:1 aligned with OriginalSpecifiers
	InverseDependencies  set.Set[string]
	TransformedCode      string
	SourceMap            string
	ContentHash          string
}

// NewModule constructs a Module with an initialized inverse-dependency set.
func NewModule(path string, typ ModuleType) *Module {
	return &Module{
		Path:                path,
		Type:                typ,
		InverseDependencies: set.NewSet[string](),
	}
}

// Clone returns a deep copy safe to mutate independently of the original.
func (m *Module) Clone() *Module {
	clone := *m
	clone.OriginalSpecifiers = append([]string(nil), m.OriginalSpecifiers...)
	clone.ResolvedDependencies = append([]string(nil), m.ResolvedDependencies...)
	clone.InverseDependencies = m.InverseDependencies.Clone()
	return &clone
}
