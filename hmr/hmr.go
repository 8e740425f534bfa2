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

// Package hmr implements the HMR Message Builder (C8): it renders a
// Delta into the exact JSON wire shapes Metro's hot-reload client
// expects (§4.8, §6.4).
package hmr

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"bungae.dev/bungae/graph"
	"bungae.dev/bungae/internal/bungaeerr"
	"bungae.dev/bungae/serializer"
)

// ModuleEntry is one added/modified module in an update body: its
// assigned id paired with the wrapped __d(...) code the client will
// eval, plus the bare source and source-map paths the client uses to
// attribute stack traces.
type ModuleEntry struct {
	Module           [2]any `json:"module"` // [id, wrappedCode]
	SourceURL        string `json:"sourceURL"`
	SourceMappingURL string `json:"sourceMappingURL,omitempty"`
}

// UpdateBody is the payload of a type:"update" message.
type UpdateBody struct {
	RevisionID      string                 `json:"revisionId"`
	IsInitialUpdate bool                   `json:"isInitialUpdate"`
	Added           map[string]ModuleEntry `json:"added"`
	Modified        map[string]ModuleEntry `json:"modified"`
	Deleted         []int                  `json:"deleted"`
}

// ErrBody is the body of a type:"error" frame (§6.4), classifying the
// failure against the bundler's own typed error taxonomy so a client sees
// the same kind of type Metro's own error frames carry.
type ErrBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Message is one frame of the HMR wire protocol (§6.4): update-start,
// update, update-done, or error. Body holds a *UpdateBody for "update" and
// an *ErrBody for "error"; the other frame types carry none.
type Message struct {
	Type string `json:"type"`
	Body any    `json:"body,omitempty"`
}

func itoa(n int) string {
	// Metro keys added/modified maps by their string-formatted numeric id.
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// buildModuleEntry renders the wrapped code for a single changed module:
// its __d(...) statement followed by a trailing inverseDependencies
// argument, inserted before the factory's final closing paren (§4.8).
func buildModuleEntry(m *graph.Module, id int, factory *graph.IDFactory, root string, sourcePaths string) ModuleEntry {
	depIDs := make([]int, 0, len(m.ResolvedDependencies))
	for _, dep := range m.ResolvedDependencies {
		if depID, ok := factory.Lookup(dep); ok {
			depIDs = append(depIDs, depID)
		}
	}

	stmt := serializer.ModuleStatement(m, id, depIDs)
	wrapped := appendInverseDeps(stmt, m, factory)

	sourceURL := serializer.SourcePath(relativeModulePath(root, m.Path), sourcePaths)

	return ModuleEntry{
		Module:           [2]any{id, wrapped},
		SourceURL:        sourceURL,
		SourceMappingURL: sourceURL + ".map",
	}
}

// relativeModulePath renders path relative to root (§4.8: "the module path
// relative to project root"), falling back to path itself when root is
// unset or the two aren't on a common base.
func relativeModulePath(root, path string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// appendInverseDeps appends a real 5th argument to stmt's __d(...) call: a
// JSON object mapping each of m's inverse-dependency paths to its assigned
// numeric id, inserted before the factory's final closing paren the same
// way the serializer inserts id/dependencyMap/verboseName into an
// already-wrapped factory (§4.8: "an additional trailing parameter object
// containing the module's current inverseDependencies map").
func appendInverseDeps(stmt string, m *graph.Module, factory *graph.IDFactory) string {
	type inverseDep struct {
		path string
		id   int
	}
	deps := make([]inverseDep, 0, len(m.InverseDependencies))
	for dep := range m.InverseDependencies {
		if id, ok := factory.Lookup(dep); ok {
			deps = append(deps, inverseDep{dep, id})
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].path < deps[j].path })

	var obj strings.Builder
	obj.WriteByte('{')
	for i, d := range deps {
		if i > 0 {
			obj.WriteByte(',')
		}
		fmt.Fprintf(&obj, "%q:%s", d.path, itoa(d.id))
	}
	obj.WriteByte('}')

	return serializer.InsertBeforeFinalParen(stmt, ","+obj.String())
}

// BuildUpdate renders delta into a complete UpdateBody against state's
// graph and id factory, with isInitial set for the first update a freshly
// connected client receives. root is the project root each module's
// sourceURL is rendered relative to (§4.8).
func BuildUpdate(delta *graph.Delta, state *graph.BuildState, isInitial bool, root string, sourcePaths string) *UpdateBody {
	factory := state.IDFactory
	body := &UpdateBody{
		RevisionID:      state.RevisionID,
		IsInitialUpdate: isInitial,
		Added:           make(map[string]ModuleEntry, len(delta.Added)),
		Modified:        make(map[string]ModuleEntry, len(delta.Modified)),
		Deleted:         make([]int, 0, len(delta.Deleted)),
	}

	for path, m := range delta.Added {
		id, _ := factory.Lookup(path)
		body.Added[itoa(id)] = buildModuleEntry(m, id, factory, root, sourcePaths)
	}
	for path, m := range delta.Modified {
		id, _ := factory.Lookup(path)
		body.Modified[itoa(id)] = buildModuleEntry(m, id, factory, root, sourcePaths)
	}
	for _, path := range delta.Deleted {
		if id, ok := factory.Lookup(path); ok {
			body.Deleted = append(body.Deleted, id)
		}
	}

	return body
}

// UpdateStart renders the type:"update-start" frame that precedes an
// update message.
func UpdateStart() *Message {
	return &Message{Type: "update-start"}
}

// Update renders the type:"update" frame carrying body.
func Update(body *UpdateBody) *Message {
	return &Message{Type: "update", Body: body}
}

// UpdateDone renders the type:"update-done" frame that follows an update.
func UpdateDone() *Message {
	return &Message{Type: "update-done"}
}

// Err renders the type:"error" frame reported for a failed incremental
// build (§7: ResolutionError/TransformError are HMR-reported in dev), with
// body.type classifying err against the bundler's own error taxonomy
// (§6.4: `{type:"error", body:{type, message, stack?}}`).
func Err(err error) *Message {
	return &Message{Type: "error", Body: &ErrBody{
		Type:    errBodyType(err),
		Message: err.Error(),
	}}
}

func errBodyType(err error) string {
	var cfgErr *bungaeerr.ConfigError
	var resErr *bungaeerr.ResolutionError
	var xformErr *bungaeerr.TransformError
	var cacheErr *bungaeerr.CacheError
	var ioErr *bungaeerr.IOError
	var protoErr *bungaeerr.ProtocolError
	switch {
	case errors.As(err, &cfgErr):
		return "ConfigError"
	case errors.As(err, &resErr):
		return "ResolutionError"
	case errors.As(err, &xformErr):
		return "TransformError"
	case errors.As(err, &cacheErr):
		return "CacheError"
	case errors.As(err, &ioErr):
		return "IOError"
	case errors.As(err, &protoErr):
		return "ProtocolError"
	default:
		return "Error"
	}
}
