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
package hmr

import (
	"encoding/json"
	"fmt"
	"testing"

	"bungae.dev/bungae/graph"
	"bungae.dev/bungae/internal/bungaeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdateRendersModifiedModule(t *testing.T) {
	state := graph.NewBuildState("/app/index.js")
	m := graph.NewModule("/app/index.js", graph.TypeModule)
	m.TransformedCode = "function(global,require,metroImportDefault,metroImportAll,module,exports,dependencyMap){}"
	state.Graph.Add(m)
	state.IDFactory.Assign(m.Path)

	delta := graph.NewDelta()
	delta.Modified[m.Path] = m

	body := BuildUpdate(delta, state, false, "/app", "absolute")
	assert.Equal(t, state.RevisionID, body.RevisionID)
	assert.False(t, body.IsInitialUpdate)
	require.Contains(t, body.Modified, "0")
	entry := body.Modified["0"]
	assert.Equal(t, 0, entry.Module[0])
	assert.Contains(t, entry.Module[1].(string), "__d(")
}

func TestBuildUpdateRendersDeletedIDs(t *testing.T) {
	state := graph.NewBuildState("/app/index.js")
	m := graph.NewModule("/app/gone.js", graph.TypeModule)
	state.Graph.Add(m)
	state.IDFactory.Assign(m.Path)

	delta := graph.NewDelta()
	delta.Deleted = []string{m.Path}

	body := BuildUpdate(delta, state, false, "/app", "absolute")
	assert.Equal(t, []int{0}, body.Deleted)
}

func TestBuildModuleEntrySourceURLIsRelativeToRoot(t *testing.T) {
	state := graph.NewBuildState("/app/src/index.js")
	m := graph.NewModule("/app/src/index.js", graph.TypeModule)
	m.TransformedCode = "function(global,require,metroImportDefault,metroImportAll,module,exports,dependencyMap){}"
	state.Graph.Add(m)
	state.IDFactory.Assign(m.Path)

	delta := graph.NewDelta()
	delta.Modified[m.Path] = m

	body := BuildUpdate(delta, state, false, "/app", "absolute")
	entry := body.Modified["0"]
	assert.Equal(t, "src/index.js", entry.SourceURL)
	assert.Equal(t, "src/index.js.map", entry.SourceMappingURL)
}

func TestBuildModuleEntryAppendsInverseDependenciesAsFifthArgument(t *testing.T) {
	state := graph.NewBuildState("/app/index.js")
	entry := graph.NewModule("/app/index.js", graph.TypeModule)
	entry.TransformedCode = "function(global,require,metroImportDefault,metroImportAll,module,exports,dependencyMap){require(dependencyMap[0]);}"
	util := graph.NewModule("/app/util.js", graph.TypeModule)
	util.TransformedCode = "function(global,require,metroImportDefault,metroImportAll,module,exports,dependencyMap){module.exports=1;}"

	state.Graph.Add(entry)
	state.Graph.Add(util)
	state.Graph.AddEdge(entry.Path, util.Path)
	state.IDFactory.Assign(entry.Path)
	state.IDFactory.Assign(util.Path)

	delta := graph.NewDelta()
	delta.Modified[util.Path] = util

	body := BuildUpdate(delta, state, false, "/app", "absolute")
	wrapped := body.Modified["1"].Module[1].(string)

	// a real 5th positional argument to __d(...), not a trailing comment
	assert.NotContains(t, wrapped, "//")
	assert.Contains(t, wrapped, fmt.Sprintf(`,{%q:0}`, "/app/index.js"))
}

func TestMessageFramesRoundTripJSON(t *testing.T) {
	for _, msg := range []*Message{UpdateStart(), UpdateDone(), Err(fmt.Errorf("boom"))} {
		data, err := json.Marshal(msg)
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, msg.Type, decoded["type"])
	}
}

func TestUpdateMessageCarriesBody(t *testing.T) {
	body := &UpdateBody{RevisionID: "r1", Deleted: []int{}}
	msg := Update(body)
	assert.Equal(t, "update", msg.Type)
	assert.Equal(t, body, msg.Body)
}

func TestErrRendersTypedBody(t *testing.T) {
	msg := Err(&bungaeerr.TransformError{Path: "/app/broken.js", Diagnostic: "unexpected token"})
	assert.Equal(t, "error", msg.Type)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	body, ok := decoded["body"].(map[string]any)
	require.True(t, ok, "body must be a JSON object, not a string")
	assert.Equal(t, "TransformError", body["type"])
	assert.Contains(t, body["message"], "unexpected token")
}

func TestErrRendersGenericTypeForUnclassifiedError(t *testing.T) {
	msg := Err(fmt.Errorf("plain failure"))
	body := msg.Body.(*ErrBody)
	assert.Equal(t, "Error", body.Type)
}
