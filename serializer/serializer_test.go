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
package serializer

import (
	"strings"
	"testing"

	"bungae.dev/bungae/graph"
	"bungae.dev/bungae/internal/platform/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSimpleGraph() (*graph.Graph, *graph.IDFactory) {
	g := graph.NewGraph("/app/index.js")
	factory := graph.NewIDFactory()

	entry := graph.NewModule("/app/index.js", graph.TypeModule)
	entry.OriginalSpecifiers = []string{"./util"}
	entry.ResolvedDependencies = []string{"/app/util.js"}
	entry.TransformedCode = "function(global,require,metroImportDefault,metroImportAll,module,exports,dependencyMap){require(dependencyMap[0]);}"

	util := graph.NewModule("/app/util.js", graph.TypeModule)
	util.TransformedCode = "function(global,require,metroImportDefault,metroImportAll,module,exports,dependencyMap){module.exports = 1;}"

	g.Add(entry)
	g.Add(util)
	g.AddEdge(entry.Path, util.Path)

	factory.Assign(entry.Path)
	factory.Assign(util.Path)

	return g, factory
}

func TestSerializeOrdersModulesByID(t *testing.T) {
	g, factory := buildSimpleGraph()

	bundle, err := Serialize(g, factory, Options{RunModule: true})
	require.NoError(t, err)

	entryIdx := strings.Index(bundle, "__d(function")
	require.GreaterOrEqual(t, entryIdx, 0)
	// entry (id 0) must appear before util (id 1)
	firstD := strings.Index(bundle, ",0,[1],")
	secondD := strings.Index(bundle, ",1,[],")
	require.GreaterOrEqual(t, firstD, 0)
	require.GreaterOrEqual(t, secondD, 0)
	assert.Less(t, firstD, secondD)
}

// TestSerializeMatchesGoldenBundle pins the exact byte output of a known
// graph against a checked-in bundle: Metro clients parse this output with
// a real JS engine, so any incidental change to whitespace or statement
// order in the prelude/postamble is worth a visible diff in review rather
// than being absorbed by a looser string-contains assertion.
func TestSerializeMatchesGoldenBundle(t *testing.T) {
	g, factory := buildSimpleGraph()

	bundle, err := Serialize(g, factory, Options{Dev: false, RunModule: true})
	require.NoError(t, err)

	testutil.CheckGolden(t, "simple_graph.js", []byte(bundle), testutil.GoldenOptions{
		Dir: "goldens",
	})
}

func TestSerializeEmitsRunModule(t *testing.T) {
	g, factory := buildSimpleGraph()

	bundle, err := Serialize(g, factory, Options{RunModule: true})
	require.NoError(t, err)
	assert.Contains(t, bundle, "__r(0);")
}

func TestSerializeEmitsRunBeforeMainModule(t *testing.T) {
	g, factory := buildSimpleGraph()

	bundle, err := Serialize(g, factory, Options{
		RunModule:           true,
		RunBeforeMainModule: []string{"/app/util.js"},
	})
	require.NoError(t, err)

	beforeIdx := strings.Index(bundle, "__r(1);")
	mainIdx := strings.Index(bundle, "__r(0);")
	require.GreaterOrEqual(t, beforeIdx, 0)
	require.GreaterOrEqual(t, mainIdx, 0)
	assert.Less(t, beforeIdx, mainIdx)
}

func buildGraphWithInitializeCore() (*graph.Graph, *graph.IDFactory) {
	g := graph.NewGraph("/app/index.js")
	factory := graph.NewIDFactory()

	core := graph.NewModule("/app/node_modules/react-native/Libraries/Core/InitializeCore.js", graph.TypeModule)
	core.TransformedCode = "function(global,require,metroImportDefault,metroImportAll,module,exports,dependencyMap){}"

	entry := graph.NewModule("/app/index.js", graph.TypeModule)
	entry.TransformedCode = "function(global,require,metroImportDefault,metroImportAll,module,exports,dependencyMap){}"

	g.Add(core)
	g.Add(entry)

	factory.Assign(core.Path)
	factory.Assign(entry.Path)

	return g, factory
}

func TestPostambleImplicitlyPrependsInitializeCore(t *testing.T) {
	g, factory := buildGraphWithInitializeCore()

	bundle, err := Serialize(g, factory, Options{RunModule: true})
	require.NoError(t, err)

	coreIdx := strings.Index(bundle, "__r(0);")
	mainIdx := strings.Index(bundle, "__r(1);")
	require.GreaterOrEqual(t, coreIdx, 0)
	require.GreaterOrEqual(t, mainIdx, 0)
	assert.Less(t, coreIdx, mainIdx)
}

func TestPostambleDoesNotDuplicateExplicitInitializeCore(t *testing.T) {
	g, factory := buildGraphWithInitializeCore()
	corePath := "/app/node_modules/react-native/Libraries/Core/InitializeCore.js"

	bundle, err := Serialize(g, factory, Options{
		RunModule:           true,
		RunBeforeMainModule: []string{corePath},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(bundle, "__r(0);"))
}

func TestSerializeIsByteIdenticalAcrossCalls(t *testing.T) {
	g, factory := buildSimpleGraph()

	first, err := Serialize(g, factory, Options{RunModule: true})
	require.NoError(t, err)
	second, err := Serialize(g, factory, Options{RunModule: true})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSourceURLComponentPercentEncodesNonASCIISegments(t *testing.T) {
	comment := SourceURLComment("/app/café/index.js", "url-server")
	assert.Contains(t, comment, "caf%C3%A9")
}

func TestSourceURLCommentAbsoluteLeavesPathUnescaped(t *testing.T) {
	comment := SourceURLComment("/app/café/index.js", "absolute")
	assert.Contains(t, comment, "/app/café/index.js")
}

func TestModuleStatementInsertsIntoPrewrappedDefine(t *testing.T) {
	m := graph.NewModule("/app/a.js", graph.TypeModule)
	m.TransformedCode = "__d(function(g,r,id,ia,module,exports,dependencyMap){})"

	stmt := ModuleStatement(m, 3, []int{7})
	assert.Contains(t, stmt, ",3,[7],")
}
