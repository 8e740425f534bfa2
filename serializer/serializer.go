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

// Package serializer implements the Serializer (C6): it assembles a
// module graph into a single JS bundle whose prelude, per-module __d(...)
// wrapping, and postamble byte-match Metro's baseJSBundle output (§4.6,
// §8 S1-S3).
package serializer

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"bungae.dev/bungae/graph"
	"golang.org/x/text/unicode/norm"
)

// Polyfill is a path to a module that runs, unwrapped, before any __d
// module in the prelude.
type Polyfill struct {
	Path string
	Code string
}

// Options configures a single serialize call.
type Options struct {
	// Dev selects the virtual-globals __DEV__ value.
	Dev bool
	// RunModule, if true, appends a trailing __r(entryId) postamble call.
	RunModule bool
	// RunBeforeMainModule names modules (by path) whose __r(id) call is
	// emitted ahead of the entry point's, e.g. InitializeCore.
	RunBeforeMainModule []string
	Polyfills            []Polyfill
	// ExtraVars become `var NAME=VALUE;` statements in the prelude,
	// ahead of any polyfill code.
	ExtraVars map[string]string
	// SourceMappingURL, if non-empty, is emitted as a trailing comment.
	SourceMappingURL string
	// SourcePaths selects how sourceURL comments reference module paths:
	// "absolute" emits the filesystem path verbatim, "url-server" emits
	// a percent-encoded path suitable for embedding in a bundle URL.
	SourcePaths string
}

const virtualGlobalsPrelude = `var __DEV__=%s,__BUNDLE_START_TIME__=this.nativePerformanceNow?nativePerformanceNow():Date.now(),__METRO_GLOBAL_PREFIX__='';`

const metroRuntimePrelude = `(function(global){
  global.__r = metroRequire;
  global.__d = define;
  var modules = global.__metroModules || (global.__metroModules = {});
  var inited = {};
  function define(factory, moduleId, dependencyMap, verboseName) {
    if (modules[moduleId] != null) { return; }
    modules[moduleId] = { factory: factory, dependencyMap: dependencyMap, isInitialized: false, verboseName: verboseName };
  }
  function metroRequire(moduleId) {
    var module = modules[moduleId];
    if (!module || module.isInitialized) { return module ? module.exports : undefined; }
    module.isInitialized = true;
    var localModule = { exports: {} };
    module.exports = localModule.exports;
    module.factory.call(this, global, metroRequire, metroImportDefault, metroImportAll, localModule, localModule.exports, module.dependencyMap);
    module.exports = localModule.exports;
    return module.exports;
  }
  function metroImportDefault(moduleId) {
    var exports = metroRequire(moduleId);
    return exports && exports.__esModule ? exports.default : exports;
  }
  function metroImportAll(moduleId) {
    return metroRequire(moduleId);
  }
})(this);`

// Prelude renders the virtual-globals line, the IIFE-wrapped runtime
// polyfill, ExtraVars declarations, and any configured Polyfills, in
// that order (§4.6).
func Prelude(dev bool, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, virtualGlobalsPrelude, boolLiteral(dev))
	b.WriteString("\n")
	b.WriteString(metroRuntimePrelude)
	b.WriteString("\n")

	if len(opts.ExtraVars) > 0 {
		names := make([]string, 0, len(opts.ExtraVars))
		for k := range opts.ExtraVars {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "var %s=%s;\n", name, opts.ExtraVars[name])
		}
	}

	for _, p := range opts.Polyfills {
		b.WriteString(p.Code)
		b.WriteString("\n")
	}

	return b.String()
}

func boolLiteral(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ModuleStatement renders one module's __d(...) statement: the factory
// body as already produced by the Transformer, followed by its numeric
// id, its dependencyMap array (resolved module ids in the order of
// Module.OriginalSpecifiers, per P5), and its verbose name. When code
// already contains a pre-wrapped __d( call (as emitted by the
// Transformer when a source file itself calls define()), the id/deps/
// name arguments are inserted before the final closing paren instead of
// wrapping the code a second time.
func ModuleStatement(m *graph.Module, id int, depIDs []int) string {
	depArray := formatDepArray(depIDs)
	verboseName := fmt.Sprintf("%q", m.Path)

	if strings.HasPrefix(strings.TrimSpace(m.TransformedCode), "__d(") {
		return InsertBeforeFinalParen(m.TransformedCode, fmt.Sprintf(",%d,%s,%s", id, depArray, verboseName))
	}

	return fmt.Sprintf("__d(%s,%d,%s,%s);", m.TransformedCode, id, depArray, verboseName)
}

func formatDepArray(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// InsertBeforeFinalParen splices extra argument text in immediately
// before the last ")" in code, used both for wrapping an already-__d()'d
// factory and, in hmr.buildModuleEntry, for appending an HMR update's
// trailing inverseDependencies argument.
func InsertBeforeFinalParen(code, extra string) string {
	idx := strings.LastIndexByte(code, ')')
	if idx < 0 {
		return code + extra
	}
	return code[:idx] + extra + code[idx:]
}

// Postamble renders the run_before_main_module __r(id) calls, the entry
// point's own __r(id) call if RunModule is set, and the trailing
// sourceMappingURL comment. Libraries/Core/InitializeCore.js, if present
// anywhere in the graph, is implicitly prepended to RunBeforeMainModule
// ahead of whatever the caller passed (§4.6 postamble item 1): real RN
// entry points never list it explicitly, so Serialize has to find it
// itself or the bundle's globals never get installed before user code runs.
func Postamble(g *graph.Graph, factory *graph.IDFactory, opts Options) string {
	var b strings.Builder

	runBefore := opts.RunBeforeMainModule
	if !containsInitializeCore(runBefore) {
		if corePath, ok := findInitializeCore(g); ok {
			runBefore = append([]string{corePath}, runBefore...)
		}
	}

	for _, path := range runBefore {
		if id, ok := factory.Lookup(path); ok {
			fmt.Fprintf(&b, "__r(%d);\n", id)
		}
	}

	if opts.RunModule {
		if id, ok := factory.Lookup(g.Entry); ok {
			fmt.Fprintf(&b, "__r(%d);\n", id)
		}
	}

	if opts.SourceMappingURL != "" {
		fmt.Fprintf(&b, "//# sourceMappingURL=%s\n", opts.SourceMappingURL)
	}

	return b.String()
}

// findInitializeCore looks for a module whose path is
// Libraries/Core/InitializeCore.js, matched the way Metro's own require()
// resolution would see it: as a project-relative specifier, as a
// normalized absolute path, or as the tail of a longer absolute path
// (e.g. /app/node_modules/react-native/Libraries/Core/InitializeCore.js).
func findInitializeCore(g *graph.Graph) (string, bool) {
	for path := range g.Modules() {
		if isInitializeCorePath(path) {
			return path, true
		}
	}
	return "", false
}

func isInitializeCorePath(path string) bool {
	clean := filepath.ToSlash(filepath.Clean(path))
	if clean == "Libraries/Core/InitializeCore.js" {
		return true
	}
	segments := strings.Split(clean, "/")
	if len(segments) < 3 {
		return false
	}
	tail := segments[len(segments)-3:]
	return tail[0] == "Libraries" && tail[1] == "Core" && tail[2] == "InitializeCore.js"
}

func containsInitializeCore(paths []string) bool {
	for _, p := range paths {
		if isInitializeCorePath(p) {
			return true
		}
	}
	return false
}

// SourceURLComment renders the trailing //# sourceURL= comment for a
// single module, with its path percent-encoded per path segment when
// SourcePaths is "url-server" (§4.6, §8 S3: non-ASCII segments are
// percent-encoded individually, not the whole path).
func SourceURLComment(path string, sourcePaths string) string {
	return fmt.Sprintf("//# sourceURL=%s\n", SourcePath(path, sourcePaths))
}

// SourcePath renders a bare module path the way it's embedded as a field
// value (as opposed to SourceURLComment's JS-comment text): percent-encoded
// per path segment when sourcePaths is "url-server", verbatim otherwise.
// Shared by the bundle's sourceURL comment and the HMR wire protocol's
// sourceURL/sourceMappingURL fields (§4.8), which need the path itself
// rather than a comment wrapper.
func SourcePath(path string, sourcePaths string) string {
	if sourcePaths == "url-server" {
		return encodePathSegments(path)
	}
	return path
}

// encodePathSegments percent-encodes each path segment independently so
// a literal "/" in a module path is never mistaken for a path separator.
// Segments are first NFC-normalized: editors on different platforms save
// accented filenames with either a precomposed or a decomposed sequence
// of code points, and those must encode identically or the same module
// would get two different sourceURL comments across machines.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(norm.NFC.String(seg))
	}
	return strings.Join(segments, "/")
}

// Serialize assembles the full bundle: prelude, every module in
// increasing id order, and the postamble (§4.6). g's RequestOrder is not
// the emission order; modules are sorted by their assigned numeric id so
// that the bundle is independent of traversal order (P6).
func Serialize(g *graph.Graph, factory *graph.IDFactory, opts Options) (string, error) {
	type idModule struct {
		id int
		m  *graph.Module
	}

	var ordered []idModule
	for path, m := range g.Modules() {
		id, ok := factory.Lookup(path)
		if !ok {
			return "", fmt.Errorf("serializer: module %s has no assigned id", path)
		}
		ordered = append(ordered, idModule{id: id, m: m})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	var b strings.Builder
	b.WriteString(Prelude(opts.Dev, opts))
	b.WriteString("\n")

	for _, im := range ordered {
		depIDs := make([]int, 0, len(im.m.ResolvedDependencies))
		for _, dep := range im.m.ResolvedDependencies {
			depID, ok := factory.Lookup(dep)
			if !ok {
				return "", fmt.Errorf("serializer: unresolved dependency %s from %s", dep, im.m.Path)
			}
			depIDs = append(depIDs, depID)
		}
		b.WriteString(ModuleStatement(im.m, im.id, depIDs))
		b.WriteString("\n")
	}

	b.WriteString(Postamble(g, factory, opts))

	return b.String(), nil
}
