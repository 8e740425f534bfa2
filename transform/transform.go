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

// Package transform implements the Transformer (C2): it lowers a single
// source file's Flow/TypeScript/JSX/ESM surface to a CJS-shaped factory
// body and extracts the file's dependency specifiers from the AST.
package transform

import (
	"fmt"
	"path/filepath"
	"strings"

	"bungae.dev/bungae/internal/astquery"
	"bungae.dev/bungae/internal/bungaeerr"
	"github.com/evanw/esbuild/pkg/api"
)

// Target is the ECMAScript output level esbuild lowers to.
type Target string

const (
	ES2015 Target = "es2015"
	ES2017 Target = "es2017"
	ES2019 Target = "es2019"
	ES2020 Target = "es2020"
	ES2022 Target = "es2022"
	ESNext Target = "esnext"
)

// IsValidTarget reports whether s names one of the supported Target
// values, used by the CLI to validate --target before it reaches the
// Transformer.
func IsValidTarget(s string) bool {
	switch Target(s) {
	case ES2015, ES2017, ES2019, ES2020, ES2022, ESNext:
		return true
	default:
		return false
	}
}

func (t Target) esbuild() api.Target {
	switch t {
	case ES2015:
		return api.ES2015
	case ES2017:
		return api.ES2017
	case ES2019:
		return api.ES2019
	case ES2022:
		return api.ES2022
	case ESNext:
		return api.ESNext
	default:
		return api.ES2020
	}
}

// SourceMapMode mirrors the dev-only source map modes the serializer
// understands (§1 Non-goals excludes production source map composition).
type SourceMapMode string

const (
	SourceMapInline   SourceMapMode = "inline"
	SourceMapExternal SourceMapMode = "external"
	SourceMapNone     SourceMapMode = "none"
)

func (m SourceMapMode) esbuild() api.SourceMap {
	switch m {
	case SourceMapExternal:
		return api.SourceMapExternal
	case SourceMapNone:
		return api.SourceMapNone
	default:
		return api.SourceMapInline
	}
}

// Options configures a single-file transform.
type Options struct {
	Path       string // absolute path, used for loader inference and diagnostics
	Target     Target
	Sourcemap  SourceMapMode
	Dev        bool
	Platform   string            // ios | android | web | native
	ExtraVars  map[string]string // serializer.extraVars, substituted as esbuild Define entries
}

// Result is the Transformer's output: a CJS-shaped factory body plus the
// ordered, deduplicated dependency specifiers extracted from its AST.
type Result struct {
	Code        string
	SourceMap   string
	Specifiers  []string
}

func loaderFor(path string) api.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx":
		return api.LoaderTSX
	case ".ts":
		return api.LoaderTS
	case ".jsx":
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

func dialectFor(path string) astquery.Dialect {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx", ".jsx":
		return astquery.DialectTSX
	default:
		return astquery.DialectTypeScript
	}
}

// Transform runs the full pipeline from §4.2: Flow/TS stripping and JSX
// transform (esbuild, targeting CommonJS output so `import`/`export` lower
// to `require()`/`exports` the way Metro's own Babel preset does),
// dependency-specifier extraction from the lowered AST, and the
// specifier -> dependencyMap[i] rewrite.
func Transform(source []byte, opts Options) (*Result, error) {
	defines := map[string]string{
		"__DEV__":             boolLiteral(opts.Dev),
		"process.env.NODE_ENV": strLiteral(nodeEnv(opts.Dev)),
	}
	if opts.Platform != "" {
		defines["__PLATFORM__"] = strLiteral(opts.Platform)
	}
	for k, v := range opts.ExtraVars {
		defines[k] = v
	}

	result := api.Transform(string(source), api.TransformOptions{
		Loader:     loaderFor(opts.Path),
		Target:     opts.Target.esbuild(),
		Format:     api.FormatCommonJS,
		Sourcemap:  opts.Sourcemap.esbuild(),
		Sourcefile: opts.Path,
		Define:     defines,
		JSX:        api.JSXAutomatic,
		TsconfigRaw: `{"compilerOptions":{"importHelpers":false}}`,
	})

	if len(result.Errors) > 0 {
		var b strings.Builder
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "%s\n", e.Text)
		}
		return nil, &bungaeerr.TransformError{Path: opts.Path, Diagnostic: b.String()}
	}

	code, specifiers, err := rewriteDependencyMap(result.Code, opts.Path)
	if err != nil {
		return nil, &bungaeerr.TransformError{Path: opts.Path, Diagnostic: err.Error()}
	}

	return &Result{
		Code:       code,
		SourceMap:  string(result.Map),
		Specifiers: specifiers,
	}, nil
}

// MinifyBundle runs esbuild's real minifier over an already-serialized
// bundle (whitespace/identifier/syntax minification only — no further
// Flow/TS/JSX lowering, since the bundle is already plain JS). This is
// the "external minifier" spec.md §6.6's `minify` option invokes; §1's
// Non-goal excludes hand-rolling a minifier, not reusing esbuild's.
func MinifyBundle(code string) (string, error) {
	result := api.Transform(code, api.TransformOptions{
		Loader:            api.LoaderJS,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
	})
	if len(result.Errors) > 0 {
		var b strings.Builder
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "%s\n", e.Text)
		}
		return "", &bungaeerr.TransformError{Path: "<bundle>", Diagnostic: b.String()}
	}
	return string(result.Code), nil
}

func boolLiteral(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func strLiteral(s string) string {
	return `"` + s + `"`
}

func nodeEnv(dev bool) string {
	if dev {
		return "development"
	}
	return "production"
}
