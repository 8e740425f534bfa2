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

// Package astquery walks TypeScript/JavaScript source with tree-sitter,
// the AST facility the Transformer (§4.2.6) requires for dependency
// extraction: specifiers must be read off parsed import/export/require/
// import() sites, never regexed out of the raw source string.
package astquery

import (
	"embed"
	"fmt"
	"path"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

//go:embed */*.scm
var queryFS embed.FS

var languages = struct {
	typescript *ts.Language
	tsx        *ts.Language
}{
	ts.NewLanguage(tsTypescript.LanguageTypescript()),
	ts.NewLanguage(tsTypescript.LanguageTSX()),
}

var typescriptParserPool = sync.Pool{
	New: func() any {
		parser := ts.NewParser()
		if err := parser.SetLanguage(languages.typescript); err != nil {
			panic(fmt.Sprintf("failed to set TypeScript language: %v", err))
		}
		return parser
	},
}

var tsxParserPool = sync.Pool{
	New: func() any {
		parser := ts.NewParser()
		if err := parser.SetLanguage(languages.tsx); err != nil {
			panic(fmt.Sprintf("failed to set TSX language: %v", err))
		}
		return parser
	},
}

// Dialect selects which tree-sitter grammar a source file parses under.
type Dialect string

const (
	DialectTypeScript Dialect = "typescript"
	DialectTSX        Dialect = "tsx"
)

func pool(dialect Dialect) *sync.Pool {
	if dialect == DialectTSX {
		return &tsxParserPool
	}
	return &typescriptParserPool
}

func language(dialect Dialect) *ts.Language {
	if dialect == DialectTSX {
		return languages.tsx
	}
	return languages.typescript
}

// GetParser returns a pooled parser for dialect. Always call PutParser when
// done with it.
func GetParser(dialect Dialect) *ts.Parser {
	return pool(dialect).Get().(*ts.Parser)
}

// PutParser returns a parser to its dialect's pool.
func PutParser(dialect Dialect, parser *ts.Parser) {
	parser.Reset()
	pool(dialect).Put(parser)
}

// Manager holds the compiled "imports" query for each dialect. Queries are
// immutable once parsed from the embedded .scm source, so a single Manager
// may be shared across goroutines; only QueryCursor instances (created
// fresh per match) are not safe to share.
type Manager struct {
	queries map[Dialect]*ts.Query
}

// NewManager compiles the imports query for both dialects.
func NewManager() (*Manager, error) {
	m := &Manager{queries: make(map[Dialect]*ts.Query)}
	for _, d := range []Dialect{DialectTypeScript, DialectTSX} {
		q, err := loadQuery(d)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.queries[d] = q
	}
	return m, nil
}

func loadQuery(dialect Dialect) (*ts.Query, error) {
	queryPath := path.Join(string(dialect), "imports.scm")
	data, err := queryFS.ReadFile(queryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read query file %s: %w", queryPath, err)
	}
	query, err := ts.NewQuery(language(dialect), string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s imports query: %w", dialect, err)
	}
	return query, nil
}

// Close releases every compiled query. Call once at process shutdown.
func (m *Manager) Close() {
	for _, q := range m.queries {
		if q != nil {
			q.Close()
		}
	}
}

// Specifier is a single extracted dependency string with its byte range in
// the original source, needed for the textual dependencyMap rewrite
// (§4.2.7): the rewrite must replace exactly the quoted literal's bytes,
// not a source-string regex match.
type Specifier struct {
	Text      string
	StartByte uint
	EndByte   uint
}

// ExtractSpecifiers parses source under dialect and returns every import/
// export-from/require/dynamic-import specifier, in document order, each
// with the byte range of the captured string-fragment node (excludes the
// surrounding quote characters).
func (m *Manager) ExtractSpecifiers(source []byte, dialect Dialect) ([]Specifier, error) {
	query, ok := m.queries[dialect]
	if !ok {
		return nil, fmt.Errorf("no imports query compiled for dialect %s", dialect)
	}

	parser := GetParser(dialect)
	defer PutParser(dialect, parser)

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse source as %s", dialect)
	}
	defer tree.Close()

	captureIdx, ok := query.CaptureIndexForName("import.source")
	if !ok {
		return nil, fmt.Errorf("imports query missing import.source capture")
	}

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	var specifiers []Specifier
	matches := cursor.Matches(query, tree.RootNode(), source)
	for {
		match := matches.Next()
		if match == nil {
			break
		}
		for _, cap := range match.Captures {
			if uint(cap.Index) != captureIdx {
				continue
			}
			specifiers = append(specifiers, Specifier{
				Text:      cap.Node.Utf8Text(source),
				StartByte: cap.Node.StartByte(),
				EndByte:   cap.Node.EndByte(),
			})
		}
	}

	return specifiers, nil
}

var (
	globalManager *Manager
	globalOnce    sync.Once
	globalErr     error
)

// Global returns a process-wide singleton Manager, compiling queries on
// first use.
func Global() (*Manager, error) {
	globalOnce.Do(func() {
		globalManager, globalErr = NewManager()
	})
	return globalManager, globalErr
}
