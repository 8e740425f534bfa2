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

package transform

import (
	"fmt"
	"strconv"
	"strings"

	"bungae.dev/bungae/internal/astquery"
)

// isFlowTypeOnly reports whether a specifier names a Flow type-only module,
// dropped from the dependency list per §4.2.6.
func isFlowTypeOnly(specifier string) bool {
	return strings.HasSuffix(specifier, ".flow") || strings.HasSuffix(specifier, ".flow.js")
}

// rewriteDependencyMap walks code's AST, collects every require()/import()
// specifier (order-preserving, first-occurrence deduplicated, Flow-only
// specifiers dropped), and splices each surviving occurrence's string
// literal to `dependencyMap[i]` where i is the specifier's index in the
// deduplicated list. The splice operates on byte ranges taken directly
// from the parse tree, never a source-string regex, per §4.2.7.
func rewriteDependencyMap(code string, path string) (string, []string, error) {
	manager, err := astquery.Global()
	if err != nil {
		return "", nil, fmt.Errorf("astquery manager unavailable: %w", err)
	}

	occurrences, err := manager.ExtractSpecifiers([]byte(code), dialectFor(path))
	if err != nil {
		return "", nil, err
	}

	var deduped []string
	seen := make(map[string]int)
	type replacement struct {
		start, end uint
		index      int
	}
	var replacements []replacement

	for _, occ := range occurrences {
		if isFlowTypeOnly(occ.Text) {
			continue
		}
		idx, ok := seen[occ.Text]
		if !ok {
			idx = len(deduped)
			seen[occ.Text] = idx
			deduped = append(deduped, occ.Text)
		}
		// Expand the string_fragment's byte range to cover the surrounding
		// quote characters so the splice replaces the whole string literal.
		replacements = append(replacements, replacement{
			start: occ.StartByte - 1,
			end:   occ.EndByte + 1,
			index: idx,
		})
	}

	if len(replacements) == 0 {
		return code, deduped, nil
	}

	var b strings.Builder
	b.Grow(len(code))
	last := uint(0)
	src := []byte(code)
	for _, r := range replacements {
		if r.start < last || int(r.start) > len(src) || int(r.end) > len(src) {
			// Overlapping or out-of-range byte ranges indicate two captures
			// matched the same literal (e.g. a require() call also matched
			// by the export-from pattern); skip rather than corrupt output.
			continue
		}
		b.Write(src[last:r.start])
		b.WriteString("dependencyMap[" + strconv.Itoa(r.index) + "]")
		last = r.end
	}
	b.Write(src[last:])

	return b.String(), deduped, nil
}
