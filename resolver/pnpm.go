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

package resolver

import (
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// resolvePackageLayout maps a bare specifier to a candidate base path (no
// extension yet) under nmDir, trying, in order: a flat node_modules/<pkg>
// layout, pnpm's content-addressed .pnpm/<pkg>@<ver>/node_modules/<pkg>
// layout, and Bun's .bun/<scope>+<pkg>@<ver>+<hash>/node_modules/<scope>/
// <pkg> layout. Scoped packages (@scope/name) and subpath specifiers
// (pkg/lib/foo) are both handled.
func (r *Resolver) resolvePackageLayout(nmDir, specifier string) (string, bool) {
	pkgName, subpath := splitSpecifier(specifier)

	flat := filepath.Join(nmDir, filepath.FromSlash(pkgName))
	if r.isDir(flat) || r.fileExists(flat) {
		return joinSubpath(flat, subpath), true
	}

	if candidate, ok := r.resolvePnpmLayout(nmDir, pkgName, subpath); ok {
		return candidate, true
	}

	if candidate, ok := r.resolveBunLayout(nmDir, pkgName, subpath); ok {
		return candidate, true
	}

	return "", false
}

// splitSpecifier separates a bare specifier into its package name (honouring
// @scope/name) and any subpath that follows it.
func splitSpecifier(specifier string) (pkgName, subpath string) {
	parts := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") && len(parts) >= 2 {
		pkgName = parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			subpath = parts[2]
		}
		return
	}
	pkgName = parts[0]
	if len(parts) > 1 {
		subpath = strings.Join(parts[1:], "/")
	}
	return
}

func joinSubpath(base, subpath string) string {
	if subpath == "" {
		return base
	}
	return filepath.Join(base, filepath.FromSlash(subpath))
}

// resolvePnpmLayout searches nmDir/.pnpm for directories named
// <pkg>@<version>[_<peerHash>], picking the highest semver match when more
// than one version is installed side by side.
func (r *Resolver) resolvePnpmLayout(nmDir, pkgName, subpath string) (string, bool) {
	pnpmDir := filepath.Join(nmDir, ".pnpm")
	entries, err := r.fs.ReadDir(pnpmDir)
	if err != nil {
		return "", false
	}

	flatName := strings.ReplaceAll(pkgName, "/", "+")
	prefix := flatName + "@"

	var versions []string
	var dirByVersion = make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		version := rest
		if idx := strings.IndexByte(rest, '_'); idx >= 0 {
			version = rest[:idx]
		}
		v := "v" + version
		if !semver.IsValid(v) {
			continue
		}
		versions = append(versions, v)
		dirByVersion[v] = name
	}
	if len(versions) == 0 {
		return "", false
	}
	sort.Slice(versions, func(i, j int) bool { return semver.Compare(versions[i], versions[j]) < 0 })
	best := versions[len(versions)-1]

	pkgDir := filepath.Join(pnpmDir, dirByVersion[best], "node_modules", filepath.FromSlash(pkgName))
	if !r.isDir(pkgDir) {
		return "", false
	}
	return joinSubpath(pkgDir, subpath), true
}

// resolveBunLayout searches nmDir/.bun for directories named
// <scope>+<pkg>@<ver>+<hash> (Bun's content-addressed global store mirrored
// into a project-local .bun directory), preferring the highest semver.
func (r *Resolver) resolveBunLayout(nmDir, pkgName, subpath string) (string, bool) {
	bunDir := filepath.Join(nmDir, ".bun")
	entries, err := r.fs.ReadDir(bunDir)
	if err != nil {
		return "", false
	}

	flatName := strings.ReplaceAll(pkgName, "/", "+")

	var best string
	var bestVer string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, flatName+"@") {
			continue
		}
		rest := strings.TrimPrefix(name, flatName+"@")
		version := rest
		if idx := strings.IndexByte(rest, '+'); idx >= 0 {
			version = rest[:idx]
		}
		v := "v" + version
		if !semver.IsValid(v) {
			continue
		}
		if bestVer == "" || semver.Compare(v, bestVer) > 0 {
			bestVer = v
			best = name
		}
	}
	if best == "" {
		return "", false
	}

	pkgDir := filepath.Join(bunDir, best, "node_modules", filepath.FromSlash(pkgName))
	if !r.isDir(pkgDir) {
		return "", false
	}
	return joinSubpath(pkgDir, subpath), true
}
