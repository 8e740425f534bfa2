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

// Package resolver implements the Module Resolver (C1): mapping a
// specifier in a referrer's directory to an absolute file path, honouring
// platform suffixes and node_modules layouts (§4.1). A Resolver is a pure
// function of filesystem state plus its own in-process realpath cache; it
// never mutates the graph or any other shared state.
package resolver

import (
	"path/filepath"
	"strings"
	"sync"

	"bungae.dev/bungae/internal/bungaeerr"
	"bungae.dev/bungae/internal/platform"
	"github.com/agext/levenshtein"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/gjson"
)

// Platform selects the resolver's suffix order and the Transformer's
// __PLATFORM__ define value.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
	PlatformNative  Platform = "native"
)

// Config holds the options the resolver consumes, per §6.6.
type Config struct {
	SourceExts           []string
	AssetExts            []string
	Platforms            []string
	NodeModulesPaths     []string
	PreferNativePlatform bool
	// ExcludeGlobs, if non-empty, are doublestar patterns; a specifier's
	// resolved path matching one of these is treated as unresolvable
	// (used to keep *.stories.* or test fixtures out of a production graph).
	ExcludeGlobs []string
}

// DefaultConfig returns Metro's conventional resolver defaults.
func DefaultConfig() Config {
	return Config{
		SourceExts: []string{"js", "jsx", "ts", "tsx", "mjs", "cjs", "json"},
		AssetExts: []string{
			"png", "jpg", "jpeg", "gif", "webp", "svg", "ttf", "otf", "mp4", "mp3", "wav",
		},
		Platforms: []string{"ios", "android"},
	}
}


// Resolver resolves specifiers against a project root.
type Resolver struct {
	fs     platform.FileSystem
	config Config

	mu            sync.Mutex
	realpathCache map[string]string
}

// New constructs a Resolver over fs with the given config.
func New(fs platform.FileSystem, config Config) *Resolver {
	return &Resolver{
		fs:            fs,
		config:        config,
		realpathCache: make(map[string]string),
	}
}

// Resolve maps specifier, seen while processing referrerDir, to an
// absolute path. It never returns a path outside the candidates named in
// §4.1; on failure it returns a *bungaeerr.ResolutionError.
func (r *Resolver) Resolve(specifier, referrerDir string, plat Platform) (string, error) {
	var attempts []string

	var base string
	if isRelativeOrAbsolute(specifier) {
		base = filepath.Join(referrerDir, specifier)
		if resolved, tried, err := r.resolveBase(base, plat); err == nil {
			return r.realpath(resolved), nil
		} else {
			attempts = append(attempts, tried...)
		}
	} else {
		for _, nmDir := range r.nodeModulesSearchPath(referrerDir) {
			candidateBase, ok := r.resolvePackageLayout(nmDir, specifier)
			if !ok {
				continue
			}
			if resolved, tried, err := r.resolveBase(candidateBase, plat); err == nil {
				return r.realpath(resolved), nil
			} else {
				attempts = append(attempts, tried...)
			}
		}
	}

	suggestion := r.suggestSibling(filepath.Dir(base), filepath.Base(specifier))
	return "", &bungaeerr.ResolutionError{
		Specifier: specifier,
		Referrer:  referrerDir,
		Attempts:  attempts,
		Suggest:   suggestion,
	}
}

func isRelativeOrAbsolute(specifier string) bool {
	return strings.HasPrefix(specifier, "./") ||
		strings.HasPrefix(specifier, "../") ||
		filepath.IsAbs(specifier)
}

// resolveBase applies platform-suffix candidates and then, for a
// directory, its package.json entry field followed by the directory
// index lookup, against a path with no extension decided yet.
func (r *Resolver) resolveBase(base string, plat Platform) (string, []string, error) {
	var tried []string

	for _, ext := range r.allExts() {
		for _, candidate := range r.suffixCandidates(base, ext, plat) {
			tried = append(tried, candidate)
			if r.fileExists(candidate) {
				return candidate, tried, nil
			}
		}
	}

	// base itself, unsuffixed (e.g. a .json asset passed with explicit ext)
	tried = append(tried, base)
	if r.fileExists(base) {
		return base, tried, nil
	}

	if r.isDir(base) {
		if pkgMain, ok := r.packageMain(base); ok && filepath.Join(base, pkgMain) != base {
			mainPath := filepath.Join(base, pkgMain)
			if resolved, moreTried, err := r.resolveBase(mainPath, plat); err == nil {
				return resolved, append(tried, moreTried...), nil
			}
			tried = append(tried, mainPath)
		}

		for _, ext := range r.allExts() {
			for _, candidate := range r.suffixCandidates(filepath.Join(base, "index"), ext, plat) {
				tried = append(tried, candidate)
				if r.fileExists(candidate) {
					return candidate, tried, nil
				}
			}
		}
	}

	return "", tried, &bungaeerr.ResolutionError{Specifier: base, Attempts: tried}
}

// suffixCandidates returns, in priority order: base.<platform>.<ext>,
// base.native.<ext> (only if PreferNativePlatform), base.<ext>.
func (r *Resolver) suffixCandidates(base, ext string, plat Platform) []string {
	var out []string
	if plat != "" {
		out = append(out, base+"."+string(plat)+"."+ext)
	}
	if r.config.PreferNativePlatform {
		out = append(out, base+".native."+ext)
	}
	out = append(out, base+"."+ext)
	return out
}

func (r *Resolver) allExts() []string {
	out := make([]string, 0, len(r.config.SourceExts)+len(r.config.AssetExts))
	out = append(out, r.config.SourceExts...)
	out = append(out, r.config.AssetExts...)
	return out
}

// packageMain reads a package's entry point, honouring the same field
// precedence Metro applies: "react-native" wins over a string-valued
// "browser" field, which wins over "main". Single-field gjson lookups
// avoid unmarshalling the whole manifest just to read three keys, and
// tolerate the inevitable package.json files that don't validate as
// strict JSON (trailing commas, comments) that strict decoding would reject.
func (r *Resolver) packageMain(dir string) (string, bool) {
	data, err := r.fs.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "", false
	}
	if !gjson.ValidBytes(data) {
		return "", false
	}
	fields := gjson.GetManyBytes(data, "react-native", "browser", "main")
	for _, f := range fields {
		if f.Type == gjson.String && f.Str != "" {
			return f.Str, true
		}
	}
	return "", false
}

// fileExists reports whether path names a regular file this resolver is
// willing to hand back: it must exist and must not match an ExcludeGlobs
// pattern (§6.6), so excluded fixtures never leak into a production graph.
func (r *Resolver) fileExists(path string) bool {
	info, err := r.fs.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return !excluded(r.config.ExcludeGlobs, path)
}

func (r *Resolver) isDir(path string) bool {
	info, err := r.fs.Stat(path)
	return err == nil && info.IsDir()
}

// realpath resolves symlinks at most once per path, caching the result.
// Resolution goes through r.fs rather than calling filepath.EvalSymlinks
// directly, so a resolver under test against platform.MapFS never reaches
// past the mock onto the real filesystem.
func (r *Resolver) realpath(path string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.realpathCache[path]; ok {
		return cached
	}
	resolved, err := r.fs.RealPath(path)
	if err != nil {
		resolved = path
	}
	r.realpathCache[path] = resolved
	return resolved
}

// suggestSibling offers an agext/levenshtein "did you mean" candidate from
// files in dir whose name, with or without its extension, is within edit
// distance 2 of target. Purely cosmetic: it never changes resolution
// success or failure.
func (r *Resolver) suggestSibling(dir, target string) string {
	entries, err := r.fs.ReadDir(dir)
	if err != nil {
		return ""
	}
	best := ""
	bestDist := 3
	for _, e := range entries {
		name := e.Name()
		dist := levenshtein.Distance(name, target, nil)
		if d := levenshtein.Distance(strings.TrimSuffix(name, filepath.Ext(name)), target, nil); d < dist {
			dist = d
		}
		if dist < bestDist {
			bestDist = dist
			best = name
		}
	}
	return best
}

func excluded(globs []string, path string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, filepath.ToSlash(path)); ok {
			return true
		}
	}
	return false
}

// nodeModulesSearchPath climbs from referrerDir to the filesystem root,
// yielding each ancestor's node_modules directory, followed by any
// additionally configured paths.
func (r *Resolver) nodeModulesSearchPath(referrerDir string) []string {
	var dirs []string
	dir := referrerDir
	for {
		dirs = append(dirs, filepath.Join(dir, "node_modules"))
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	dirs = append(dirs, r.config.NodeModulesPaths...)
	return dirs
}
