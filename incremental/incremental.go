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

// Package incremental implements the Incremental Builder (C7): given a
// prior BuildState and a set of changed file paths, it produces a new
// BuildState and the Delta between them, reusing the same Resolver,
// Transformer, and Cache the initial Graph Builder uses (§4.7).
package incremental

import (
	"path/filepath"

	"bungae.dev/bungae/cache"
	"bungae.dev/bungae/graph"
	"bungae.dev/bungae/internal/bungaeerr"
	"bungae.dev/bungae/internal/logging"
	"bungae.dev/bungae/internal/platform"
	"bungae.dev/bungae/resolver"
	"bungae.dev/bungae/transform"
)

// Builder reuses one Resolver and one Cache across every incremental
// rebuild for a platform, mirroring the objects the initial Graph Builder
// was constructed with.
type Builder struct {
	fs       platform.FileSystem
	resolver *resolver.Resolver
	cache    *cache.Cache
	opts     graph.BuildOptions
}

// New constructs an incremental Builder sharing the given resolver and
// cache with the platform's initial build.
func New(fs platform.FileSystem, res *resolver.Resolver, c *cache.Cache, opts graph.BuildOptions) *Builder {
	return &Builder{fs: fs, resolver: res, cache: c, opts: opts}
}

// Rebuild computes the effect of changedPaths on old. It never mutates
// old: it works on a clone and only returns the clone once every
// affected module has been successfully re-transformed and re-resolved.
// A transform or resolution failure is reported as an error and old is
// left completely untouched (§4.7 edge case: transform failure doesn't
// corrupt old_state). Deleting the entry module is fatal, signalling the
// caller to fall back to a full rebuild.
func (b *Builder) Rebuild(old *graph.BuildState, changedPaths []string) (*graph.BuildState, *graph.Delta, error) {
	next := old.Clone()
	g := next.Graph
	delta := graph.NewDelta()

	toDelete, err := b.computeDeletions(g, changedPaths)
	if err != nil {
		return nil, nil, err
	}
	for _, path := range toDelete {
		if path == g.Entry {
			return nil, nil, &bungaeerr.ResolutionError{
				Specifier: path,
				Referrer:  "",
				Attempts:  []string{"entry module was deleted; full rebuild required"},
			}
		}
	}

	// Deletions apply first; IDs are never recycled (I6), so we only
	// remove graph membership, not the IDFactory's record.
	deletedSet := make(map[string]bool, len(toDelete))
	for _, path := range toDelete {
		g.Remove(path)
		deletedSet[path] = true
		delta.Deleted = append(delta.Deleted, path)
	}

	retransform := make(map[string]bool)
	for _, path := range changedPaths {
		if deletedSet[path] {
			continue
		}
		if !g.Has(path) && path != g.Entry {
			// §4.7 edge case: a changed path not present in the graph is
			// silently ignored.
			continue
		}
		retransform[path] = true
	}

	queue := make([]string, 0, len(retransform))
	for path := range retransform {
		queue = append(queue, path)
	}

	visited := make(map[string]bool)
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		if visited[path] {
			continue
		}
		visited[path] = true

		oldModule, hadOldModule := g.Get(path)
		var oldDeps []string
		if hadOldModule {
			oldDeps = append([]string(nil), oldModule.ResolvedDependencies...)
		}

		newModule, err := rebuildModule(b.fs, path, b.resolver, b.cache, b.opts)
		if err != nil {
			return nil, nil, err
		}
		if hadOldModule {
			newModule.InverseDependencies = oldModule.InverseDependencies.Clone()
		}
		g.Add(newModule)

		if hadOldModule {
			delta.Modified[path] = newModule
		} else {
			delta.Added[path] = newModule
		}

		oldDepSet := make(map[string]bool, len(oldDeps))
		for _, d := range oldDeps {
			oldDepSet[d] = true
		}
		newDepSet := make(map[string]bool, len(newModule.ResolvedDependencies))
		for _, d := range newModule.ResolvedDependencies {
			newDepSet[d] = true
		}

		for _, dep := range newModule.ResolvedDependencies {
			g.AddEdge(path, dep)
			if !oldDepSet[dep] {
				if !g.Has(dep) {
					queue = append(queue, dep)
				}
			}
		}

		for _, dep := range oldDeps {
			if newDepSet[dep] {
				continue
			}
			g.RemoveEdge(path, dep)
			if depModule, ok := g.Get(dep); ok && len(depModule.InverseDependencies) == 0 && dep != g.Entry {
				g.Remove(dep)
				delta.Deleted = append(delta.Deleted, dep)
				delete(delta.Added, dep)
				delete(delta.Modified, dep)
			}
		}
	}

	// Re-record edges now that every added module is present; AddEdge
	// above skips a dependency that was not yet in the graph.
	for path, m := range g.Modules() {
		for _, dep := range m.ResolvedDependencies {
			g.AddEdge(path, dep)
		}
	}

	for _, path := range g.RequestOrder() {
		next.IDFactory.Assign(path)
	}

	if err := g.Validate(); err != nil {
		return nil, nil, err
	}

	next.RevisionID = graph.NewRevisionID()
	return next, delta, nil
}

// computeDeletions resolves changedPaths against the filesystem: a path
// that is in the graph but no longer exists is a deletion candidate. The
// dependencies of a deleted file are not examined here, so one that
// becomes unreachable only through that deletion stays in the graph.
func (b *Builder) computeDeletions(g *graph.Graph, changedPaths []string) ([]string, error) {
	var deleted []string
	for _, path := range changedPaths {
		if !g.Has(path) {
			continue
		}
		if !b.fs.Exists(path) {
			deleted = append(deleted, path)
		}
	}
	return deleted, nil
}

func rebuildModule(fs platform.FileSystem, path string, res *resolver.Resolver, c *cache.Cache, opts graph.BuildOptions) (*graph.Module, error) {
	content, err := fs.ReadFile(path)
	if err != nil {
		return nil, &bungaeerr.IOError{Component: "incremental.Rebuild", Err: err}
	}

	contentHash := cache.ContentHash(content)
	configFingerprint := opts.ConfigFingerprint()
	var cacheKey string

	var result *transform.Result
	if c != nil {
		cacheKey = cache.Key(contentHash, configFingerprint)
		if entry, ok := c.Get(cacheKey); ok {
			result = &transform.Result{Code: entry.Code, SourceMap: entry.SourceMap, Specifiers: entry.Dependencies}
		}
	}
	if result == nil {
		var err error
		result, err = transform.Transform(content, transform.Options{
			Path:      path,
			Target:    opts.Target,
			Sourcemap: opts.Sourcemap,
			Dev:       opts.Dev,
			Platform:  string(opts.Platform),
			ExtraVars: opts.ExtraVars,
		})
		if err != nil {
			return nil, err
		}
		if c != nil {
			if err := c.Set(cacheKey, &cache.Entry{
				Code:         result.Code,
				SourceMap:    result.SourceMap,
				Dependencies: result.Specifiers,
				ContentHash:  contentHash,
			}); err != nil {
				logging.Warning("%v", err)
			}
		}
	}

	referrerDir := filepath.Dir(path)
	resolvedDeps := make([]string, len(result.Specifiers))
	for i, specifier := range result.Specifiers {
		resolved, err := res.Resolve(specifier, referrerDir, opts.Platform)
		if err != nil {
			return nil, err
		}
		resolvedDeps[i] = resolved
	}

	m := graph.NewModule(path, graph.TypeModule)
	m.OriginalSpecifiers = result.Specifiers
	m.ResolvedDependencies = resolvedDeps
	m.TransformedCode = result.Code
	m.SourceMap = result.SourceMap
	m.ContentHash = contentHash
	return m, nil
}
