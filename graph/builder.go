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

package graph

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"bungae.dev/bungae/cache"
	"bungae.dev/bungae/internal/bungaeerr"
	"bungae.dev/bungae/internal/logging"
	"bungae.dev/bungae/internal/platform"
	"bungae.dev/bungae/resolver"
	"bungae.dev/bungae/set"
	"bungae.dev/bungae/transform"
)

// BuildOptions configures the Graph Builder (C3).
type BuildOptions struct {
	Platform  resolver.Platform
	Dev       bool
	Target    transform.Target
	Sourcemap transform.SourceMapMode
	ExtraVars map[string]string
	// Workers bounds the number of concurrent transform workers; zero
	// selects runtime.NumCPU(), per §4.3's default.
	Workers int
}

// ConfigFingerprint renders the subset of BuildOptions that affects
// transform output into a stable string, used as half of the persistent
// cache key (§4.4).
func (o BuildOptions) ConfigFingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "platform=%s;dev=%t;target=%s;sourcemap=%s", o.Platform, o.Dev, o.Target, o.Sourcemap)
	if len(o.ExtraVars) > 0 {
		names := make([]string, 0, len(o.ExtraVars))
		for k := range o.ExtraVars {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, ";%s=%s", name, o.ExtraVars[name])
		}
	}
	return b.String()
}

type workResult struct {
	path   string
	module *Module
	err    error
}

// Build runs the Graph Builder's BFS traversal from entry: a single
// coordinator (this goroutine) owns the graph and assigns module ids; a
// bounded pool of workers transforms files off the coordinator. A
// TransformError or ResolutionError aborts the whole build and discards
// the partial graph, per §4.3 and §7 (no partial graph is ever published).
func Build(fs platform.FileSystem, entry string, res *resolver.Resolver, c *cache.Cache, opts BuildOptions) (*BuildState, error) {
	state := NewBuildState(entry)
	g := state.Graph

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool := transform.NewPool(workers, workers*4)
	defer pool.Close()

	results := make(chan workResult)
	queued := set.NewSet[string]()
	var requested []string
	pending := 0

	enqueue := func(path string) {
		if queued.Has(path) {
			return
		}
		queued.Add(path)
		requested = append(requested, path)
		pending++
		p := path
		if err := pool.Submit(func() error {
			m, err := buildModule(fs, p, res, c, opts)
			results <- workResult{path: p, module: m, err: err}
			return err
		}); err != nil {
			results <- workResult{path: p, err: err}
		}
	}

	enqueue(entry)

	for pending > 0 {
		r := <-results
		pending--
		if r.err != nil {
			return nil, r.err
		}
		g.Add(r.module)
		for _, dep := range r.module.ResolvedDependencies {
			enqueue(dep)
		}
	}

	// Edges are recorded once every module is present: AddEdge can only
	// mark an inverse dependency on a module that is already in the graph.
	for path, m := range g.Modules() {
		for _, dep := range m.ResolvedDependencies {
			g.AddEdge(path, dep)
		}
	}

	// IDs follow enqueue order, not the order transforms completed.
	for _, path := range requested {
		state.IDFactory.Assign(path)
	}

	if !g.Has(entry) {
		return nil, &bungaeerr.ResolutionError{Specifier: entry, Referrer: "", Attempts: []string{entry}}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	return state, nil
}

// buildModule reads, caches, transforms, and resolves the dependencies of
// a single file. The persistent cache is keyed on file content plus the
// build's config fingerprint; only a cache miss invokes the Transformer.
func buildModule(fs platform.FileSystem, path string, res *resolver.Resolver, c *cache.Cache, opts BuildOptions) (*Module, error) {
	content, err := fs.ReadFile(path)
	if err != nil {
		return nil, &bungaeerr.IOError{Component: "graph.Build", Err: err}
	}

	contentHash := cache.ContentHash(content)
	var code string
	var specifiers []string

	if c != nil {
		key := cache.Key(contentHash, opts.ConfigFingerprint())
		if entry, ok := c.Get(key); ok {
			code = entry.Code
			specifiers = entry.Dependencies
		} else {
			result, err := transform.Transform(content, transform.Options{
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
			code = result.Code
			specifiers = result.Specifiers
			if err := c.Set(key, &cache.Entry{
				Code:         result.Code,
				SourceMap:    result.SourceMap,
				Dependencies: result.Specifiers,
				ContentHash:  contentHash,
			}); err != nil {
				logging.Warning("%v", err)
			}
		}
	} else {
		result, err := transform.Transform(content, transform.Options{
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
		code = result.Code
		specifiers = result.Specifiers
	}

	referrerDir := filepath.Dir(path)
	resolvedDeps := make([]string, len(specifiers))
	for i, specifier := range specifiers {
		resolved, err := res.Resolve(specifier, referrerDir, opts.Platform)
		if err != nil {
			return nil, err
		}
		resolvedDeps[i] = resolved
	}

	m := NewModule(path, TypeModule)
	m.OriginalSpecifiers = specifiers
	m.ResolvedDependencies = resolvedDeps
	m.TransformedCode = code
	m.ContentHash = contentHash
	return m, nil
}
