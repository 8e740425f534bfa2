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

// Package server wires the Graph Builder, Persistent Cache, Incremental
// Builder, and HMR Message Builder into the dev server's HTTP and
// WebSocket surface (§6.2, §6.4).
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bungae.dev/bungae/cache"
	"bungae.dev/bungae/graph"
	"bungae.dev/bungae/hmr"
	"bungae.dev/bungae/incremental"
	"bungae.dev/bungae/internal/config"
	"bungae.dev/bungae/internal/logging"
	"bungae.dev/bungae/internal/platform"
	"bungae.dev/bungae/resolver"
	"bungae.dev/bungae/serializer"
	"bungae.dev/bungae/transform"
)

// platformSession holds everything the server keeps per requested
// platform: its own BuildState (module ids are never shared across
// platforms, per the Module ID Factory's independence guarantee) and the
// Incremental Builder whose Rebuild result replaces that state on
// file-watcher events.
type platformSession struct {
	mu          sync.RWMutex
	state       *graph.BuildState
	incremental *incremental.Builder
}

// Server is the bungae dev server: one process, one project root, one
// Resolver and Cache shared across every platform's BuildState.
type Server struct {
	cfg       *config.Config
	fs        platform.FileSystem
	resolver  *resolver.Resolver
	cache     *cache.Cache
	hub       *HMRHub
	watcher   *Watcher
	httpSrv   *http.Server
	polyfills []serializer.Polyfill

	mu       sync.Mutex
	sessions map[resolver.Platform]*platformSession
}

// New constructs a Server for cfg, rooted at cfg.Root.
func New(cfg *config.Config) (*Server, error) {
	fs := platform.NewOSFileSystem()

	resolverCfg := resolver.DefaultConfig()
	if len(cfg.Resolver.SourceExts) > 0 {
		resolverCfg.SourceExts = cfg.Resolver.SourceExts
	}
	if len(cfg.Resolver.AssetExts) > 0 {
		resolverCfg.AssetExts = cfg.Resolver.AssetExts
	}
	if len(cfg.Resolver.Platforms) > 0 {
		resolverCfg.Platforms = cfg.Resolver.Platforms
	}
	resolverCfg.NodeModulesPaths = cfg.Resolver.NodeModulesPaths
	resolverCfg.PreferNativePlatform = cfg.Resolver.PreferNativePlatform
	resolverCfg.ExcludeGlobs = cfg.Resolver.ExcludeGlobs

	res := resolver.New(fs, resolverCfg)

	cacheDir := cache.DefaultDir()
	c, err := cache.New(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("server: opening transform cache: %w", err)
	}

	watcher, err := NewWatcher(150*time.Millisecond, cfg.Resolver.ExcludeGlobs)
	if err != nil {
		return nil, fmt.Errorf("server: starting file watcher: %w", err)
	}

	polyfills, err := loadPolyfills(cfg.Root, cfg.Serializer.Polyfills)
	if err != nil {
		return nil, fmt.Errorf("server: loading polyfills: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		fs:        fs,
		resolver:  res,
		cache:     c,
		hub:       NewHMRHub(cfg.Server.VerifyConnections),
		watcher:   watcher,
		polyfills: polyfills,
		sessions:  make(map[resolver.Platform]*platformSession),
	}
	return s, nil
}

// loadPolyfills reads each configured polyfill path (relative to root)
// into a serializer.Polyfill, unwrapped code injected ahead of any
// module factory per §4.6.
func loadPolyfills(root string, paths []string) ([]serializer.Polyfill, error) {
	polyfills := make([]serializer.Polyfill, 0, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(p) {
			abs = filepath.Join(root, p)
		}
		code, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("reading polyfill %s: %w", p, err)
		}
		polyfills = append(polyfills, serializer.Polyfill{Path: p, Code: string(code)})
	}
	return polyfills, nil
}

func (s *Server) buildOptions(plat resolver.Platform) graph.BuildOptions {
	sourcemap := transform.SourceMapNone
	if s.cfg.Dev {
		sourcemap = transform.SourceMapInline
	}
	return graph.BuildOptions{
		Platform:  plat,
		Dev:       s.cfg.Dev,
		Target:    transform.ES2022,
		Sourcemap: sourcemap,
		ExtraVars: s.cfg.Serializer.ExtraVars,
	}
}

// sessionFor returns the platformSession for plat, building it from
// scratch on first request (lazy per-platform initial build, matching
// the teacher's "build on first request" demo-server pattern).
func (s *Server) sessionFor(plat resolver.Platform) (*platformSession, error) {
	s.mu.Lock()
	sess, ok := s.sessions[plat]
	if ok {
		s.mu.Unlock()
		return sess, nil
	}
	sess = &platformSession{}
	s.sessions[plat] = sess
	s.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state != nil {
		return sess, nil
	}

	entry, err := filepath.Abs(filepath.Join(s.cfg.Root, s.cfg.Entry))
	if err != nil {
		return nil, fmt.Errorf("server: resolving entry path: %w", err)
	}

	opts := s.buildOptions(plat)
	state, err := graph.Build(s.fs, entry, s.resolver, s.cache, opts)
	if err != nil {
		return nil, err
	}
	sess.state = state
	sess.incremental = incremental.New(s.fs, s.resolver, s.cache, opts)
	return sess, nil
}

// rebuild reruns the Incremental Builder for every platform session
// already established, broadcasting an HMR update or error per platform
// (§7: incremental failures fall back to an error broadcast, never
// corrupting the retained BuildState).
func (s *Server) rebuild(changedPaths []string) {
	s.mu.Lock()
	platforms := make([]resolver.Platform, 0, len(s.sessions))
	for p := range s.sessions {
		platforms = append(platforms, p)
	}
	s.mu.Unlock()

	for _, plat := range platforms {
		s.mu.Lock()
		sess := s.sessions[plat]
		s.mu.Unlock()

		sess.mu.Lock()
		next, delta, err := sess.incremental.Rebuild(sess.state, changedPaths)
		if err != nil {
			sess.mu.Unlock()
			s.hub.Broadcast(string(plat), mustJSON(hmr.Err(err)))
			logging.Warning("incremental rebuild failed for platform %s: %v", plat, err)
			continue
		}
		if delta.IsEmpty() {
			sess.mu.Unlock()
			continue
		}
		sess.state = next
		sess.mu.Unlock()

		s.hub.Broadcast(string(plat), mustJSON(hmr.UpdateStart()))
		body := hmr.BuildUpdate(delta, next, false, s.cfg.Root, "url-server")
		s.hub.Broadcast(string(plat), mustJSON(hmr.Update(body)))
		s.hub.Broadcast(string(plat), mustJSON(hmr.UpdateDone()))
		logging.Info("HMR update sent to platform %s (%d added, %d modified, %d deleted)",
			plat, len(delta.Added), len(delta.Modified), len(delta.Deleted))
	}
}

// Start begins watching cfg.Root for changes (if cfg.Dev) and listens on
// cfg.Server.Port. It blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Dev {
		if err := s.watcher.Watch(s.cfg.Root); err != nil {
			return fmt.Errorf("server: watching project root: %w", err)
		}
		go s.watchLoop()
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server started on http://localhost:%d", s.cfg.Server.Port)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) watchLoop() {
	for event := range s.watcher.Events() {
		s.rebuild(event.Paths)
	}
}

// Close shuts down the HTTP listener, the file watcher, and every HMR
// connection.
func (s *Server) Close() error {
	s.hub.CloseAll()
	_ = s.watcher.Close()
	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}
