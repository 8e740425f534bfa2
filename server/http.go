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

package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"bungae.dev/bungae/internal/logging"
	"bungae.dev/bungae/resolver"
	"bungae.dev/bungae/serializer"
	"bungae.dev/bungae/transform"
	"github.com/dunglas/go-urlpattern"
	"github.com/microcosm-cc/bluemonday"
)

const urlPatternBaseURL = "https://bungae.internal"

var bundlePattern = mustURLPattern("/:name.bundle{.js}?")
var assetPattern = mustURLPattern("/assets/*")
var nodeModulesPattern = mustURLPattern("/node_modules/*")

func mustURLPattern(pattern string) *urlpattern.URLPattern {
	p, err := urlpattern.New(pattern, urlPatternBaseURL, nil)
	if err != nil {
		panic("server: invalid route pattern " + pattern + ": " + err.Error())
	}
	return p
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error("server: marshaling HMR message: %v", err)
		return []byte(`{"type":"error","error":"internal"}`)
	}
	return data
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/reload", s.handleBroadcastOnly("reload"))
	mux.HandleFunc("/devmenu", s.handleBroadcastOnly("devMenu"))
	mux.HandleFunc("/symbolicate", s.handleSymbolicate)
	mux.HandleFunc("/hot", s.handleHot)
	mux.HandleFunc("/", s.handleCatchAll)
}

func (s *Server) handleCatchAll(w http.ResponseWriter, r *http.Request) {
	full := urlPatternBaseURL + r.URL.Path
	switch {
	case strings.HasSuffix(r.URL.Path, ".map"):
		s.handleSourceMap(w, r)
	case bundlePattern.Exec(full, "") != nil:
		s.handleBundle(w, r)
	case assetPattern.Exec(full, "") != nil:
		s.handleAsset(w, r)
	case nodeModulesPattern.Exec(full, "") != nil:
		s.handleNodeModules(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("packager-status:running"))
}

func (s *Server) handleBroadcastOnly(messageType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		plat := r.URL.Query().Get("platform")
		s.hub.Broadcast(plat, mustJSON(map[string]string{"type": messageType}))
		w.WriteHeader(http.StatusOK)
	}
}

type bundleParams struct {
	platform        resolver.Platform
	dev             bool
	minify          bool
	runModule       bool
	modulesOnly     bool
	excludeSource   bool
	inlineSourceMap bool
	sourcePaths     string
}

func parseBundleParams(r *http.Request) bundleParams {
	q := r.URL.Query()
	p := bundleParams{
		platform:    resolver.Platform(q.Get("platform")),
		dev:         q.Get("dev") != "false",
		minify:      q.Get("minify") == "true",
		runModule:   q.Get("runModule") != "false",
		modulesOnly: q.Get("modulesOnly") == "true",
		sourcePaths: q.Get("sourcePaths"),
	}
	p.excludeSource = q.Get("excludeSource") == "true"
	p.inlineSourceMap = q.Get("inlineSourceMap") == "true"
	if p.platform == "" {
		p.platform = resolver.PlatformIOS
	}
	if p.sourcePaths == "" {
		p.sourcePaths = "url-server"
	}
	return p
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	params := parseBundleParams(r)

	sess, err := s.sessionFor(params.platform)
	if err != nil {
		writeBuildError(w, err)
		return
	}

	sess.mu.RLock()
	st := sess.state
	sess.mu.RUnlock()

	opts := serializer.Options{
		Dev:         params.dev,
		RunModule:   params.runModule && !params.modulesOnly,
		SourcePaths: params.sourcePaths,
		Polyfills:   s.polyfills,
		ExtraVars:   s.cfg.Serializer.ExtraVars,
	}
	bundle, err := serializer.Serialize(st.Graph, st.IDFactory, opts)
	if err != nil {
		writeBuildError(w, err)
		return
	}

	if params.minify {
		minified, err := transform.MinifyBundle(bundle)
		if err != nil {
			writeBuildError(w, err)
			return
		}
		bundle = minified
	}

	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = w.Write([]byte(bundle))
}

func (s *Server) handleSourceMap(w http.ResponseWriter, r *http.Request) {
	params := parseBundleParams(r)
	sess, err := s.sessionFor(params.platform)
	if err != nil {
		writeBuildError(w, err)
		return
	}

	sess.mu.RLock()
	st := sess.state
	sess.mu.RUnlock()

	type mapSource struct {
		Path      string `json:"path"`
		SourceMap string `json:"sourceMap,omitempty"`
	}
	modules := st.Graph.Modules()
	sources := make([]mapSource, 0, len(modules))
	for path, m := range modules {
		sources = append(sources, mapSource{Path: path, SourceMap: m.SourceMap})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"version": 3,
		"sources": sources,
	})
}

func writeBuildError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// resolveUnderRoot resolves requestPath (a URL path fragment, already
// stripped of its route prefix) against root, rejecting any result that
// escapes root via ".." segments or symlinks (§6.2, §8 P8/S6: never 200
// on an escape).
func resolveUnderRoot(root, requestPath string) (string, bool) {
	candidate := filepath.Join(root, filepath.FromSlash(requestPath))

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return "", false
	}
	if absCandidate != absRoot && !strings.HasPrefix(absCandidate, absRoot+string(filepath.Separator)) {
		return "", false
	}
	if real, err := filepath.EvalSymlinks(absCandidate); err == nil {
		if realRoot, err := filepath.EvalSymlinks(absRoot); err == nil &&
			real != realRoot && !strings.HasPrefix(real, realRoot+string(filepath.Separator)) {
			return "", false
		}
	}
	return absCandidate, true
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	requestPath := strings.TrimPrefix(r.URL.Path, "/assets")
	path, ok := resolveUnderRoot(s.cfg.Root, requestPath)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	s.serveFile(w, path)
}

func (s *Server) handleNodeModules(w http.ResponseWriter, r *http.Request) {
	requestPath := strings.TrimPrefix(r.URL.Path, "/node_modules")

	roots := append([]string{filepath.Join(s.cfg.Root, "node_modules")}, s.cfg.Resolver.NodeModulesPaths...)
	for _, root := range roots {
		path, ok := resolveUnderRoot(root, requestPath)
		if !ok {
			continue
		}
		if !s.fs.Exists(path) {
			continue
		}
		s.serveFile(w, path)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) serveFile(w http.ResponseWriter, path string) {
	if !s.fs.Exists(path) {
		http.NotFound(w, nil)
		return
	}
	data, err := s.fs.ReadFile(path)
	if err != nil {
		http.NotFound(w, nil)
		return
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	_, _ = w.Write(data)
}

// symbolicateFrame mirrors the shape of a single Metro stack frame in the
// §6.2 /symbolicate request/response bodies.
type symbolicateFrame struct {
	File       string `json:"file"`
	LineNumber int    `json:"lineNumber"`
	Column     int    `json:"column"`
	MethodName string `json:"methodName"`
}

type symbolicateRequest struct {
	Stack     []symbolicateFrame `json:"stack"`
	ExtraData map[string]any     `json:"extraData,omitempty"`
}

type codeFrame struct {
	Content  string `json:"content"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
	FileName string `json:"fileName"`
}

type symbolicateResponse struct {
	Stack     []symbolicateFrame `json:"stack"`
	CodeFrame *codeFrame         `json:"codeFrame"`
}

var codeFrameSanitizer = bluemonday.StrictPolicy()

func (s *Server) handleSymbolicate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var req symbolicateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp := symbolicateResponse{Stack: req.Stack}

	for _, frame := range req.Stack {
		if frame.File == "debuggerWorker.js" || frame.File == "" {
			continue
		}
		if !s.fs.Exists(frame.File) {
			continue
		}
		content, err := s.fs.ReadFile(frame.File)
		if err != nil {
			continue
		}
		lines := strings.Split(string(content), "\n")
		if frame.LineNumber <= 0 || frame.LineNumber > len(lines) {
			continue
		}
		snippet := lines[frame.LineNumber-1]
		cf := &codeFrame{
			Content:  codeFrameSanitizer.Sanitize(snippet),
			FileName: frame.File,
		}
		cf.Location.Row = frame.LineNumber
		cf.Location.Column = frame.Column
		resp.CodeFrame = cf
		break
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHot(w http.ResponseWriter, r *http.Request) {
	plat := r.URL.Query().Get("platform")
	s.hub.HandleUpgrade(w, r, plat)
}
