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

package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"bungae.dev/bungae/cache"
	"bungae.dev/bungae/graph"
	"bungae.dev/bungae/internal/logging"
	"bungae.dev/bungae/internal/platform"
	"bungae.dev/bungae/resolver"
	"bungae.dev/bungae/serializer"
	"bungae.dev/bungae/transform"
	"github.com/gosimple/slug"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Bundle the project once and write the result to disk",
	Long: `build resolves the module graph from a single entry point, transforms
every module, and serializes the result to a single Metro-compatible
bundle file.`,
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	projectDir, _ := cmd.Flags().GetString("project")
	configPath, _ := cmd.Flags().GetString("config")
	cfg, _, err := loadConfig(projectDir, configPath)
	if err != nil {
		return err
	}

	platformFlag, _ := cmd.Flags().GetString("platform")
	if platformFlag != "" {
		cfg.Platform = platformFlag
	}
	if changed, _ := cmd.Flags().GetString("entry"); changed != "" {
		cfg.Entry = changed
	}
	if cmd.Flags().Changed("dev") {
		cfg.Dev, _ = cmd.Flags().GetBool("dev")
	}
	if cmd.Flags().Changed("minify") {
		cfg.Minify, _ = cmd.Flags().GetBool("minify")
	}
	outPath, _ := cmd.Flags().GetString("out")
	reportPath, _ := cmd.Flags().GetString("report")
	dumpGraphDir, _ := cmd.Flags().GetString("dump-graph")

	if cfg.Entry == "" {
		return newConfigError(fmt.Errorf("no entry point: pass --entry or set entry in bungae.config.yaml"))
	}
	if outPath == "" {
		return newConfigError(fmt.Errorf("--out is required for build"))
	}

	fs := platform.NewOSFileSystem()
	res := resolver.New(fs, resolverConfigFromBungae(cfg))

	cacheDir := cache.DefaultDir()
	c, err := cache.New(cacheDir)
	if err != nil {
		return fmt.Errorf("opening transform cache: %w", err)
	}

	sourcemap := transform.SourceMapNone
	if cfg.Dev {
		sourcemap = transform.SourceMapInline
	}
	opts := graph.BuildOptions{
		Platform:  resolver.Platform(cfg.Platform),
		Dev:       cfg.Dev,
		Target:    transform.ES2022,
		Sourcemap: sourcemap,
		ExtraVars: cfg.Serializer.ExtraVars,
	}

	entry, err := filepath.Abs(filepath.Join(cfg.Root, cfg.Entry))
	if err != nil {
		return fmt.Errorf("resolving entry path: %w", err)
	}

	pterm.Info.Printf("Building %s for %s...\n", cfg.Entry, cfg.Platform)
	start := time.Now()

	state, err := graph.Build(fs, entry, res, c, opts)
	if err != nil {
		pterm.Error.Printf("Build failed: %v\n", err)
		return err
	}
	elapsed := time.Since(start)

	if dumpGraphDir != "" {
		if err := dumpGraph(dumpGraphDir, state); err != nil {
			pterm.Warning.Printf("Could not dump graph: %v\n", err)
		}
	}

	polyfills, err := loadPolyfills(cfg.Root, cfg.Serializer.Polyfills)
	if err != nil {
		return fmt.Errorf("loading polyfills: %w", err)
	}

	bundle, err := serializer.Serialize(state.Graph, state.IDFactory, serializer.Options{
		Dev:       cfg.Dev,
		RunModule: true,
		Polyfills: polyfills,
		ExtraVars: cfg.Serializer.ExtraVars,
	})
	if err != nil {
		pterm.Error.Printf("Serialization failed: %v\n", err)
		return err
	}

	if cfg.Minify {
		minified, err := transform.MinifyBundle(bundle)
		if err != nil {
			pterm.Error.Printf("Minification failed: %v\n", err)
			return err
		}
		bundle = minified
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(outPath, []byte(bundle), 0o644); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}

	stats := c.Stats()
	logging.Rule()
	pterm.Success.Printf("Bundled %d modules (%d bytes) in %s -> %s\n",
		state.Graph.Len(), len(bundle), elapsed.Round(time.Millisecond), outPath)
	logging.Debug("cache hits=%d misses=%d", stats.Hits, stats.Misses)

	if reportPath != "" {
		if err := writeBuildReport(reportPath, state, len(bundle), elapsed, stats); err != nil {
			pterm.Warning.Printf("Could not write build report: %v\n", err)
		}
	}

	return nil
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

// writeBuildReport renders a Markdown build report (module count, total
// bytes, build time, cache hit/miss counts, top-10 largest modules) via goldmark with
// syntax-highlighted code fences, mirroring the teacher's markdown
// rendering stack for a different audience (a build artifact instead of
// rendered API docs).
func writeBuildReport(path string, state *graph.BuildState, bundleBytes int, elapsed time.Duration, stats cache.Stats) error {
	type moduleSize struct {
		Path  string
		Bytes int
	}
	modules := state.Graph.Modules()
	sizes := make([]moduleSize, 0, len(modules))
	for p, m := range modules {
		sizes = append(sizes, moduleSize{Path: p, Bytes: len(m.TransformedCode)})
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i].Bytes > sizes[j].Bytes })
	if len(sizes) > 10 {
		sizes = sizes[:10]
	}

	var md bytes.Buffer
	fmt.Fprintf(&md, "# Build report\n\n")
	fmt.Fprintf(&md, "- Modules: %d\n", state.Graph.Len())
	fmt.Fprintf(&md, "- Bundle size: %d bytes\n", bundleBytes)
	fmt.Fprintf(&md, "- Build time: %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(&md, "- Cache hits/misses: %d/%d\n\n", stats.Hits, stats.Misses)
	fmt.Fprintf(&md, "## Largest modules\n\n```text\n")
	for _, s := range sizes {
		fmt.Fprintf(&md, "%8d  %s\n", s.Bytes, s.Path)
	}
	fmt.Fprintf(&md, "```\n")

	gm := goldmark.New(goldmark.WithExtensions(highlighting.NewHighlighting(
		highlighting.WithStyle("github"),
	)))
	var rendered bytes.Buffer
	if err := gm.Convert(md.Bytes(), &rendered); err != nil {
		return err
	}
	return os.WriteFile(path, rendered.Bytes(), 0o644)
}

// dumpGraph writes one file per module's transformed code under dir, for
// inspecting what the transformer actually produced without picking it
// back apart from the serialized bundle. Filenames are a slug of each
// module's resolved path rather than the path verbatim, since a path can
// contain characters a filesystem won't accept; the numeric id prefix
// keeps two modules whose slugs collide from overwriting one another.
func dumpGraph(dir string, state *graph.BuildState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dump-graph directory: %w", err)
	}
	for path, m := range state.Graph.Modules() {
		id, ok := state.IDFactory.Lookup(path)
		if !ok {
			continue
		}
		name := fmt.Sprintf("%04d-%s.js", id, slug.Make(path))
		if err := os.WriteFile(filepath.Join(dir, name), []byte(m.TransformedCode), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().String("platform", "", "target platform: ios | android")
	buildCmd.Flags().Bool("dev", true, "include dev-only code paths and verboseName")
	buildCmd.Flags().Bool("minify", false, "run esbuild's minifier over the serialized bundle")
	buildCmd.Flags().String("entry", "", "entry point, resolved relative to --project")
	buildCmd.Flags().String("out", "", "output bundle file path")
	buildCmd.Flags().String("report", "", "write a Markdown build report to this path")
	buildCmd.Flags().String("dump-graph", "", "write one file per module's transformed code to this directory, for debugging")
}
