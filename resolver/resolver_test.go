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
	"os"
	"path/filepath"
	"testing"

	"bungae.dev/bungae/internal/bungaeerr"
	"bungae.dev/bungae/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestResolveRelative(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "util.ts"), "export const x = 1;")
	writeFile(t, filepath.Join(root, "src", "index.ts"), "import { x } from './util';")

	r := New(platform.NewOSFileSystem(), DefaultConfig())
	resolved, err := r.Resolve("./util", filepath.Join(root, "src"), "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "util.ts"), resolved)
}

func TestResolvePlatformSuffix(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "widget.ios.ts"), "export default 1;")
	writeFile(t, filepath.Join(root, "src", "widget.ts"), "export default 2;")

	r := New(platform.NewOSFileSystem(), DefaultConfig())
	resolved, err := r.Resolve("./widget", filepath.Join(root, "src"), PlatformIOS)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "widget.ios.ts"), resolved)

	resolved, err = r.Resolve("./widget", filepath.Join(root, "src"), PlatformAndroid)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "widget.ts"), resolved)
}

func TestResolveDirectoryIndex(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "feature", "index.ts"), "export default 1;")

	r := New(platform.NewOSFileSystem(), DefaultConfig())
	resolved, err := r.Resolve("./feature", filepath.Join(root, "src"), "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "feature", "index.ts"), resolved)
}

func TestResolvePackageMain(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "leftpad")
	writeFile(t, filepath.Join(pkgDir, "package.json"), `{"main": "lib/index.js"}`)
	writeFile(t, filepath.Join(pkgDir, "lib", "index.js"), "module.exports = {};")

	r := New(platform.NewOSFileSystem(), DefaultConfig())
	resolved, err := r.Resolve("leftpad", root, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pkgDir, "lib", "index.js"), resolved)
}

func TestResolvePackageReactNativeField(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "some-rn-lib")
	writeFile(t, filepath.Join(pkgDir, "package.json"), `{"main": "index.js", "react-native": "index.native.js"}`)
	writeFile(t, filepath.Join(pkgDir, "index.js"), "module.exports = {};")
	writeFile(t, filepath.Join(pkgDir, "index.native.js"), "module.exports = {};")

	r := New(platform.NewOSFileSystem(), DefaultConfig())
	resolved, err := r.Resolve("some-rn-lib", root, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pkgDir, "index.native.js"), resolved)
}

func TestResolvePnpmLayout(t *testing.T) {
	root := t.TempDir()
	pnpmDir := filepath.Join(root, "node_modules", ".pnpm", "left-pad@1.3.0", "node_modules", "left-pad")
	writeFile(t, filepath.Join(pnpmDir, "index.js"), "module.exports = {};")

	r := New(platform.NewOSFileSystem(), DefaultConfig())
	resolved, err := r.Resolve("left-pad", root, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pnpmDir, "index.js"), resolved)
}

func TestResolvePnpmLayoutPicksHighestVersion(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "node_modules", ".pnpm", "left-pad@1.2.0", "node_modules", "left-pad")
	newer := filepath.Join(root, "node_modules", ".pnpm", "left-pad@1.10.0", "node_modules", "left-pad")
	writeFile(t, filepath.Join(old, "index.js"), "module.exports = 'old';")
	writeFile(t, filepath.Join(newer, "index.js"), "module.exports = 'new';")

	r := New(platform.NewOSFileSystem(), DefaultConfig())
	resolved, err := r.Resolve("left-pad", root, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(newer, "index.js"), resolved)
}

func TestResolveScopedPackage(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "@react-native", "polyfills")
	writeFile(t, filepath.Join(pkgDir, "package.json"), `{"main": "index.js"}`)
	writeFile(t, filepath.Join(pkgDir, "index.js"), "module.exports = {};")

	r := New(platform.NewOSFileSystem(), DefaultConfig())
	resolved, err := r.Resolve("@react-native/polyfills", root, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pkgDir, "index.js"), resolved)
}

func TestResolveNotFoundReturnsResolutionError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "index.ts"), "import './missing';")

	r := New(platform.NewOSFileSystem(), DefaultConfig())
	_, err := r.Resolve("./missing", filepath.Join(root, "src"), "")
	require.Error(t, err)

	var resErr *bungaeerr.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "./missing", resErr.Specifier)
	assert.NotEmpty(t, resErr.Attempts)
}

func TestResolveSuggestsSimilarSibling(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "widget.ts"), "export default 1;")

	r := New(platform.NewOSFileSystem(), DefaultConfig())
	_, err := r.Resolve("./widgt", filepath.Join(root, "src"), "")
	require.Error(t, err)

	var resErr *bungaeerr.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, resErr.Suggest, "widget")
}

func TestResolveExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "widget.stories.ts"), "export default 1;")

	cfg := DefaultConfig()
	cfg.ExcludeGlobs = []string{"**/*.stories.ts"}
	r := New(platform.NewOSFileSystem(), cfg)
	_, err := r.Resolve("./widget.stories", filepath.Join(root, "src"), "")
	assert.Error(t, err)
}
