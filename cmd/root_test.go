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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWhenNoConfigFile(t *testing.T) {
	root := t.TempDir()
	cfg, cfgPath, err := loadConfig(root, "")
	require.NoError(t, err)
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, "ios", cfg.Platform)
	assert.Equal(t, filepath.Join(root, "bungae.config.yaml"), cfgPath)
}

func TestLoadConfigMergesUserFile(t *testing.T) {
	root := t.TempDir()
	cfgFile := filepath.Join(root, "bungae.config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("entry: src/index.js\nplatform: android\n"), 0o644))

	cfg, _, err := loadConfig(root, "")
	require.NoError(t, err)
	assert.Equal(t, "src/index.js", cfg.Entry)
	assert.Equal(t, "android", cfg.Platform)
	// defaults not present in the user file survive the merge.
	assert.NotEmpty(t, cfg.Resolver.SourceExts)
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	root := t.TempDir()
	cfgFile := filepath.Join(root, "bungae.config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("entry: [unterminated\n"), 0o644))

	_, _, err := loadConfig(root, "")
	require.Error(t, err)
	var cfgErr *configErrorMarker
	assert.True(t, errors.As(err, &cfgErr))
}

func TestLoadConfigRejectsInvalidPlatformEnum(t *testing.T) {
	root := t.TempDir()
	cfgFile := filepath.Join(root, "bungae.config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("platform: nintendo64\n"), 0o644))

	_, _, err := loadConfig(root, "")
	require.Error(t, err)
	var cfgErr *configErrorMarker
	assert.True(t, errors.As(err, &cfgErr))
}

func TestExitCodeForConfigErrorIsTwo(t *testing.T) {
	assert.Equal(t, 2, exitCodeFor(newConfigError(errors.New("bad config"))))
}

func TestExitCodeForOtherErrorIsOne(t *testing.T) {
	assert.Equal(t, 1, exitCodeFor(errors.New("build failed")))
}

func TestResolverConfigFromBungaeUsesDefaultsWhenUnset(t *testing.T) {
	cfg, _, err := loadConfig(t.TempDir(), "")
	require.NoError(t, err)
	rc := resolverConfigFromBungae(cfg)
	assert.Contains(t, rc.SourceExts, "ts")
	assert.Contains(t, rc.Platforms, "ios")
}
