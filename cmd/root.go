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
	"strings"

	"bungae.dev/bungae/internal/config"
	"bungae.dev/bungae/resolver"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bungae",
	Short: "A Metro-compatible bundler for React Native",
	Long: `bungae resolves, transforms, and serializes a React Native project's
module graph into a Metro-compatible bundle, either once (build) or as a
long-running dev server with incremental rebuilds and hot module reload
(serve).`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error surfaced from RunE to the exit codes §6.1
// specifies: 1 for a build error, 2 for a configuration error.
func exitCodeFor(err error) int {
	var cfgErr *configErrorMarker
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

// configErrorMarker lets a subcommand signal a configuration error
// (exit 2) rather than a build error (exit 1) without cmd importing the
// full bungaeerr taxonomy into its error-wrapping chain.
type configErrorMarker struct{ err error }

func (c *configErrorMarker) Error() string { return c.err.Error() }
func (c *configErrorMarker) Unwrap() error { return c.err }

func newConfigError(err error) error { return &configErrorMarker{err: err} }

// expandPath expands a leading ~ and resolves path to an absolute path.
func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			path = home
		} else if strings.HasPrefix(path, "~/") {
			path = filepath.Join(home, path[2:])
		}
	}
	return filepath.Abs(path)
}

// loadConfig resolves projectDirFlag/configPathFlag against cwd, reads
// bungae.config.yaml if present, and deep-merges it over config.Default()
// (§6.6, §9). A missing config file is not an error: the project simply
// runs on defaults.
func loadConfig(projectDirFlag, configPathFlag string) (*config.Config, string, error) {
	root := "."
	if projectDirFlag != "" {
		abs, err := expandPath(projectDirFlag)
		if err != nil {
			return nil, "", newConfigError(err)
		}
		root = abs
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", newConfigError(err)
		}
		root = cwd
	}

	cfgPath := configPathFlag
	if cfgPath == "" {
		cfgPath = filepath.Join(root, "bungae.config.yaml")
	} else {
		abs, err := expandPath(cfgPath)
		if err != nil {
			return nil, "", newConfigError(err)
		}
		cfgPath = abs
	}

	base := config.Default()
	base.Root = root

	if _, err := os.Stat(cfgPath); err != nil {
		return base, cfgPath, nil
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, "", newConfigError(err)
	}

	if err := config.ValidateRaw(v.AllSettings()); err != nil {
		return nil, "", newConfigError(err)
	}

	var user config.Config
	if err := v.Unmarshal(&user); err != nil {
		return nil, "", newConfigError(err)
	}

	return config.Merge(base, &user), cfgPath, nil
}

// resolverConfigFromBungae adapts a loaded Config's Resolver section onto
// resolver.DefaultConfig(), the same merge-over-defaults shape the dev
// server builds in server.New.
func resolverConfigFromBungae(cfg *config.Config) resolver.Config {
	rc := resolver.DefaultConfig()
	if len(cfg.Resolver.SourceExts) > 0 {
		rc.SourceExts = cfg.Resolver.SourceExts
	}
	if len(cfg.Resolver.AssetExts) > 0 {
		rc.AssetExts = cfg.Resolver.AssetExts
	}
	if len(cfg.Resolver.Platforms) > 0 {
		rc.Platforms = cfg.Resolver.Platforms
	}
	rc.NodeModulesPaths = cfg.Resolver.NodeModulesPaths
	rc.PreferNativePlatform = cfg.Resolver.PreferNativePlatform
	rc.ExcludeGlobs = cfg.Resolver.ExcludeGlobs
	return rc
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to bungae.config.yaml (default: <project>/bungae.config.yaml)")
	rootCmd.PersistentFlags().String("project", "", "project root directory (default: current working directory)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging output")
	cobra.OnInitialize(func() {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
		if verbose {
			pterm.EnableDebugMessages()
		}
	})
}
