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

// Package config defines bungae's configuration struct (§6.6) and the
// deep-merge semantics a discovered bungae.config.yaml is combined with
// defaults under (§9: user scalars override, user arrays replace rather
// than append).
package config

// ResolverConfig configures the Module Resolver (C1).
type ResolverConfig struct {
	SourceExts           []string `mapstructure:"sourceExts" yaml:"sourceExts"`
	AssetExts            []string `mapstructure:"assetExts" yaml:"assetExts"`
	Platforms            []string `mapstructure:"platforms" yaml:"platforms"`
	NodeModulesPaths     []string `mapstructure:"nodeModulesPaths" yaml:"nodeModulesPaths"`
	PreferNativePlatform bool     `mapstructure:"preferNativePlatform" yaml:"preferNativePlatform"`
	ExcludeGlobs         []string `mapstructure:"excludeGlobs" yaml:"excludeGlobs"`
}

// SerializerConfig configures the Serializer (C6).
type SerializerConfig struct {
	Polyfills       []string          `mapstructure:"polyfills" yaml:"polyfills"`
	Prelude         string            `mapstructure:"prelude" yaml:"prelude"`
	ExtraVars       map[string]string `mapstructure:"extraVars" yaml:"extraVars"`
	InlineSourceMap bool              `mapstructure:"inlineSourceMap" yaml:"inlineSourceMap"`
	BundleType      string            `mapstructure:"bundleType" yaml:"bundleType"`
}

// ServerConfig configures the dev server's HTTP/WebSocket surface.
type ServerConfig struct {
	Port               int  `mapstructure:"port" yaml:"port"`
	UseGlobalHotkey    bool `mapstructure:"useGlobalHotkey" yaml:"useGlobalHotkey"`
	ForwardClientLogs  bool `mapstructure:"forwardClientLogs" yaml:"forwardClientLogs"`
	VerifyConnections  bool `mapstructure:"verifyConnections" yaml:"verifyConnections"`
}

// Config is the fully specified configuration struct: every field has a
// sensible default from Default(), and a user's bungae.config.yaml is
// deep-merged on top of it by Merge.
type Config struct {
	Entry    string `mapstructure:"entry" yaml:"entry"`
	Platform string `mapstructure:"platform" yaml:"platform"`
	Dev      bool   `mapstructure:"dev" yaml:"dev"`
	Minify   bool   `mapstructure:"minify" yaml:"minify"`
	Root     string `mapstructure:"root" yaml:"root"`

	Resolver   ResolverConfig   `mapstructure:"resolver" yaml:"resolver"`
	Serializer SerializerConfig `mapstructure:"serializer" yaml:"serializer"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
}

// Default returns the built-in defaults every project config is merged
// against.
func Default() *Config {
	return &Config{
		Platform: "ios",
		Dev:      true,
		Root:     ".",
		Resolver: ResolverConfig{
			SourceExts: []string{"js", "jsx", "ts", "tsx", "mjs", "cjs", "json"},
			AssetExts: []string{
				"png", "jpg", "jpeg", "gif", "webp", "svg", "ttf", "otf", "mp4", "mp3", "wav",
			},
			Platforms: []string{"ios", "android"},
		},
		Serializer: SerializerConfig{
			BundleType: "plain",
		},
		Server: ServerConfig{
			Port:              8081,
			ForwardClientLogs: true,
			VerifyConnections: true,
		},
	}
}

// Clone deep-copies c so a caller may pass it down the pipeline and
// mutate its own copy (e.g. per-request serializer overrides) without
// racing the shared default/project config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Resolver.SourceExts = cloneStrings(c.Resolver.SourceExts)
	clone.Resolver.AssetExts = cloneStrings(c.Resolver.AssetExts)
	clone.Resolver.Platforms = cloneStrings(c.Resolver.Platforms)
	clone.Resolver.NodeModulesPaths = cloneStrings(c.Resolver.NodeModulesPaths)
	clone.Resolver.ExcludeGlobs = cloneStrings(c.Resolver.ExcludeGlobs)
	clone.Serializer.Polyfills = cloneStrings(c.Serializer.Polyfills)
	if c.Serializer.ExtraVars != nil {
		clone.Serializer.ExtraVars = make(map[string]string, len(c.Serializer.ExtraVars))
		for k, v := range c.Serializer.ExtraVars {
			clone.Serializer.ExtraVars[k] = v
		}
	}
	return &clone
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Merge deep-merges user on top of base: scalar fields in user that are
// non-zero override base, and any non-nil slice/map field in user
// entirely replaces base's rather than appending to it (§9). base is
// never mutated; Merge returns a new Config.
func Merge(base, user *Config) *Config {
	merged := base.Clone()
	if user == nil {
		return merged
	}

	if user.Entry != "" {
		merged.Entry = user.Entry
	}
	if user.Platform != "" {
		merged.Platform = user.Platform
	}
	if user.Root != "" {
		merged.Root = user.Root
	}
	merged.Dev = mergeBool(base.Dev, user.Dev)
	merged.Minify = mergeBool(base.Minify, user.Minify)

	if user.Resolver.SourceExts != nil {
		merged.Resolver.SourceExts = cloneStrings(user.Resolver.SourceExts)
	}
	if user.Resolver.AssetExts != nil {
		merged.Resolver.AssetExts = cloneStrings(user.Resolver.AssetExts)
	}
	if user.Resolver.Platforms != nil {
		merged.Resolver.Platforms = cloneStrings(user.Resolver.Platforms)
	}
	if user.Resolver.NodeModulesPaths != nil {
		merged.Resolver.NodeModulesPaths = cloneStrings(user.Resolver.NodeModulesPaths)
	}
	if user.Resolver.ExcludeGlobs != nil {
		merged.Resolver.ExcludeGlobs = cloneStrings(user.Resolver.ExcludeGlobs)
	}
	merged.Resolver.PreferNativePlatform = mergeBool(base.Resolver.PreferNativePlatform, user.Resolver.PreferNativePlatform)

	if user.Serializer.Polyfills != nil {
		merged.Serializer.Polyfills = cloneStrings(user.Serializer.Polyfills)
	}
	if user.Serializer.Prelude != "" {
		merged.Serializer.Prelude = user.Serializer.Prelude
	}
	if user.Serializer.ExtraVars != nil {
		merged.Serializer.ExtraVars = make(map[string]string, len(user.Serializer.ExtraVars))
		for k, v := range user.Serializer.ExtraVars {
			merged.Serializer.ExtraVars[k] = v
		}
	}
	if user.Serializer.BundleType != "" {
		merged.Serializer.BundleType = user.Serializer.BundleType
	}
	merged.Serializer.InlineSourceMap = mergeBool(base.Serializer.InlineSourceMap, user.Serializer.InlineSourceMap)

	if user.Server.Port != 0 {
		merged.Server.Port = user.Server.Port
	}
	merged.Server.UseGlobalHotkey = mergeBool(base.Server.UseGlobalHotkey, user.Server.UseGlobalHotkey)
	merged.Server.ForwardClientLogs = mergeBool(base.Server.ForwardClientLogs, user.Server.ForwardClientLogs)
	merged.Server.VerifyConnections = mergeBool(base.Server.VerifyConnections, user.Server.VerifyConnections)

	return merged
}

// mergeBool has no way to distinguish "user explicitly set false" from
// "user left the field unset" once both have been decoded into plain
// bool fields, so a user-set true always overrides; a user-left-false
// field keeps base's value. Config sections whose false has meaningful
// override semantics (e.g. disabling a default-on flag) should be read
// directly from viper.IsSet in the CLI layer rather than through Merge.
func mergeBool(base, user bool) bool {
	return base || user
}
