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
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHasNonEmptyExtLists(t *testing.T) {
	d := Default()
	assert.NotEmpty(t, d.Resolver.SourceExts)
	assert.NotEmpty(t, d.Resolver.AssetExts)
	assert.Contains(t, d.Resolver.SourceExts, "tsx")
}

func TestCloneIsIndependent(t *testing.T) {
	d := Default()
	clone := d.Clone()
	clone.Resolver.SourceExts[0] = "mutated"
	assert.NotEqual(t, d.Resolver.SourceExts[0], clone.Resolver.SourceExts[0])
}

func TestMergeScalarOverride(t *testing.T) {
	base := Default()
	user := &Config{Platform: "android", Entry: "src/index.tsx"}

	merged := Merge(base, user)
	assert.Equal(t, "android", merged.Platform)
	assert.Equal(t, "src/index.tsx", merged.Entry)
	// base untouched
	assert.Equal(t, "ios", base.Platform)
}

func TestMergeArrayReplacesRatherThanAppends(t *testing.T) {
	base := Default()
	user := &Config{Resolver: ResolverConfig{SourceExts: []string{"ts"}}}

	merged := Merge(base, user)
	require.Len(t, merged.Resolver.SourceExts, 1)
	assert.Equal(t, "ts", merged.Resolver.SourceExts[0])
	// base's default list is untouched
	assert.Greater(t, len(base.Resolver.SourceExts), 1)
}

func TestMergeNilUserReturnsBaseClone(t *testing.T) {
	base := Default()
	merged := Merge(base, nil)
	assert.Equal(t, base.Platform, merged.Platform)
	merged.Resolver.SourceExts[0] = "mutated"
	assert.NotEqual(t, base.Resolver.SourceExts[0], merged.Resolver.SourceExts[0])
}

func TestMergeExtraVarsReplacesMap(t *testing.T) {
	base := Default()
	base.Serializer.ExtraVars = map[string]string{"FOO": "1"}
	user := &Config{Serializer: SerializerConfig{ExtraVars: map[string]string{"BAR": "2"}}}

	merged := Merge(base, user)
	assert.Equal(t, map[string]string{"BAR": "2"}, merged.Serializer.ExtraVars)
}

func TestMergePortZeroKeepsBaseDefault(t *testing.T) {
	base := Default()
	user := &Config{}

	merged := Merge(base, user)
	assert.Equal(t, base.Server.Port, merged.Server.Port)
}
